// Package protocol loads scheduled review protocols from the vault and
// decides which of them apply at a given moment.
package protocol

import (
	"log"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/vault"
)

// Time-of-day buckets. Evening wraps past midnight.
const (
	BucketMorning   = "morning"   // [05:00, 12:00)
	BucketAfternoon = "afternoon" // [12:00, 18:00)
	BucketEvening   = "evening"   // [18:00, 05:00)
)

// Trigger is the scheduling clause of a protocol. Empty fields are
// unconstrained; a protocol with both fields nil-equivalent never triggers
// automatically.
type Trigger struct {
	Day  string `yaml:"day"`  // weekday name, case-insensitive
	Time string `yaml:"time"` // morning | afternoon | evening
}

// Protocol is a review protocol document. Immutable once loaded; Load
// re-reads from the vault on every call.
type Protocol struct {
	Filename string   `json:"filename"`
	Name     string   `json:"name"`
	Content  string   `json:"content"` // body without front matter
	Trigger  *Trigger `json:"trigger,omitempty"`
	Spheres  []string `json:"spheres,omitempty"`
}

// frontMatter is the YAML front-matter shape of a protocol document.
type frontMatter struct {
	Trigger *Trigger `yaml:"trigger"`
	Spheres []string `yaml:"spheres"`
}

// Load reads all protocol documents under the given vault subdirectory.
// Documents with unparseable front matter are skipped with a log line.
func Load(v *vault.Vault, dir string) ([]Protocol, error) {
	docs, err := v.List()
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(dir, "/") + "/"
	var protocols []Protocol
	for _, doc := range docs {
		if !strings.HasPrefix(doc.Name, prefix) {
			continue
		}
		content, err := v.Read(doc.Name)
		if err != nil {
			log.Printf("protocol: skipping %s: %v", doc.Name, err)
			continue
		}
		protocols = append(protocols, Parse(doc.Name, content))
	}
	return protocols, nil
}

// Parse builds a Protocol from a document's content. The display name is the
// first level-1 heading, falling back to the filename stem.
func Parse(filename, content string) Protocol {
	yamlText, body := action.SplitFrontMatter(content)

	var fm frontMatter
	if yamlText != "" {
		if err := yaml.Unmarshal([]byte(yamlText), &fm); err != nil {
			log.Printf("protocol: %s: bad front matter: %v", filename, err)
		}
	}

	name := action.FirstHeading(body)
	if name == "" {
		name = stem(filename)
	}

	// A trigger with no constraints is no trigger at all
	trigger := fm.Trigger
	if trigger != nil && strings.TrimSpace(trigger.Day) == "" && strings.TrimSpace(trigger.Time) == "" {
		trigger = nil
	}

	return Protocol{
		Filename: filename,
		Name:     name,
		Content:  body,
		Trigger:  trigger,
		Spheres:  fm.Spheres,
	}
}

// Match returns the protocols whose every declared trigger field is
// satisfied by now. A protocol with no trigger never matches automatically
// (but stays invocable by name). Output preserves input order.
func Match(protocols []Protocol, now time.Time) []Protocol {
	var matched []Protocol
	for _, p := range protocols {
		if p.Trigger == nil {
			continue
		}
		if day := strings.TrimSpace(p.Trigger.Day); day != "" {
			if !strings.EqualFold(day, now.Weekday().String()) {
				continue
			}
		}
		if bucket := strings.TrimSpace(p.Trigger.Time); bucket != "" {
			if !bucketContains(bucket, now.Hour()) {
				continue
			}
		}
		matched = append(matched, p)
	}
	return matched
}

// bucketContains reports whether the hour falls in the named bucket.
// Evening wraps past midnight, so it cannot be a naive range check.
func bucketContains(bucket string, hour int) bool {
	switch strings.ToLower(bucket) {
	case BucketMorning:
		return hour >= 5 && hour < 12
	case BucketAfternoon:
		return hour >= 12 && hour < 18
	case BucketEvening:
		return hour >= 18 || hour < 5
	default:
		return false
	}
}

// MatchInvocation finds the first protocol invoked by a natural-language
// message ("run the weekly review", "weekly review", a protocol name or its
// filename stem). Returns nil when the text invokes nothing.
func MatchInvocation(text string, protocols []Protocol) *Protocol {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}
	for i := range protocols {
		for _, candidate := range []string{protocols[i].Name, stem(protocols[i].Filename)} {
			candidate = strings.ToLower(strings.TrimSpace(candidate))
			if len(candidate) < 3 {
				continue
			}
			if strings.Contains(needle, candidate) {
				return &protocols[i]
			}
		}
	}
	return nil
}

// stem returns the filename without directory or extension.
func stem(filename string) string {
	base := path.Base(filename)
	return strings.TrimSuffix(base, path.Ext(base))
}
