package action

import (
	"log"

	"gopkg.in/yaml.v3"

	"github.com/kestrelhq/tend/internal/vault"
)

// Ref is an actionable line found in a vault document.
type Ref struct {
	Document string `json:"document"`
	Line     int    `json:"line"` // 1-based
	Raw      string `json:"raw"`  // exact line content (the anchor text)
	Status   Status `json:"status"`
	Text     string `json:"text"`   // logical action text, stamp stripped
	Sphere   string `json:"sphere"` // document's sphere tag, may be ""
}

// docMeta is the front-matter shape Tend reads from ordinary documents.
type docMeta struct {
	Sphere string `yaml:"sphere"`
}

// ScanDocument extracts all checkbox lines from a document. Line numbers
// refer to the full content including any front matter.
func ScanDocument(name, content string) []Ref {
	yamlText, _ := SplitFrontMatter(content)
	var meta docMeta
	if yamlText != "" {
		if err := yaml.Unmarshal([]byte(yamlText), &meta); err != nil {
			// Malformed front matter doesn't disqualify the actions below it
			log.Printf("scan: %s: bad front matter: %v", name, err)
		}
	}

	var refs []Ref
	for i, line := range vault.SplitLines(content) {
		item, ok := ParseLine(line)
		if !ok {
			continue
		}
		refs = append(refs, Ref{
			Document: name,
			Line:     i + 1,
			Raw:      line,
			Status:   item.Status,
			Text:     StripStamp(item.Text),
			Sphere:   meta.Sphere,
		})
	}
	return refs
}

// ScanVault extracts checkbox lines from every document in the vault, in
// document order. Unreadable documents are skipped with a log line rather
// than failing the whole scan.
func ScanVault(v *vault.Vault) ([]Ref, error) {
	docs, err := v.List()
	if err != nil {
		return nil, err
	}

	var refs []Ref
	for _, doc := range docs {
		content, err := v.Read(doc.Name)
		if err != nil {
			log.Printf("scan: skipping %s: %v", doc.Name, err)
			continue
		}
		refs = append(refs, ScanDocument(doc.Name, content)...)
	}
	return refs, nil
}

// Open returns only the refs that still need attention (todo or waiting).
func Open(refs []Ref) []Ref {
	var open []Ref
	for _, r := range refs {
		if r.Status != StatusDone {
			open = append(open, r)
		}
	}
	return open
}

// Waiting returns only the waiting-for refs.
func Waiting(refs []Ref) []Ref {
	var waiting []Ref
	for _, r := range refs {
		if r.Status == StatusWaiting {
			waiting = append(waiting, r)
		}
	}
	return waiting
}
