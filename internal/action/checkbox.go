// Package action implements the checkbox line grammar Tend depends on and
// scanning of vault documents for actionable items.
//
// A checkbox line matches `^[-*]\s*\[( |w|x)\]\s+(.+)$` with a
// case-insensitive status letter: " " = todo, "w" = waiting, "x" = done.
package action

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the checkbox state of an action line.
type Status string

const (
	StatusTodo    Status = " "
	StatusWaiting Status = "w"
	StatusDone    Status = "x"
)

// linePattern captures bullet, status letter, and payload of a checkbox line.
var linePattern = regexp.MustCompile(`^([-*])\s*\[( |[wWxX])\]\s+(.+)$`)

// stampPattern matches a trailing completion stamp: a symbol marker followed
// by an ISO date, e.g. " ✅ 2025-01-01". Stripped when deriving the logical
// text so a completed line still matches its original action. The marker must
// be Unicode symbol characters, so ordinary punctuation before a date
// ("re: 2025-01-01") is not mistaken for a stamp.
var stampPattern = regexp.MustCompile(`\s+[\p{S}\p{M}]+\s+\d{4}-\d{2}-\d{2}\s*$`)

// Item is a parsed checkbox line.
type Item struct {
	Bullet string // "-" or "*"
	Status Status
	Text   string // payload after the checkbox, untrimmed of stamps
}

// ParseLine parses a checkbox line. ok is false for any other line shape.
func ParseLine(line string) (Item, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Item{}, false
	}
	return Item{
		Bullet: m[1],
		Status: Status(strings.ToLower(m[2])),
		Text:   m[3],
	}, true
}

// IsCheckbox reports whether the line is a checkbox line of any status.
func IsCheckbox(line string) bool {
	_, ok := ParseLine(line)
	return ok
}

// LogicalText returns the action payload with any trailing completion stamp
// removed, or ok=false for a non-checkbox line. Two lines with equal logical
// text describe the same action regardless of checkbox status.
func LogicalText(line string) (string, bool) {
	item, ok := ParseLine(line)
	if !ok {
		return "", false
	}
	return StripStamp(item.Text), true
}

// StripStamp removes a trailing completion stamp from action text.
func StripStamp(text string) string {
	return strings.TrimSpace(stampPattern.ReplaceAllString(text, ""))
}

// Format renders the item back to a checkbox line.
func (i Item) Format() string {
	return fmt.Sprintf("%s [%s] %s", i.Bullet, i.Status, i.Text)
}

// SetStatus rewrites the status marker of a checkbox line, preserving the
// rest of the line. ok is false if the line is not a checkbox line.
func SetStatus(line string, status Status) (string, bool) {
	item, ok := ParseLine(line)
	if !ok {
		return line, false
	}
	item.Status = status
	return item.Format(), true
}

// Complete rewrites a checkbox line to its done form: status set to "x" and
// `<marker> YYYY-MM-DD` appended. Already-stamped lines are not stamped
// twice.
func Complete(line, marker string, on time.Time) (string, bool) {
	item, ok := ParseLine(line)
	if !ok {
		return line, false
	}
	item.Status = StatusDone
	if !stampPattern.MatchString(item.Text) {
		item.Text = fmt.Sprintf("%s %s %s", strings.TrimRight(item.Text, " \t"), marker, on.Format("2006-01-02"))
	}
	return item.Format(), true
}
