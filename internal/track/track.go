// Package track relocates line references inside mutable documents.
//
// A reference stores the line number it was captured at plus the literal
// line content (anchor text). The line number is a hint, never ground truth:
// after the document has been edited elsewhere, Validate re-derives the true
// location from the anchor. A reference that cannot be located degrades to
// Found=false; it is the caller's job to drop or flag the item, never to
// keep a wrong line number.
package track

import (
	"github.com/kestrelhq/tend/internal/action"
)

// Reference is a logical item anchored to a document line.
type Reference struct {
	Document    string `json:"document"`
	Line        int    `json:"line"` // 1-based hint
	AnchorText  string `json:"anchor_text"`
	LogicalText string `json:"logical_text"`
}

// Result is the outcome of validating a reference against current content.
type Result struct {
	Found bool
	Line  int // corrected 1-based line number, set when Found
}

// New captures a reference to the given 1-based line of a document.
// The logical text is derived from the raw line when it is a checkbox line;
// otherwise the raw line itself serves as the logical text.
func New(document string, line int, raw string) Reference {
	logical, ok := action.LogicalText(raw)
	if !ok {
		logical = raw
	}
	return Reference{
		Document:    document,
		Line:        line,
		AnchorText:  raw,
		LogicalText: logical,
	}
}

// Validate checks whether ref still points at its action in the current
// line sequence and computes the corrected line number if the document
// changed. It never fails: an unlocatable reference reports Found=false.
//
// The stored line number is checked first. A line that differs from the
// anchor only in checkbox status (todo → waiting → done, completion stamp
// appended) still counts as a direct hit, since status characters change
// independently of the tracked action. Otherwise the whole document is
// scanned for the first line whose logical text matches; duplicate action
// text resolves to the first occurrence.
func Validate(ref Reference, lines []string) Result {
	logical := ref.LogicalText
	if logical == "" {
		if l, ok := action.LogicalText(ref.AnchorText); ok {
			logical = l
		} else {
			logical = ref.AnchorText
		}
	}

	if ref.Line >= 1 && ref.Line <= len(lines) {
		if sameAction(lines[ref.Line-1], ref.AnchorText, logical) {
			return Result{Found: true, Line: ref.Line}
		}
	}

	for i, line := range lines {
		if got, ok := action.LogicalText(line); ok && got == logical {
			return Result{Found: true, Line: i + 1}
		}
	}

	return Result{Found: false}
}

// sameAction reports whether a current line still holds the anchored action,
// tolerating checkbox status changes.
func sameAction(current, anchor, logical string) bool {
	if current == anchor {
		return true
	}
	got, ok := action.LogicalText(current)
	return ok && got == logical
}
