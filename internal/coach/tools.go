package coach

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/llm"
)

// toolKind partitions tool calls by consequence. Display tools only render,
// system tools adjust the orchestration itself, action tools mutate the
// user's documents and always wait for human approval.
type toolKind int

const (
	toolKindDisplay toolKind = iota
	toolKindSystem
	toolKindAction
)

// toolPayload is the decoded input of one tool call. Each tool carries its
// own struct; dispatch is an exhaustive type switch, never a string compare
// against loosely-typed maps.
type toolPayload interface {
	kind() toolKind
}

type showProjectCard struct {
	Document string `json:"document"`
}

type showFocusCard struct{}

type setReviewScope struct {
	Spheres  []string `json:"spheres"`
	Statuses []string `json:"statuses"`
}

type moveToFocus struct {
	Document string `json:"document"`
	Text     string `json:"text"`
	Line     int    `json:"line"`
}

type completeAction struct {
	Document string `json:"document"`
	Text     string `json:"text"`
}

type setWaiting struct {
	Document string `json:"document"`
	Text     string `json:"text"`
}

func (showProjectCard) kind() toolKind { return toolKindDisplay }
func (showFocusCard) kind() toolKind   { return toolKindDisplay }
func (setReviewScope) kind() toolKind  { return toolKindSystem }
func (moveToFocus) kind() toolKind     { return toolKindAction }
func (completeAction) kind() toolKind  { return toolKindAction }
func (setWaiting) kind() toolKind      { return toolKindAction }

// decodeToolCall maps a wire tool call onto its typed payload. Unknown names
// and malformed inputs degrade to an error the caller serializes into a
// result string for the model.
func decodeToolCall(call llm.ToolCall) (toolPayload, error) {
	unmarshal := func(dst any) error {
		if len(call.Input) == 0 {
			return nil
		}
		return json.Unmarshal(call.Input, dst)
	}
	var payload toolPayload
	var err error
	switch call.Name {
	case "show_project_card":
		var p showProjectCard
		err = unmarshal(&p)
		payload = p
	case "show_focus_card":
		var p showFocusCard
		err = unmarshal(&p)
		payload = p
	case "set_review_scope":
		var p setReviewScope
		err = unmarshal(&p)
		payload = p
	case "move_to_focus":
		var p moveToFocus
		err = unmarshal(&p)
		payload = p
	case "complete_action":
		var p completeAction
		err = unmarshal(&p)
		payload = p
	case "set_waiting":
		var p setWaiting
		err = unmarshal(&p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("bad input for %s: %w", call.Name, err)
	}
	return payload, nil
}

// toolSchema declares every tool to the model.
func toolSchema() []llm.ToolDefinition {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	obj := func(props map[string]any, required ...string) map[string]any {
		s := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			s["required"] = required
		}
		return s
	}
	return []llm.ToolDefinition{
		{
			Name:        "show_project_card",
			Description: "Show the user a card with the open actions of one document.",
			InputSchema: obj(map[string]any{"document": str("Document name, e.g. projects/home.md")}, "document"),
		},
		{
			Name:        "show_focus_card",
			Description: "Show the user their current focus list.",
			InputSchema: obj(map[string]any{}),
		},
		{
			Name:        "set_review_scope",
			Description: "Narrow this review to specific spheres and checkbox statuses.",
			InputSchema: obj(map[string]any{
				"spheres":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"statuses": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}),
		},
		{
			Name:        "move_to_focus",
			Description: "Add an action from a document to the user's focus list. Requires approval.",
			InputSchema: obj(map[string]any{
				"document": str("Document the action lives in"),
				"text":     str("The action text, without checkbox syntax"),
				"line":     map[string]any{"type": "integer", "description": "1-based line number, if known"},
			}, "document", "text"),
		},
		{
			Name:        "complete_action",
			Description: "Mark an action as done in its document. Requires approval.",
			InputSchema: obj(map[string]any{
				"document": str("Document the action lives in"),
				"text":     str("The action text"),
			}, "document", "text"),
		},
		{
			Name:        "set_waiting",
			Description: "Mark an action as waiting-for in its document. Requires approval.",
			InputSchema: obj(map[string]any{
				"document": str("Document the action lives in"),
				"text":     str("The action text"),
			}, "document", "text"),
		},
	}
}

// runImmediateTool executes a display or system tool. Failures are logged
// and folded into the result string, never surfaced as user-facing errors.
func (c *Coach) runImmediateTool(conv *Conversation, payload toolPayload) string {
	switch p := payload.(type) {
	case showProjectCard:
		card, err := c.projectCard(p.Document)
		if err != nil {
			log.Printf("coach: show_project_card %s: %v", p.Document, err)
			return "could not render " + p.Document + ": " + err.Error()
		}
		c.mu.Lock()
		conv.Cards = append(conv.Cards, card)
		c.mu.Unlock()
		return "showed card for " + p.Document

	case showFocusCard:
		card := c.focusCard()
		c.mu.Lock()
		conv.Cards = append(conv.Cards, card)
		c.mu.Unlock()
		return "showed the focus list"

	case setReviewScope:
		c.mu.Lock()
		conv.SystemPrompt = rescopePrompt(conv.SystemPrompt, p)
		c.mu.Unlock()
		return "review scope set"

	default:
		// Action payloads never reach here; triage routes them to approval.
		return "not an immediate tool"
	}
}

// projectCard renders one document's open actions.
func (c *Coach) projectCard(document string) (DisplayCard, error) {
	content, err := c.vault.Read(document)
	if err != nil {
		return DisplayCard{}, err
	}
	var lines []string
	for _, ref := range action.Open(action.ScanDocument(document, content)) {
		lines = append(lines, "- "+ref.Text)
	}
	if lines == nil {
		lines = []string{"(no open actions)"}
	}
	return DisplayCard{
		Kind:  "project",
		Title: document,
		Body:  strings.Join(lines, "\n"),
	}, nil
}

// focusCard renders the current focus list.
func (c *Coach) focusCard() DisplayCard {
	var lines []string
	for _, item := range c.focus.Items() {
		marker := "[ ]"
		switch {
		case item.CompletedAt != nil:
			marker = "[x]"
		case item.Status == action.StatusWaiting:
			marker = "[w]"
		}
		lines = append(lines, "- "+marker+" "+item.Ref.LogicalText)
	}
	if lines == nil {
		lines = []string{"(focus is empty)"}
	}
	return DisplayCard{Kind: "focus", Title: "Focus", Body: strings.Join(lines, "\n")}
}

// rescopePrompt replaces any previous scope clause with the new one.
const scopeMarker = "\n\n## Review scope\n"

func rescopePrompt(prompt string, scope setReviewScope) string {
	if i := strings.Index(prompt, scopeMarker); i >= 0 {
		prompt = prompt[:i]
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString(scopeMarker)
	if len(scope.Spheres) > 0 {
		b.WriteString("Limit this review to spheres: " + strings.Join(scope.Spheres, ", ") + ".\n")
	}
	if len(scope.Statuses) > 0 {
		b.WriteString("Only consider actions with status: " + strings.Join(scope.Statuses, ", ") + ".\n")
	}
	return b.String()
}

// executeActionTool applies an approved action tool against the vault and
// focus store. Called with a decision already recorded; the caller turns any
// error into the block's error state.
func (c *Coach) executeActionTool(payload toolPayload) (string, error) {
	switch p := payload.(type) {
	case moveToFocus:
		ref, err := c.locateRef(p.Document, p.Text, p.Line)
		if err != nil {
			return "", err
		}
		item, err := c.focus.Add(ref, false)
		if err != nil {
			return "", err
		}
		return "added to focus: " + item.Ref.LogicalText, nil

	case completeAction:
		if id, ok := c.focusItemFor(p.Document, p.Text); ok {
			if err := c.focus.MarkComplete(id); err != nil {
				return "", err
			}
			return "completed: " + p.Text, nil
		}
		if err := c.rewriteAction(p.Document, p.Text, action.StatusDone); err != nil {
			return "", err
		}
		return "completed: " + p.Text, nil

	case setWaiting:
		if id, ok := c.focusItemFor(p.Document, p.Text); ok {
			if err := c.focus.ConvertToWaiting(id); err != nil {
				return "", err
			}
			return "now waiting: " + p.Text, nil
		}
		if err := c.rewriteAction(p.Document, p.Text, action.StatusWaiting); err != nil {
			return "", err
		}
		return "now waiting: " + p.Text, nil

	default:
		return "", errors.NewInvalidRequest("not an action tool")
	}
}

// locateRef finds the checkbox line a tool call refers to. The line number
// is a hint; the text decides.
func (c *Coach) locateRef(document, text string, line int) (action.Ref, error) {
	content, err := c.vault.Read(document)
	if err != nil {
		return action.Ref{}, err
	}
	refs := action.ScanDocument(document, content)
	for _, ref := range refs {
		if ref.Line == line && strings.EqualFold(ref.Text, text) {
			return ref, nil
		}
	}
	for _, ref := range refs {
		if strings.EqualFold(ref.Text, text) {
			return ref, nil
		}
	}
	return action.Ref{}, errors.NewNotFound("action " + text + " in " + document)
}

// focusItemFor finds a focus item by document and logical text.
func (c *Coach) focusItemFor(document, text string) (string, bool) {
	for _, item := range c.focus.Items() {
		if item.Ref.Document == document && strings.EqualFold(item.Ref.LogicalText, text) {
			return item.ID, true
		}
	}
	return "", false
}

// rewriteAction flips a checkbox line's status directly in the document for
// actions not tracked in focus.
func (c *Coach) rewriteAction(document, text string, status action.Status) error {
	ref, err := c.locateRef(document, text, 0)
	if err != nil {
		return err
	}
	var updated string
	var ok bool
	if status == action.StatusDone {
		updated, ok = action.Complete(ref.Raw, c.cfg.CompletionMarker, c.now())
	} else {
		updated, ok = action.SetStatus(ref.Raw, status)
	}
	if !ok {
		return errors.NewInternal(fmt.Errorf("line %d of %s is not a checkbox", ref.Line, document))
	}
	return c.vault.ReplaceLine(document, ref.Line, ref.Raw, updated)
}
