package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/protocol"
	"github.com/kestrelhq/tend/internal/vault"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store *focus.Store
	vault *vault.Vault
	cfg   *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *focus.Store, v *vault.Vault, cfg *config.Config) *Handlers {
	return &Handlers{store: store, vault: v, cfg: cfg}
}

// Request types for each tool

// FocusAddRequest represents the arguments for focus_add.
type FocusAddRequest struct {
	Document string `json:"document"`
	Text     string `json:"text,omitempty"`
	Line     int    `json:"line,omitempty"`
	General  bool   `json:"general,omitempty"`
}

// FocusIDRequest identifies one focus item.
type FocusIDRequest struct {
	ID string `json:"id"`
}

// FocusPinRequest represents the arguments for focus_pin.
type FocusPinRequest struct {
	ID     string `json:"id"`
	Pinned *bool  `json:"pinned,omitempty"`
}

// FocusReorderRequest represents the arguments for focus_reorder.
type FocusReorderRequest struct {
	ID      string `json:"id"`
	ToIndex int    `json:"to_index"`
}

// FocusWaitingRequest represents the arguments for focus_waiting.
type FocusWaitingRequest struct {
	ID      string `json:"id"`
	Waiting *bool  `json:"waiting,omitempty"`
}

// ActionsScanRequest represents the arguments for actions_scan.
type ActionsScanRequest struct {
	Document string `json:"document,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ProtocolsMatchRequest represents the arguments for protocols_match.
type ProtocolsMatchRequest struct {
	At string `json:"at,omitempty"`
}

// decode round-trips the request's argument map through JSON into the
// handler's typed request struct, so each handler validates fields on a
// struct instead of asserting on map entries.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, fmt.Errorf("encode tool arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode tool arguments: %w", err)
	}
	return out, nil
}

// Handler implementations

// HandleFocusAdd handles the focus_add tool call.
func (h *Handlers) HandleFocusAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FocusAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Text == "" && input.Line == 0 {
		return errorResult(errors.NewInvalidRequest("one of text or line is required")), nil
	}

	ref, err := h.findRef(input.Document, input.Text, input.Line)
	if err != nil {
		return errorResult(err), nil
	}

	item, err := h.store.Add(ref, input.General)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(item)
}

// HandleFocusList handles the focus_list tool call.
func (h *Handlers) HandleFocusList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{"items": h.store.Items()})
}

// HandleFocusComplete handles the focus_complete tool call.
func (h *Handlers) HandleFocusComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FocusIDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := h.store.MarkComplete(input.ID); err != nil {
		return errorResult(err), nil
	}
	return h.itemResult(input.ID)
}

// HandleFocusPin handles the focus_pin tool call.
func (h *Handlers) HandleFocusPin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FocusPinRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	pin := input.Pinned == nil || *input.Pinned
	if pin {
		err = h.store.Pin(input.ID)
	} else {
		err = h.store.Unpin(input.ID)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return h.itemResult(input.ID)
}

// HandleFocusReorder handles the focus_reorder tool call.
func (h *Handlers) HandleFocusReorder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FocusReorderRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := h.store.Reorder(input.ID, input.ToIndex); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": h.store.Items()})
}

// HandleFocusRemove handles the focus_remove tool call.
func (h *Handlers) HandleFocusRemove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FocusIDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := h.store.Remove(input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"removed": input.ID})
}

// HandleFocusWaiting handles the focus_waiting tool call.
func (h *Handlers) HandleFocusWaiting(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FocusWaitingRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	waiting := input.Waiting == nil || *input.Waiting
	if waiting {
		err = h.store.ConvertToWaiting(input.ID)
	} else {
		err = h.store.ConvertToTodo(input.ID)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return h.itemResult(input.ID)
}

// HandleFocusReconcile handles the focus_reconcile tool call.
func (h *Handlers) HandleFocusReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.store.Reconcile()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleActionsScan handles the actions_scan tool call.
func (h *Handlers) HandleActionsScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ActionsScanRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var refs []action.Ref
	if input.Document != "" {
		content, err := h.vault.Read(input.Document)
		if err != nil {
			return errorResult(err), nil
		}
		refs = action.ScanDocument(input.Document, content)
	} else {
		refs, err = action.ScanVault(h.vault)
		if err != nil {
			return errorResult(err), nil
		}
	}

	switch strings.ToLower(input.Status) {
	case "":
	case "todo":
		refs = filterRefs(refs, action.StatusTodo)
	case "waiting":
		refs = filterRefs(refs, action.StatusWaiting)
	case "done":
		refs = filterRefs(refs, action.StatusDone)
	default:
		return errorResult(errors.NewInvalidRequest("status must be todo, waiting, or done")), nil
	}

	return successResult(map[string]any{"actions": refs})
}

// HandleProtocolsList handles the protocols_list tool call.
func (h *Handlers) HandleProtocolsList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	protocols, err := protocol.Load(h.vault, h.cfg.ProtocolsDir)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"protocols": protocols})
}

// HandleProtocolsMatch handles the protocols_match tool call.
func (h *Handlers) HandleProtocolsMatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProtocolsMatchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	at := time.Now()
	if input.At != "" {
		at, err = time.Parse(time.RFC3339, input.At)
		if err != nil {
			return errorResult(errors.NewInvalidRequest("at must be RFC 3339")), nil
		}
	}

	protocols, err := protocol.Load(h.vault, h.cfg.ProtocolsDir)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"protocols": protocol.Match(protocols, at)})
}

// findRef locates one checkbox line, by line number, by text, or both.
func (h *Handlers) findRef(document, text string, line int) (action.Ref, error) {
	content, err := h.vault.Read(document)
	if err != nil {
		return action.Ref{}, err
	}
	refs := action.ScanDocument(document, content)
	for _, ref := range refs {
		if line != 0 && ref.Line != line {
			continue
		}
		if text != "" && !strings.EqualFold(ref.Text, text) {
			continue
		}
		return ref, nil
	}
	return action.Ref{}, errors.NewNotFound("action in " + document)
}

func (h *Handlers) itemResult(id string) (*mcp.CallToolResult, error) {
	item, err := h.store.Get(id)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(item)
}

func filterRefs(refs []action.Ref, status action.Status) []action.Ref {
	out := make([]action.Ref, 0, len(refs))
	for _, ref := range refs {
		if ref.Status == status {
			out = append(out, ref)
		}
	}
	return out
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if tendErr, ok := err.(*errors.TendError); ok {
		errorObj := map[string]any{
			"code":    tendErr.Code,
			"message": tendErr.Message,
			"status":  tendErr.Status,
		}
		if tendErr.Code != errors.ErrInternal && tendErr.Details != nil {
			errorObj["details"] = tendErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
