package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var focusAddToolDef = mcp.NewTool("focus_add",
	mcp.WithDescription("Add an action from a vault document to the focus list. Identify the action by text, by line number, or both."),
	mcp.WithString("document", mcp.Required(), mcp.Description("Document path relative to the vault root, e.g. projects/home.md")),
	mcp.WithString("text", mcp.Description("Action text to match, checkbox syntax and completion stamp excluded")),
	mcp.WithNumber("line", mcp.Description("1-based line number hint")),
	mcp.WithBoolean("general", mcp.Description("Mark the item as a general (non-project) entry")),
)

var focusListToolDef = mcp.NewTool("focus_list",
	mcp.WithDescription("List the focus items in display order: pinned run first, then the rest."),
)

var focusCompleteToolDef = mcp.NewTool("focus_complete",
	mcp.WithDescription("Mark a focus item done. Rewrites the checkbox line in its document and stamps the completion date."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Focus item id")),
)

var focusPinToolDef = mcp.NewTool("focus_pin",
	mcp.WithDescription("Pin or unpin a focus item. Pinning moves it to the end of the pinned run."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Focus item id")),
	mcp.WithBoolean("pinned", mcp.Description("false to unpin; defaults to true")),
)

var focusReorderToolDef = mcp.NewTool("focus_reorder",
	mcp.WithDescription("Move a focus item to a new position (remove then reinsert at the target index)."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Focus item id")),
	mcp.WithNumber("to_index", mcp.Required(), mcp.Description("Target 0-based position; clamped to the list bounds")),
)

var focusRemoveToolDef = mcp.NewTool("focus_remove",
	mcp.WithDescription("Remove a focus item without touching its document."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Focus item id")),
)

var focusWaitingToolDef = mcp.NewTool("focus_waiting",
	mcp.WithDescription("Toggle a focus item between waiting-for and todo, rewriting the checkbox status in its document."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Focus item id")),
	mcp.WithBoolean("waiting", mcp.Description("false to convert back to todo; defaults to true")),
)

var focusReconcileToolDef = mcp.NewTool("focus_reconcile",
	mcp.WithDescription("Re-validate every focus item against the current vault: repair moved lines, drop vanished or externally-completed items, expire items completed before the last midnight."),
)

var actionsScanToolDef = mcp.NewTool("actions_scan",
	mcp.WithDescription("Extract checkbox actions from the vault, or from a single document."),
	mcp.WithString("document", mcp.Description("Scan only this document")),
	mcp.WithString("status", mcp.Description("Filter: todo, waiting, or done")),
)

var protocolsListToolDef = mcp.NewTool("protocols_list",
	mcp.WithDescription("List all review protocols in the vault with their triggers and spheres."),
)

var protocolsMatchToolDef = mcp.NewTool("protocols_match",
	mcp.WithDescription("Return the protocols whose triggers match a point in time."),
	mcp.WithString("at", mcp.Description("RFC 3339 timestamp; defaults to now")),
)
