// Package mcp exposes the focus store, vault scanning, and protocol
// matching to MCP hosts over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/vault"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"focus_add": {
		def:     focusAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusAdd },
	},
	"focus_list": {
		def:     focusListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusList },
	},
	"focus_complete": {
		def:     focusCompleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusComplete },
	},
	"focus_pin": {
		def:     focusPinToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusPin },
	},
	"focus_reorder": {
		def:     focusReorderToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusReorder },
	},
	"focus_remove": {
		def:     focusRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusRemove },
	},
	"focus_waiting": {
		def:     focusWaitingToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusWaiting },
	},
	"focus_reconcile": {
		def:     focusReconcileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFocusReconcile },
	},
	"actions_scan": {
		def:     actionsScanToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleActionsScan },
	},
	"protocols_list": {
		def:     protocolsListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProtocolsList },
	},
	"protocols_match": {
		def:     protocolsMatchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProtocolsMatch },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Tend tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(store *focus.Store, v *vault.Vault, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tend",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(store, v, cfg)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(store *focus.Store, v *vault.Vault, cfg *config.Config, version string) error {
	s := NewServer(store, v, cfg, version)
	return server.ServeStdio(s)
}
