package web

import (
	"net/http"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/coach"
	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/vault"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	store    *focus.Store
	vault    *vault.Vault
	cfg      *config.Config
	coach    *coach.Coach
	renderer *Renderer
}

// HandleFocus handles GET /focus — the focus list, pinned run first.
func (h *Handlers) HandleFocus(w http.ResponseWriter, r *http.Request) {
	var pinned, rest []focus.Item
	for _, item := range h.store.Items() {
		if item.Pinned {
			pinned = append(pinned, item)
		} else {
			rest = append(rest, item)
		}
	}

	h.renderer.renderPage(w, "focus", FocusPageData{
		PageData: PageData{
			Title: "Focus",
			Nav:   "focus",
		},
		Pinned: pinned,
		Rest:   rest,
	})
}

// HandleDocuments handles GET /documents — the vault document index.
func (h *Handlers) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.vault.List()
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}

	h.renderer.renderPage(w, "documents", DocumentsPageData{
		PageData: PageData{
			Title: "Documents",
			Nav:   "documents",
		},
		Documents: docs,
	})
}

// HandleDocument handles GET /documents/{name...} — one rendered document.
func (h *Handlers) HandleDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		h.renderer.renderError(w, errors.NewInvalidRequest("document name is required"))
		return
	}

	content, err := h.vault.Read(name)
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}

	h.renderer.renderPage(w, "document", DocumentPageData{
		PageData: PageData{
			Title: name,
			Nav:   "documents",
		},
		Name:         name,
		RenderedHTML: renderMarkdown(content),
		Actions:      action.ScanDocument(name, content),
	})
}

// HandleConversations handles GET /conversations — the conversation index.
func (h *Handlers) HandleConversations(w http.ResponseWriter, r *http.Request) {
	activeID := ""
	if active, ok := h.coach.ActiveConversation(); ok {
		activeID = active.ID
	}

	h.renderer.renderPage(w, "conversations", ConversationsPageData{
		PageData: PageData{
			Title: "Conversations",
			Nav:   "conversations",
		},
		Conversations: h.coach.Conversations(),
		ActiveID:      activeID,
	})
}

// HandleConversation handles GET /conversations/{id} — one conversation with
// its approval blocks and cards.
func (h *Handlers) HandleConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.coach.Get(r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, err)
		return
	}

	h.renderer.renderPage(w, "conversation", ConversationPageData{
		PageData: PageData{
			Title: conv.Title,
			Nav:   "conversations",
		},
		Conversation: conv,
	})
}
