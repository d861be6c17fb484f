package web

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/coach"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/vault"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title string
	Nav   string // active nav item: "focus", "documents", "conversations"
}

// FocusPageData is the template data for the focus list page.
type FocusPageData struct {
	PageData
	Pinned []focus.Item
	Rest   []focus.Item
}

// DocumentsPageData is the template data for the document index.
type DocumentsPageData struct {
	PageData
	Documents []vault.Document
}

// DocumentPageData is the template data for a rendered document.
type DocumentPageData struct {
	PageData
	Name         string
	RenderedHTML template.HTML
	Actions      []action.Ref
}

// ConversationsPageData is the template data for the conversation index.
type ConversationsPageData struct {
	PageData
	Conversations []coach.Conversation
	ActiveID      string
}

// ConversationPageData is the template data for one conversation.
type ConversationPageData struct {
	PageData
	Conversation coach.Conversation
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS) *Renderer {
	funcMap := template.FuncMap{
		"formatTime": formatTime,
		"markdown":   renderMarkdown,
		"statusWord": statusWord,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"focus":         "focus.html",
		"documents":     "documents.html",
		"document":      "document.html",
		"conversations": "conversations.html",
		"conversation":  "conversation.html",
		"error":         "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{templates: templates}
}

// renderPage renders a named page template with HTTP 200.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders the error page with the error's HTTP status.
func (r *Renderer) renderError(w http.ResponseWriter, err error) {
	var tErr *errors.TendError
	if !stderrors.As(err, &tErr) {
		tErr = errors.NewInternal(err)
	}
	r.renderPageStatus(w, tErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title: fmt.Sprintf("Error %d", tErr.Status),
		},
		StatusCode: tErr.Status,
		Message:    tErr.Message,
	})
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a timestamp as "2006-01-02 15:04". Accepts both
// time.Time and *time.Time since templates mix the two.
func formatTime(v any) string {
	var t time.Time
	switch tv := v.(type) {
	case time.Time:
		t = tv
	case *time.Time:
		if tv == nil {
			return ""
		}
		t = *tv
	default:
		return ""
	}
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

// statusWord maps a checkbox status to its display word.
func statusWord(s action.Status) string {
	switch s {
	case action.StatusWaiting:
		return "waiting"
	case action.StatusDone:
		return "done"
	default:
		return "todo"
	}
}
