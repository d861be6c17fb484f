package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/coach"
	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/db"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/vault"
)

func setupServer(t *testing.T) (*Server, *vault.Vault, *focus.Store) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	v, err := vault.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open vault: %v", err)
	}

	cfg := config.DefaultConfig()
	store, err := focus.NewStore(database, v, cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	co, err := coach.New(database, v, store, cfg, nil)
	if err != nil {
		t.Fatalf("failed to create coach: %v", err)
	}

	return NewServer(store, v, cfg, co), v, store
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRootRedirectsToFocus(t *testing.T) {
	srv, _, _ := setupServer(t)
	rec := get(t, srv, "/")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	if loc := rec.Header().Get("Location"); loc != "/focus" {
		t.Errorf("redirect to %q, want /focus", loc)
	}
}

func TestFocusPageShowsItems(t *testing.T) {
	srv, v, store := setupServer(t)
	if err := v.Write("inbox.md", "- [ ] Buy milk\n"); err != nil {
		t.Fatal(err)
	}
	refs := action.ScanDocument("inbox.md", "- [ ] Buy milk\n")
	if _, err := store.Add(refs[0], false); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv, "/focus")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Buy milk") {
		t.Error("focus page does not show the item")
	}
}

func TestDocumentPageRendersMarkdown(t *testing.T) {
	srv, v, _ := setupServer(t)
	if err := v.Write("projects/home.md", "# Home\n\n- [ ] Fix the gate\n"); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv, "/documents/projects/home.md")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>Home</h1>") {
		t.Error("markdown heading not rendered")
	}
	if !strings.Contains(body, "Fix the gate") {
		t.Error("action list missing")
	}
}

func TestMissingDocumentIs404(t *testing.T) {
	srv, _, _ := setupServer(t)
	rec := get(t, srv, "/documents/nope.md")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestConversationPage(t *testing.T) {
	srv, _, _ := setupServer(t)
	rec := get(t, srv, "/conversations")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No conversations yet") {
		t.Error("empty state missing")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _, _ := setupServer(t)
	rec := get(t, srv, "/focus")
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options not set")
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("Content-Security-Policy not set")
	}
}
