package focus

import (
	"sync"
	"testing"
	"time"

	"github.com/kestrelhq/tend/internal/action"
)

func TestReconcileRepairsMovedLines(t *testing.T) {
	s, v := newStore(t)
	if err := v.Write("inbox.md", "- [ ] Buy milk\n"); err != nil {
		t.Fatal(err)
	}
	item := mustAdd(t, s, v, "inbox.md")

	// Insert two lines above the action
	if err := v.Write("inbox.md", "# Inbox\n\n- [ ] Buy milk\n"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Repaired != 1 || res.Dropped != 0 {
		t.Errorf("result = %+v", res)
	}

	got, _ := s.Get(item.ID)
	if got.Ref.Line != 3 {
		t.Errorf("line = %d, want 3", got.Ref.Line)
	}
}

func TestReconcileDropsVanishedActions(t *testing.T) {
	s, v := newStore(t)
	if err := v.Write("inbox.md", "- [ ] Buy milk\n"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, s, v, "inbox.md")

	if err := v.Write("inbox.md", "all gone\n"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Dropped != 1 || len(s.Items()) != 0 {
		t.Errorf("result = %+v, items = %d", res, len(s.Items()))
	}
}

func TestReconcileTreatsDocumentCompletionAsCompleted(t *testing.T) {
	s, v := newStore(t)
	if err := v.Write("inbox.md", "- [ ] Buy milk\n"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, s, v, "inbox.md")

	// The user completes the line directly in the document; the document,
	// not the focus store, is authoritative for completion.
	if err := v.Write("inbox.md", "- [x] Buy milk ✅ 2025-01-01\n"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Dropped != 1 {
		t.Errorf("result = %+v, want the item recognized as completed and dropped", res)
	}
	if len(s.Items()) != 0 {
		t.Errorf("items = %d, want 0", len(s.Items()))
	}
}

func TestReconcileKeepsStatusChanges(t *testing.T) {
	s, v := newStore(t)
	if err := v.Write("inbox.md", "- [ ] Hear from Sam\n"); err != nil {
		t.Fatal(err)
	}
	item := mustAdd(t, s, v, "inbox.md")

	// todo → waiting by direct edit is a status change, not staleness
	if err := v.Write("inbox.md", "- [w] Hear from Sam\n"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Dropped != 0 || res.Repaired != 1 {
		t.Errorf("result = %+v", res)
	}
	got, _ := s.Get(item.ID)
	if got.Status != action.StatusWaiting {
		t.Errorf("status = %q, want w", got.Status)
	}
	if got.Ref.AnchorText != "- [w] Hear from Sam" {
		t.Errorf("anchor = %q", got.Ref.AnchorText)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	s, v := newStore(t)
	if err := v.Write("a.md", "- [ ] keep\n- [x] done\n"); err != nil {
		t.Fatal(err)
	}
	if err := v.Write("b.md", "- [w] waiting\n"); err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{"a.md", "b.md"} {
		refs := action.ScanDocument(ref, mustRead(t, v, ref))
		for _, r := range refs {
			if _, err := s.Add(r, false); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
		}
	}

	if _, err := s.Reconcile(); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}
	first := s.Items()

	res, err := s.Reconcile()
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if res.Dropped != 0 || res.Repaired != 0 || res.Expired != 0 {
		t.Errorf("second pass changed something: %+v", res)
	}

	second := s.Items()
	if len(first) != len(second) {
		t.Fatalf("item count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Ref != second[i].Ref {
			t.Errorf("item %d changed: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestReconcileExpiresCompletedBeforeMidnight(t *testing.T) {
	s, v := newStore(t)
	if err := v.Write("inbox.md", "- [ ] Old task\n- [ ] New task\n"); err != nil {
		t.Fatal(err)
	}
	refs := action.ScanDocument("inbox.md", mustRead(t, v, "inbox.md"))

	// Complete the first item "yesterday"
	yesterday := time.Now().AddDate(0, 0, -1)
	s.now = func() time.Time { return yesterday }
	old, err := s.Add(refs[0], false)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.MarkComplete(old.ID); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	// Complete the second item "today"
	s.now = time.Now
	fresh, err := s.Add(refs[1], false)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.MarkComplete(fresh.ID); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	res, err := s.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if res.Expired != 1 {
		t.Errorf("Expired = %d, want 1", res.Expired)
	}

	items := s.Items()
	if len(items) != 1 || items[0].ID != fresh.ID {
		t.Errorf("items = %+v, want only today's completion", items)
	}
}

func TestReconcileCoalescesConcurrentPasses(t *testing.T) {
	s, v := newStore(t)
	if err := v.Write("inbox.md", "- [ ] Buy milk\n"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, s, v, "inbox.md")

	// The clock is read once per pass, after the in-flight flag is set;
	// blocking there holds the first pass open mid-flight.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.now = func() time.Time {
		once.Do(func() { close(entered) })
		<-release
		return time.Now()
	}

	done := make(chan ReconcileResult, 1)
	go func() {
		res, err := s.Reconcile()
		if err != nil {
			t.Errorf("Reconcile failed: %v", err)
		}
		done <- res
	}()

	<-entered
	second, err := s.Reconcile()
	if err != nil {
		t.Fatalf("concurrent Reconcile failed: %v", err)
	}
	if !second.Coalesced {
		t.Error("pass entered mid-flight should report Coalesced")
	}
	if second.Checked != 0 {
		t.Errorf("coalesced pass checked %d items, want 0", second.Checked)
	}

	close(release)
	first := <-done
	if first.Coalesced {
		t.Error("initial pass should not report Coalesced")
	}
	if first.Checked != 1 {
		t.Errorf("Checked = %d, want 1", first.Checked)
	}

	// Once the first pass finishes, the next one runs normally
	s.now = time.Now
	third, err := s.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if third.Coalesced || third.Checked != 1 {
		t.Errorf("follow-up pass = %+v", third)
	}
}

func TestLocalMidnight(t *testing.T) {
	at := time.Date(2025, 6, 15, 23, 45, 0, 0, time.Local)
	mid := localMidnight(at)
	if mid.Hour() != 0 || mid.Day() != 15 {
		t.Errorf("localMidnight = %v", mid)
	}
	if !mid.Before(at) {
		t.Error("midnight should precede the evening")
	}
}
