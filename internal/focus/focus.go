// Package focus owns the curated list of items a user has chosen to work on
// today. Documents are the source of truth for content; the store is the
// source of truth for curation metadata (order, pins, completion stamps).
package focus

import (
	"crypto/rand"
	"database/sql"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/db"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/track"
	"github.com/kestrelhq/tend/internal/vault"
)

// Item is a tracked reference plus curation state.
type Item struct {
	ID          string          `json:"id"`
	Ref         track.Reference `json:"ref"`
	IsGeneral   bool            `json:"is_general"`
	Sphere      string          `json:"sphere"`
	Pinned      bool            `json:"pinned"`
	Status      action.Status   `json:"status"`
	AddedAt     time.Time       `json:"added_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Store is the ordered collection of focus items, persisted in SQLite and
// kept consistent with the vault through reconciliation.
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	vault *vault.Vault
	cfg   *config.Config
	items []*Item

	reconciling bool

	// now is the clock; tests substitute a fixed one.
	now func() time.Time
}

// NewStore loads the persisted focus list.
func NewStore(database *sql.DB, v *vault.Vault, cfg *config.Config) (*Store, error) {
	s := &Store{
		db:    database,
		vault: v,
		cfg:   cfg,
		now:   time.Now,
	}
	rows, err := db.LoadFocusItems(database)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	for _, r := range rows {
		s.items = append(s.items, itemFromRow(r))
	}
	return s, nil
}

// Items returns a snapshot of the current list in curated order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[i] = *it
	}
	return out
}

// Get returns a snapshot of one item by id.
func (s *Store) Get(id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return Item{}, errors.NewNotFound("focus item " + id)
	}
	return *s.items[idx], nil
}

// Add appends an action to the focus list. Adding an action that is already
// in focus (same document, same logical text ignoring case, not yet
// completed) returns the existing item unchanged.
func (s *Store) Add(ref action.Ref, isGeneral bool) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.CompletedAt == nil && it.Ref.Document == ref.Document && strings.EqualFold(it.Ref.LogicalText, ref.Text) {
			return *it, nil
		}
	}

	item := &Item{
		ID:        ulid.MustNew(ulid.Timestamp(s.now()), rand.Reader).String(),
		Ref:       track.New(ref.Document, ref.Line, ref.Raw),
		IsGeneral: isGeneral,
		Sphere:    ref.Sphere,
		Status:    ref.Status,
		AddedAt:   s.now(),
	}
	s.items = append(s.items, item)
	if err := s.persist(); err != nil {
		return Item{}, err
	}
	return *item, nil
}

// Remove deletes an item from the list.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return errors.NewNotFound("focus item " + id)
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return s.persist()
}

// Pin marks an item pinned and moves it to the end of the currently-pinned
// run, keeping relative order among pinned items stable.
func (s *Store) Pin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return errors.NewNotFound("focus item " + id)
	}
	item := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	item.Pinned = true

	// End of the pinned run: after the last currently-pinned item
	insert := 0
	for i, it := range s.items {
		if it.Pinned {
			insert = i + 1
		}
	}
	s.items = append(s.items[:insert], append([]*Item{item}, s.items[insert:]...)...)
	return s.persist()
}

// Unpin clears the pinned flag. The item keeps its array position; unpinned
// items are grouped by sphere at render time, not by array order.
func (s *Store) Unpin(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return errors.NewNotFound("focus item " + id)
	}
	s.items[idx].Pinned = false
	return s.persist()
}

// Reorder moves an item to the target index with drag-and-drop semantics:
// remove, then reinsert at the index interpreted against the shortened list.
func (s *Store) Reorder(id string, toIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return errors.NewNotFound("focus item " + id)
	}
	item := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)

	if toIndex < 0 {
		toIndex = 0
	}
	if toIndex > len(s.items) {
		toIndex = len(s.items)
	}
	s.items = append(s.items[:toIndex], append([]*Item{item}, s.items[toIndex:]...)...)
	return s.persist()
}

// MarkComplete re-validates the item's location, rewrites the document line
// to its completed form (done status plus completion stamp), and stamps
// CompletedAt. The item stays in the list as "completed today" until the
// next local-midnight boundary. A write that cannot locate or safely update
// its target line is skipped: logged, not retried, not fatal to the list.
func (s *Store) MarkComplete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return errors.NewNotFound("focus item " + id)
	}
	item := s.items[idx]

	lines, err := s.vault.ReadLines(item.Ref.Document)
	if err != nil {
		log.Printf("focus: complete %s: %v", item.Ref.Document, err)
		return err
	}
	res := track.Validate(item.Ref, lines)
	if !res.Found {
		log.Printf("focus: complete: line not found in %s, skipping write", item.Ref.Document)
		return errors.NewStaleReference(item.Ref.Document, item.Ref.Line)
	}

	current := lines[res.Line-1]
	completed, ok := action.Complete(current, s.cfg.CompletionMarker, s.now())
	if ok && completed != current {
		if err := s.vault.ReplaceLine(item.Ref.Document, res.Line, current, completed); err != nil {
			log.Printf("focus: complete write skipped for %s: %v", item.Ref.Document, err)
			return err
		}
	}

	now := s.now()
	item.Ref.Line = res.Line
	item.Ref.AnchorText = completed
	item.Status = action.StatusDone
	item.CompletedAt = &now
	return s.persist()
}

// ConvertToWaiting rewrites the item's line to waiting status.
func (s *Store) ConvertToWaiting(id string) error {
	return s.setStatus(id, action.StatusWaiting)
}

// ConvertToTodo rewrites the item's line back to todo status.
func (s *Store) ConvertToTodo(id string) error {
	return s.setStatus(id, action.StatusTodo)
}

func (s *Store) setStatus(id string, status action.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return errors.NewNotFound("focus item " + id)
	}
	item := s.items[idx]

	lines, err := s.vault.ReadLines(item.Ref.Document)
	if err != nil {
		return err
	}
	res := track.Validate(item.Ref, lines)
	if !res.Found {
		log.Printf("focus: status change: line not found in %s, skipping write", item.Ref.Document)
		return errors.NewStaleReference(item.Ref.Document, item.Ref.Line)
	}

	current := lines[res.Line-1]
	updated, ok := action.SetStatus(current, status)
	if !ok {
		return errors.NewInvalidRequest("not a checkbox line: " + current)
	}
	if updated != current {
		if err := s.vault.ReplaceLine(item.Ref.Document, res.Line, current, updated); err != nil {
			log.Printf("focus: status write skipped for %s: %v", item.Ref.Document, err)
			return err
		}
	}

	item.Ref.Line = res.Line
	item.Ref.AnchorText = updated
	item.Status = status
	return s.persist()
}

func (s *Store) indexOf(id string) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persist() error {
	rows := make([]db.FocusRow, len(s.items))
	for i, it := range s.items {
		rows[i] = rowFromItem(*it, i)
	}
	if err := db.SaveFocusItems(s.db, rows); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func itemFromRow(r db.FocusRow) *Item {
	item := &Item{
		ID: r.ID,
		Ref: track.Reference{
			Document:    r.Document,
			Line:        r.Line,
			AnchorText:  r.AnchorText,
			LogicalText: r.LogicalText,
		},
		IsGeneral: r.IsGeneral,
		Sphere:    r.Sphere,
		Pinned:    r.Pinned,
		Status:    action.Status(r.Status),
		AddedAt:   time.Unix(r.AddedAt, 0),
	}
	if r.CompletedAt != nil {
		t := time.Unix(*r.CompletedAt, 0)
		item.CompletedAt = &t
	}
	return item
}

func rowFromItem(it Item, position int) db.FocusRow {
	row := db.FocusRow{
		ID:          it.ID,
		Position:    position,
		Document:    it.Ref.Document,
		Line:        it.Ref.Line,
		AnchorText:  it.Ref.AnchorText,
		LogicalText: it.Ref.LogicalText,
		IsGeneral:   it.IsGeneral,
		Sphere:      it.Sphere,
		Pinned:      it.Pinned,
		Status:      string(it.Status),
		AddedAt:     it.AddedAt.Unix(),
	}
	if it.CompletedAt != nil {
		v := it.CompletedAt.Unix()
		row.CompletedAt = &v
	}
	return row
}
