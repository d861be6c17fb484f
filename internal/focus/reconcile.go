package focus

import (
	"log"
	"time"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/track"
	"github.com/kestrelhq/tend/internal/vault"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Checked   int
	Repaired  int // line number or anchor rewritten in place
	Dropped   int // reference no longer locatable, or completed in document
	Expired   int // completed items past the midnight boundary
	Coalesced bool
}

// verdict is the per-item outcome of validating against the vault.
type verdict struct {
	drop   bool
	line   int
	anchor string
	status action.Status
	hasBox bool
}

// Reconcile walks all non-completed items and re-validates each against its
// document. Items whose reference cannot be located are dropped; items whose
// line is now a done checkbox are dropped too, since direct document edits
// are authoritative for completion. Items that moved get their line number
// and anchor repaired in place. Completed items older than the most recent
// local midnight are garbage-collected.
//
// The pass is idempotent: with no intervening document change, a second run
// yields the identical item set. A pass triggered while another is in-flight
// is coalesced (skipped), never run in parallel.
func (s *Store) Reconcile() (ReconcileResult, error) {
	s.mu.Lock()
	if s.reconciling {
		s.mu.Unlock()
		return ReconcileResult{Coalesced: true}, nil
	}
	s.reconciling = true
	snapshot := make([]Item, len(s.items))
	for i, it := range s.items {
		snapshot[i] = *it
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconciling = false
		s.mu.Unlock()
	}()

	var result ReconcileResult
	midnight := localMidnight(s.now())
	docCache := make(map[string][]string)
	verdicts := make(map[string]verdict)

	for _, item := range snapshot {
		if item.CompletedAt != nil {
			continue
		}
		result.Checked++

		lines, ok := docCache[item.Ref.Document]
		if !ok {
			var err error
			lines, err = s.vault.ReadLines(item.Ref.Document)
			if err != nil {
				// Unreadable document: the reference cannot be trusted
				log.Printf("focus: reconcile: dropping %q (%s): %v", item.Ref.LogicalText, item.Ref.Document, err)
				verdicts[item.ID] = verdict{drop: true}
				continue
			}
			docCache[item.Ref.Document] = lines
		}

		res := track.Validate(item.Ref, lines)
		if !res.Found {
			log.Printf("focus: reconcile: dropping stale %q (%s)", item.Ref.LogicalText, item.Ref.Document)
			verdicts[item.ID] = verdict{drop: true}
			continue
		}

		current := lines[res.Line-1]
		parsed, isCheckbox := action.ParseLine(current)
		if isCheckbox && parsed.Status == action.StatusDone {
			// Completed by a direct document edit; the document wins
			log.Printf("focus: reconcile: %q completed in %s", item.Ref.LogicalText, item.Ref.Document)
			verdicts[item.ID] = verdict{drop: true}
			continue
		}

		verdicts[item.ID] = verdict{
			line:   res.Line,
			anchor: current,
			status: parsed.Status,
			hasBox: isCheckbox,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	changed := false
	for _, item := range s.items {
		if item.CompletedAt != nil {
			if item.CompletedAt.Before(midnight) {
				result.Expired++
				changed = true
				continue
			}
			kept = append(kept, item)
			continue
		}

		v, ok := verdicts[item.ID]
		if !ok {
			// Added mid-pass; leave untouched for the next pass
			kept = append(kept, item)
			continue
		}
		if v.drop {
			result.Dropped++
			changed = true
			continue
		}
		if v.line != item.Ref.Line || v.anchor != item.Ref.AnchorText {
			item.Ref.Line = v.line
			item.Ref.AnchorText = v.anchor
			if v.hasBox {
				item.Status = v.status
			}
			result.Repaired++
			changed = true
		}
		kept = append(kept, item)
	}

	s.items = kept
	if changed {
		if err := s.persist(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// localMidnight returns the most recent local midnight at or before t.
func localMidnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

// Vault exposes the underlying document store, for collaborators that need
// to read the documents focus items point into.
func (s *Store) Vault() *vault.Vault {
	return s.vault
}
