package db

import (
	"database/sql"
	"fmt"
)

// FocusRow mirrors one row of the focus_items table. Position encodes the
// user's curated order; the focus store owns the semantics.
type FocusRow struct {
	ID          string
	Position    int
	Document    string
	Line        int
	AnchorText  string
	LogicalText string
	IsGeneral   bool
	Sphere      string
	Pinned      bool
	Status      string
	AddedAt     int64
	CompletedAt *int64
}

// LoadFocusItems returns all focus rows ordered by position.
func LoadFocusItems(db *sql.DB) ([]FocusRow, error) {
	rows, err := db.Query(`
		SELECT id, position, document, line, anchor_text, logical_text,
		       is_general, sphere, pinned, status, added_at, completed_at
		FROM focus_items
		ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query focus items: %w", err)
	}
	defer rows.Close()

	var items []FocusRow
	for rows.Next() {
		var r FocusRow
		var completed sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Position, &r.Document, &r.Line,
			&r.AnchorText, &r.LogicalText, &r.IsGeneral, &r.Sphere,
			&r.Pinned, &r.Status, &r.AddedAt, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan focus item: %w", err)
		}
		if completed.Valid {
			v := completed.Int64
			r.CompletedAt = &v
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// SaveFocusItems replaces the whole focus list in one transaction. The list
// is small and order-sensitive, so a full rewrite is simpler and safer than
// positional diffing.
func SaveFocusItems(db *sql.DB, items []FocusRow) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM focus_items"); err != nil {
		return fmt.Errorf("failed to clear focus items: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO focus_items
		  (id, position, document, line, anchor_text, logical_text,
		   is_general, sphere, pinned, status, added_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range items {
		var completed any
		if r.CompletedAt != nil {
			completed = *r.CompletedAt
		}
		if _, err := stmt.Exec(r.ID, i, r.Document, r.Line, r.AnchorText,
			r.LogicalText, r.IsGeneral, r.Sphere, r.Pinned, r.Status,
			r.AddedAt, completed); err != nil {
			return fmt.Errorf("failed to insert focus item %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// ConversationRow is one stored conversation; Data is the JSON-encoded
// conversation document.
type ConversationRow struct {
	ID        string
	CreatedAt int64
	UpdatedAt int64
	Data      string
}

// SaveConversation inserts or replaces a conversation.
func SaveConversation(db *sql.DB, row ConversationRow) error {
	_, err := db.Exec(`
		INSERT INTO conversations (id, created_at, updated_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, data = excluded.data`,
		row.ID, row.CreatedAt, row.UpdatedAt, row.Data)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// LoadConversations returns all conversations, newest created first.
func LoadConversations(db *sql.DB) ([]ConversationRow, error) {
	rows, err := db.Query(`
		SELECT id, created_at, updated_at, data
		FROM conversations
		ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationRow
	for rows.Next() {
		var r ConversationRow
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.Data); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetConversation returns one conversation by id, or nil if absent.
func GetConversation(db *sql.DB, id string) (*ConversationRow, error) {
	var r ConversationRow
	err := db.QueryRow(`
		SELECT id, created_at, updated_at, data
		FROM conversations WHERE id = ?`, id).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.Data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &r, nil
}

// DeleteConversation removes a conversation outright.
func DeleteConversation(db *sql.DB, id string) error {
	if _, err := db.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// PruneConversations keeps the `keep` most recently created conversations
// and discards the rest. Returns the number of rows deleted.
func PruneConversations(db *sql.DB, keep int) (int, error) {
	res, err := db.Exec(`
		DELETE FROM conversations
		WHERE id NOT IN (
		  SELECT id FROM conversations
		  ORDER BY created_at DESC, id DESC
		  LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned conversations: %w", err)
	}
	return int(n), nil
}

// GetMeta reads a value from the meta table, "" if absent.
func GetMeta(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a value to the meta table.
func SetMeta(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %q: %w", key, err)
	}
	return nil
}
