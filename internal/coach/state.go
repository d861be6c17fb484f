package coach

import (
	"crypto/rand"
	"encoding/json"
	"log"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/kestrelhq/tend/internal/db"
	"github.com/kestrelhq/tend/internal/errors"
)

// MaxConversations bounds retained history; the oldest conversations by
// creation time are pruned outright, not archived.
const MaxConversations = 50

const activeConversationKey = "active_conversation"

// loadState restores all conversations and the active id from the database.
func (c *Coach) loadState() error {
	rows, err := db.LoadConversations(c.db)
	if err != nil {
		return errors.NewInternal(err)
	}
	for _, row := range rows {
		var conv Conversation
		if err := json.Unmarshal([]byte(row.Data), &conv); err != nil {
			log.Printf("coach: skipping unreadable conversation %s: %v", row.ID, err)
			continue
		}
		c.conversations = append(c.conversations, &conv)
	}
	// Oldest first in memory; LoadConversations returns newest first
	sort.Slice(c.conversations, func(i, j int) bool {
		return c.conversations[i].CreatedAt.Before(c.conversations[j].CreatedAt)
	})

	c.activeID, err = db.GetMeta(c.db, activeConversationKey)
	if err != nil {
		return errors.NewInternal(err)
	}
	if c.activeID != "" && c.find(c.activeID) == nil {
		c.activeID = ""
	}
	return nil
}

// persistConversation writes one conversation and, when it is active, the
// active pointer.
func (c *Coach) persistConversation(conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return errors.NewInternal(err)
	}
	row := db.ConversationRow{
		ID:        conv.ID,
		CreatedAt: conv.CreatedAt.UnixMilli(),
		UpdatedAt: conv.UpdatedAt.UnixMilli(),
		Data:      string(data),
	}
	if err := db.SaveConversation(c.db, row); err != nil {
		return errors.NewInternal(err)
	}
	if err := db.SetMeta(c.db, activeConversationKey, c.activeID); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// CreateConversation starts a fresh conversation with the given system
// prompt, makes it active, and prunes retained history past the cap.
func (c *Coach) CreateConversation(systemPrompt string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	conv := &Conversation{
		ID:           ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Title:        "New conversation",
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.conversations = append(c.conversations, conv)
	c.activeID = conv.ID

	if err := c.persistConversation(conv); err != nil {
		return Conversation{}, err
	}
	if err := c.pruneLocked(); err != nil {
		return Conversation{}, err
	}
	return *conv, nil
}

// pruneLocked keeps the MaxConversations most recently created
// conversations. Caller holds the lock.
func (c *Coach) pruneLocked() error {
	if len(c.conversations) <= MaxConversations {
		return nil
	}
	// In-memory list is oldest first
	excess := len(c.conversations) - MaxConversations
	c.conversations = append([]*Conversation(nil), c.conversations[excess:]...)

	if _, err := db.PruneConversations(c.db, MaxConversations); err != nil {
		return errors.NewInternal(err)
	}
	if c.activeID != "" && c.find(c.activeID) == nil {
		c.activeID = ""
	}
	return nil
}

// Conversations returns snapshots of all retained conversations, newest
// created first.
func (c *Coach) Conversations() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Conversation, 0, len(c.conversations))
	for i := len(c.conversations) - 1; i >= 0; i-- {
		out = append(out, *c.conversations[i])
	}
	return out
}

// ActiveConversation returns a snapshot of the active conversation, or
// ok=false when none is active.
func (c *Coach) ActiveConversation() (Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.find(c.activeID)
	if conv == nil {
		return Conversation{}, false
	}
	return *conv, true
}

// SetActive switches the active conversation. Exactly one conversation is
// active per session.
func (c *Coach) SetActive(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.find(id)
	if conv == nil {
		return errors.NewNotFound("conversation " + id)
	}
	c.activeID = id
	if err := db.SetMeta(c.db, activeConversationKey, id); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Get returns a snapshot of one conversation by id.
func (c *Coach) Get(id string) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.find(id)
	if conv == nil {
		return Conversation{}, errors.NewNotFound("conversation " + id)
	}
	return *conv, nil
}

func (c *Coach) find(id string) *Conversation {
	if id == "" {
		return nil
	}
	for _, conv := range c.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// markSeen advances the seen pointer so the UI scrolls to the newest
// messages, including surfaced errors. Caller holds the lock.
func markSeen(conv *Conversation) {
	conv.LastSeen = len(conv.Messages)
}

// touch updates the conversation's modification time. Caller holds the lock.
func (c *Coach) touch(conv *Conversation) {
	conv.UpdatedAt = c.now()
}
