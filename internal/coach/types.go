// Package coach drives the coaching conversation: turn-taking against the
// model transport, triage of tool calls into auto-executed display tools and
// human-gated action tools, and persistence of conversation state.
package coach

import (
	"time"

	"github.com/kestrelhq/tend/internal/llm"
)

// ApprovalStatus is the lifecycle state of a tool approval block.
// pending → approved | rejected; approved → error on execution failure.
// approved (with result), rejected, and error are terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalError    ApprovalStatus = "error"
)

// ChatMessage is one entry of a conversation's append-only history.
type ChatMessage struct {
	Role    string    `json:"role"` // user | assistant | system
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// ToolApprovalBlock holds one action tool call awaiting (or past) a human
// decision. Each block resolves independently.
type ToolApprovalBlock struct {
	ID     string         `json:"id"`
	Call   llm.ToolCall   `json:"call"`
	Status ApprovalStatus `json:"status"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// DisplayCard is the rendered output of a display tool.
type DisplayCard struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Conversation is one coaching thread.
type Conversation struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	SystemPrompt string               `json:"system_prompt"`
	Messages     []ChatMessage        `json:"messages"`
	Approvals    []*ToolApprovalBlock `json:"approvals,omitempty"`
	Cards        []DisplayCard        `json:"cards,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`

	// LastSeen is the message count the UI has already shown; messages past
	// it drive auto-scroll.
	LastSeen int `json:"last_seen"`
}

// PendingApprovals returns the blocks still awaiting a decision.
func (c *Conversation) PendingApprovals() []*ToolApprovalBlock {
	var pending []*ToolApprovalBlock
	for _, b := range c.Approvals {
		if b.Status == ApprovalPending {
			pending = append(pending, b)
		}
	}
	return pending
}

func (c *Conversation) findApproval(id string) *ToolApprovalBlock {
	for _, b := range c.Approvals {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// titleLimit caps conversation titles derived from the first message.
const titleLimit = 50

// titleFrom derives a conversation title from message text.
func titleFrom(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit])
}
