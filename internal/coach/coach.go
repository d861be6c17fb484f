package coach

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/llm"
	"github.com/kestrelhq/tend/internal/protocol"
	"github.com/kestrelhq/tend/internal/vault"
)

// maxToolRounds bounds tool-continuation within one turn. A model that keeps
// emitting display or system tools past this many rounds gets cut off with a
// hard error message in the conversation instead of recursing forever.
const maxToolRounds = 4

// errPrefix marks orchestrator-generated error messages so they are
// distinguishable from model output in the transcript.
const errPrefix = "[tend] "

// Coach drives the coaching conversations. All collaborators are injected;
// tests substitute a scripted llm.Client and a fixed clock.
type Coach struct {
	mu     sync.Mutex
	db     *sql.DB
	cfg    *config.Config
	vault  *vault.Vault
	focus  *focus.Store
	client llm.Client

	conversations []*Conversation // oldest first
	activeID      string

	// inTurn rejects a second SendMessage while a model request for the
	// active conversation is still outstanding.
	inTurn bool

	now func() time.Time
}

// New restores persisted conversation state and returns a ready Coach.
// client may be nil; sending a message then surfaces a configuration error
// into the conversation instead of failing construction.
func New(database *sql.DB, v *vault.Vault, store *focus.Store, cfg *config.Config, client llm.Client) (*Coach, error) {
	c := &Coach{
		db:     database,
		cfg:    cfg,
		vault:  v,
		focus:  store,
		client: client,
		now:    time.Now,
	}
	if err := c.loadState(); err != nil {
		return nil, err
	}
	return c, nil
}

// SendMessage runs one logical turn of the active conversation: protocol
// invocation detection, the model round-trip, tool triage, and persistence.
// Failures inside the turn are appended to the conversation as
// orchestrator-prefixed assistant messages; the returned error covers only
// turn-boundary problems (no active conversation, a turn already in flight,
// persistence failures).
func (c *Coach) SendMessage(ctx context.Context, text string) (Conversation, error) {
	c.mu.Lock()
	conv := c.find(c.activeID)
	if conv == nil {
		c.mu.Unlock()
		return Conversation{}, errors.NewInvalidRequest("no active conversation")
	}
	if c.inTurn {
		c.mu.Unlock()
		return Conversation{}, errors.NewConflict("a turn is already in progress")
	}
	c.inTurn = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inTurn = false
		c.mu.Unlock()
	}()

	c.mu.Lock()
	c.prepareTurn(conv, text)
	if err := c.persistConversation(conv); err != nil {
		c.mu.Unlock()
		return Conversation{}, err
	}
	c.mu.Unlock()

	c.runTurn(ctx, conv)

	c.mu.Lock()
	defer c.mu.Unlock()
	markSeen(conv)
	c.touch(conv)
	if err := c.persistConversation(conv); err != nil {
		return *conv, err
	}
	return *conv, nil
}

// prepareTurn appends the opening messages of the turn. A message that
// invokes a known protocol by name starts that protocol instead of entering
// history verbatim. Caller holds the lock.
func (c *Coach) prepareTurn(conv *Conversation, text string) {
	now := c.now()

	if proto := c.matchInvocation(text); proto != nil {
		conv.Messages = append(conv.Messages,
			ChatMessage{Role: llm.RoleSystem, Content: protocolLead(proto), SentAt: now},
			ChatMessage{Role: llm.RoleUser, Content: "Let's start the " + proto.Name + " now.", SentAt: now},
		)
	} else {
		conv.Messages = append(conv.Messages, ChatMessage{Role: llm.RoleUser, Content: text, SentAt: now})
	}

	if conv.Title == "New conversation" {
		for _, m := range conv.Messages {
			if m.Role != llm.RoleSystem {
				conv.Title = titleFrom(m.Content)
				break
			}
		}
	}
	c.touch(conv)
}

// matchInvocation checks the message against the protocols currently in the
// vault. Protocol load failures disable invocation for this turn only.
func (c *Coach) matchInvocation(text string) *protocol.Protocol {
	protocols, err := protocol.Load(c.vault, c.cfg.ProtocolsDir)
	if err != nil {
		return nil
	}
	return protocol.MatchInvocation(text, protocols)
}

func protocolLead(p *protocol.Protocol) string {
	return "The user is starting the following review protocol. Guide them through it step by step.\n\n" + p.Content
}

// runTurn performs the model round-trips for one turn. Every failure is
// converted into a conversation message; nothing escapes.
func (c *Coach) runTurn(ctx context.Context, conv *Conversation) {
	if c.client == nil {
		c.appendError(conv, errors.NewConfiguration("no model client configured; set "+c.cfg.APIKeyEnv))
		return
	}

	for round := 0; ; round++ {
		if round > maxToolRounds {
			c.appendError(conv, errors.NewInternal(fmt.Errorf("model exceeded %d tool rounds in one turn", maxToolRounds)))
			return
		}

		resp, err := c.client.SendMessageWithTools(ctx, c.requestFor(conv), toolSchema())
		if err != nil {
			c.appendError(conv, err)
			return
		}

		c.mu.Lock()
		if resp.Content != "" {
			conv.Messages = append(conv.Messages, ChatMessage{Role: llm.RoleAssistant, Content: resp.Content, SentAt: c.now()})
		}
		c.mu.Unlock()

		if len(resp.ToolCalls) == 0 {
			return
		}

		pending, results := c.triageCalls(conv, resp.ToolCalls)
		if pending {
			// Action tools stop the turn; the human decides next.
			return
		}
		if len(results) == 0 {
			return
		}

		c.mu.Lock()
		conv.Messages = append(conv.Messages, ChatMessage{
			Role:    llm.RoleSystem,
			Content: "Tool results:\n" + strings.Join(results, "\n"),
			SentAt:  c.now(),
		})
		c.mu.Unlock()
	}
}

// requestFor snapshots the conversation into a transport request.
func (c *Coach) requestFor(conv *Conversation) llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return llm.Request{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    conv.SystemPrompt,
		Messages:  msgs,
	}
}

// triageCalls dispatches one batch of tool calls. Display and system tools
// execute immediately and contribute result lines for the follow-up model
// round; action tools become pending approval blocks. pending reports
// whether any approval block was queued.
func (c *Coach) triageCalls(conv *Conversation, calls []llm.ToolCall) (pending bool, results []string) {
	for _, call := range calls {
		payload, err := decodeToolCall(call)
		if err != nil {
			results = append(results, call.Name+": "+err.Error())
			continue
		}
		switch payload.kind() {
		case toolKindDisplay, toolKindSystem:
			results = append(results, call.Name+": "+c.runImmediateTool(conv, payload))
		case toolKindAction:
			c.mu.Lock()
			conv.Approvals = append(conv.Approvals, &ToolApprovalBlock{
				ID:     call.ID,
				Call:   call,
				Status: ApprovalPending,
			})
			c.mu.Unlock()
			pending = true
		}
	}
	return pending, results
}

// appendError surfaces a turn failure as a distinctly-prefixed assistant
// message and scrolls the UI to it.
func (c *Coach) appendError(conv *Conversation, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv.Messages = append(conv.Messages, ChatMessage{
		Role:    llm.RoleAssistant,
		Content: errPrefix + err.Error(),
		SentAt:  c.now(),
	})
	markSeen(conv)
}
