package coach

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/tend/internal/action"
	"github.com/kestrelhq/tend/internal/llm"
)

// TestFullWorkflow exercises one complete coaching cycle:
// scan → chat → tool approval → focus mutation → document edit → reconcile.
func TestFullWorkflow(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(
			call("tc1", "show_project_card", map[string]any{"document": "projects/home.md"}),
			call("tc2", "move_to_focus", map[string]any{"document": "projects/home.md", "text": "Fix the gate", "line": 3}),
		),
		textResponse("Added. Anything else?"),
	}}
	c, v := newCoach(t, client)

	// 1. A project document with open actions
	require.NoError(t, v.Write("projects/home.md",
		"# Home\n\n- [ ] Fix the gate\n- [ ] Clean gutters\n"))

	refs, err := action.ScanVault(c.vault)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	// 2. One chat turn: a card renders, an action tool waits for approval
	conv, err := c.CreateConversation(c.BuildSystemPrompt(c.now()))
	require.NoError(t, err)

	sent, err := c.SendMessage(context.Background(), "help me plan the home project")
	require.NoError(t, err)
	require.Len(t, sent.Cards, 1)
	require.Len(t, sent.PendingApprovals(), 1)

	// 3. Approve: the action lands in focus
	block := sent.PendingApprovals()[0]
	after, err := c.ApproveTool(conv.ID, block.ID)
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, after.findApproval(block.ID).Status)

	items := c.focus.Items()
	require.Len(t, items, 1)
	require.Equal(t, "Fix the gate", items[0].Ref.LogicalText)

	// 4. Complete through the store: the document line gains the stamp
	require.NoError(t, c.focus.MarkComplete(items[0].ID))
	content, err := v.Read("projects/home.md")
	require.NoError(t, err)
	require.Contains(t, content, "[x] Fix the gate")

	// 5. Reconcile after an external rewrite: the item completed today
	// stays visible until the next midnight
	require.NoError(t, v.Write("projects/home.md",
		"# Home\n\nNotes first.\n\n- [ ] Clean gutters\n"))

	result, err := c.focus.Reconcile()
	require.NoError(t, err)
	require.Equal(t, 0, result.Dropped)
	require.Equal(t, 0, result.Expired)
	require.Len(t, c.focus.Items(), 1)
}
