package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kestrelhq/tend/internal/config"
	"github.com/kestrelhq/tend/internal/db"
	"github.com/kestrelhq/tend/internal/errors"
	"github.com/kestrelhq/tend/internal/focus"
	"github.com/kestrelhq/tend/internal/llm"
	"github.com/kestrelhq/tend/internal/vault"
)

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	responses []*llm.Response
	err       error
	requests  []llm.Request
}

func (s *scriptedClient) SendMessage(ctx context.Context, req llm.Request) (string, error) {
	resp, err := s.SendMessageWithTools(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *scriptedClient) SendMessageWithTools(ctx context.Context, req llm.Request, tools []llm.ToolDefinition) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.Response{Content: "Understood.", StopReason: "end_turn"}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func textResponse(text string) *llm.Response {
	return &llm.Response{Content: text, StopReason: "end_turn"}
}

func toolResponse(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{ToolCalls: calls, StopReason: "tool_use"}
}

func call(id, name string, input map[string]any) llm.ToolCall {
	raw, _ := json.Marshal(input)
	return llm.ToolCall{ID: id, Name: name, Input: raw}
}

// gatedClient blocks inside the model call until released, so a test can
// observe the coach while a turn is still outstanding.
type gatedClient struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClient) SendMessage(ctx context.Context, req llm.Request) (string, error) {
	resp, err := g.SendMessageWithTools(ctx, req, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (g *gatedClient) SendMessageWithTools(ctx context.Context, req llm.Request, tools []llm.ToolDefinition) (*llm.Response, error) {
	close(g.entered)
	<-g.release
	return &llm.Response{Content: "Understood.", StopReason: "end_turn"}, nil
}

func newCoach(t *testing.T, client llm.Client) (*Coach, *vault.Vault) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	v, err := vault.Open(t.TempDir())
	if err != nil {
		t.Fatalf("vault.Open failed: %v", err)
	}
	cfg := config.DefaultConfig()

	store, err := focus.NewStore(database, v, cfg)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	c, err := New(database, v, store, cfg, client)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, v
}

func mustWrite(t *testing.T, v *vault.Vault, name, content string) {
	t.Helper()
	if err := v.Write(name, content); err != nil {
		t.Fatalf("Write %s failed: %v", name, err)
	}
}

func startConversation(t *testing.T, c *Coach) Conversation {
	t.Helper()
	conv, err := c.CreateConversation("You are a coach.")
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	return conv
}

func TestSendMessagePlainReply(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("Hello there.")}}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "What should I work on?")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[0].Role != llm.RoleUser || conv.Messages[1].Role != llm.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", conv.Messages[0].Role, conv.Messages[1].Role)
	}
	if conv.Title != "What should I work on?" {
		t.Fatalf("title = %q", conv.Title)
	}
	if conv.LastSeen != 2 {
		t.Fatalf("LastSeen = %d, want 2", conv.LastSeen)
	}
}

func TestSendMessageDuringTurnIsConflict(t *testing.T) {
	client := &gatedClient{entered: make(chan struct{}), release: make(chan struct{})}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	done := make(chan error, 1)
	go func() {
		_, err := c.SendMessage(context.Background(), "first")
		done <- err
	}()

	<-client.entered
	_, err := c.SendMessage(context.Background(), "second")
	if !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("overlapping SendMessage = %v, want CONFLICT", err)
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("first SendMessage failed: %v", err)
	}

	// The rejected message never entered the transcript
	conv, ok := c.ActiveConversation()
	if !ok {
		t.Fatal("no active conversation")
	}
	users := 0
	for _, m := range conv.Messages {
		if m.Role == llm.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Errorf("user messages = %d, want 1", users)
	}
}

func TestTitleTruncatedToFiftyRunes(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("ok")}}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	long := strings.Repeat("ab", 40)
	conv, err := c.SendMessage(context.Background(), long)
	if err != nil {
		t.Fatal(err)
	}
	if got := len([]rune(conv.Title)); got != 50 {
		t.Fatalf("title length = %d, want 50", got)
	}
}

// A display tool runs immediately and yields a card; an action tool in the
// same response becomes exactly one pending approval block and ends the
// turn.
func TestToolTriage(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(
			call("tc1", "show_project_card", map[string]any{"document": "home.md"}),
			call("tc2", "move_to_focus", map[string]any{"document": "home.md", "text": "Fix the gate", "line": 1}),
		),
	}}
	c, v := newCoach(t, client)
	mustWrite(t, v, "home.md", "- [ ] Fix the gate\n- [ ] Clean gutters\n")
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "Show me the home project")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if len(conv.Cards) != 1 {
		t.Fatalf("got %d cards, want 1", len(conv.Cards))
	}
	if conv.Cards[0].Title != "home.md" {
		t.Fatalf("card title = %q", conv.Cards[0].Title)
	}
	if !strings.Contains(conv.Cards[0].Body, "Fix the gate") {
		t.Fatalf("card body missing action: %q", conv.Cards[0].Body)
	}

	pending := conv.PendingApprovals()
	if len(pending) != 1 {
		t.Fatalf("got %d pending blocks, want 1", len(pending))
	}
	if pending[0].Call.Name != "move_to_focus" {
		t.Fatalf("pending tool = %q", pending[0].Call.Name)
	}
	// The display tool never produced an approval block.
	if len(conv.Approvals) != 1 {
		t.Fatalf("got %d approval blocks, want 1", len(conv.Approvals))
	}
	// Action tools stop the turn before a follow-up model round.
	if len(client.requests) != 1 {
		t.Fatalf("model called %d times, want 1", len(client.requests))
	}
}

func TestDisplayResultsFeedNextRound(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(call("tc1", "show_focus_card", nil)),
		textResponse("Here is your focus list."),
	}}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "show my focus")
	if err != nil {
		t.Fatal(err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.requests))
	}
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleSystem || !strings.Contains(last.Content, "show_focus_card") {
		t.Fatalf("second round did not carry tool results: %+v", last)
	}
	final := conv.Messages[len(conv.Messages)-1]
	if final.Content != "Here is your focus list." {
		t.Fatalf("final message = %q", final.Content)
	}
}

func TestToolRoundCap(t *testing.T) {
	var responses []*llm.Response
	for i := 0; i < maxToolRounds+2; i++ {
		responses = append(responses, toolResponse(call(fmt.Sprintf("tc%d", i), "show_focus_card", nil)))
	}
	client := &scriptedClient{responses: responses}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}
	if len(client.requests) != maxToolRounds+1 {
		t.Fatalf("model called %d times, want %d", len(client.requests), maxToolRounds+1)
	}
	final := conv.Messages[len(conv.Messages)-1]
	if !strings.HasPrefix(final.Content, errPrefix) {
		t.Fatalf("final message is not an orchestrator error: %q", final.Content)
	}
}

func TestApproveExecutesActionTool(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(call("tc1", "move_to_focus", map[string]any{"document": "home.md", "text": "Fix the gate", "line": 1})),
	}}
	c, v := newCoach(t, client)
	mustWrite(t, v, "home.md", "- [ ] Fix the gate\n")
	conv := startConversation(t, c)

	sent, err := c.SendMessage(context.Background(), "add fixing the gate to focus")
	if err != nil {
		t.Fatal(err)
	}
	block := sent.PendingApprovals()[0]

	after, err := c.ApproveTool(conv.ID, block.ID)
	if err != nil {
		t.Fatalf("ApproveTool failed: %v", err)
	}
	got := after.findApproval(block.ID)
	if got.Status != ApprovalApproved {
		t.Fatalf("status = %q, want approved", got.Status)
	}
	if got.Result == "" {
		t.Fatal("approved block has no result")
	}
	items := c.focus.Items()
	if len(items) != 1 || items[0].Ref.LogicalText != "Fix the gate" {
		t.Fatalf("focus after approval: %+v", items)
	}
}

func TestApprovalFailureBecomesErrorState(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(call("tc1", "complete_action", map[string]any{"document": "gone.md", "text": "Missing"})),
	}}
	c, _ := newCoach(t, client)
	conv := startConversation(t, c)

	sent, err := c.SendMessage(context.Background(), "complete it")
	if err != nil {
		t.Fatal(err)
	}
	block := sent.PendingApprovals()[0]

	after, err := c.ApproveTool(conv.ID, block.ID)
	if err != nil {
		t.Fatalf("ApproveTool failed: %v", err)
	}
	got := after.findApproval(block.ID)
	if got.Status != ApprovalError {
		t.Fatalf("status = %q, want error", got.Status)
	}
	if got.Error == "" {
		t.Fatal("error state carries no message")
	}
}

func TestRejectedBlockIsTerminal(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(call("tc1", "set_waiting", map[string]any{"document": "home.md", "text": "Fix the gate"})),
	}}
	c, v := newCoach(t, client)
	mustWrite(t, v, "home.md", "- [ ] Fix the gate\n")
	conv := startConversation(t, c)

	sent, err := c.SendMessage(context.Background(), "mark it waiting")
	if err != nil {
		t.Fatal(err)
	}
	block := sent.PendingApprovals()[0]

	if _, err := c.RejectTool(conv.ID, block.ID); err != nil {
		t.Fatalf("RejectTool failed: %v", err)
	}
	if _, err := c.ApproveTool(conv.ID, block.ID); !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("approving a rejected block: err = %v, want CONFLICT", err)
	}
	if _, err := c.RejectTool(conv.ID, block.ID); !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("re-rejecting: err = %v, want CONFLICT", err)
	}
	after, err := c.Get(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := after.findApproval(block.ID).Status; got != ApprovalRejected {
		t.Fatalf("status = %q, want rejected", got)
	}
	// The vault was never touched.
	content, err := v.Read("home.md")
	if err != nil {
		t.Fatal(err)
	}
	if content != "- [ ] Fix the gate\n" {
		t.Fatalf("document changed after rejection: %q", content)
	}
}

func TestProtocolInvocationInjectsProtocol(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{textResponse("Let's begin the weekly review.")}}
	c, v := newCoach(t, client)
	mustWrite(t, v, "protocols/weekly-review.md",
		"---\ntrigger:\n  day: friday\n  time: afternoon\n---\n# Weekly Review\n\nGo through every project.\n")
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "run the weekly review")
	if err != nil {
		t.Fatal(err)
	}
	// Raw text is not in history; a protocol system message and a synthetic
	// user acknowledgment are.
	for _, m := range conv.Messages {
		if m.Content == "run the weekly review" {
			t.Fatal("raw invocation text entered history")
		}
	}
	if conv.Messages[0].Role != llm.RoleSystem || !strings.Contains(conv.Messages[0].Content, "Go through every project.") {
		t.Fatalf("protocol content not injected: %+v", conv.Messages[0])
	}
	if conv.Messages[1].Role != llm.RoleUser {
		t.Fatalf("no synthetic user turn: %+v", conv.Messages[1])
	}
}

func TestConfigurationErrorSurfacesInConversation(t *testing.T) {
	c, _ := newCoach(t, nil)
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != llm.RoleAssistant || !strings.HasPrefix(last.Content, errPrefix) {
		t.Fatalf("configuration error not surfaced: %+v", last)
	}
	if conv.LastSeen != len(conv.Messages) {
		t.Fatalf("LastSeen = %d, want %d", conv.LastSeen, len(conv.Messages))
	}
}

func TestNetworkErrorSurfacesInConversation(t *testing.T) {
	client := &scriptedClient{err: errors.NewNetwork(fmt.Errorf("connection refused"))}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if !strings.HasPrefix(last.Content, errPrefix) {
		t.Fatalf("network error not surfaced: %q", last.Content)
	}
}

func TestPruningKeepsFiftyNewestByCreation(t *testing.T) {
	c, _ := newCoach(t, &scriptedClient{})
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []string
	for i := 0; i < 55; i++ {
		conv, err := c.CreateConversation("")
		if err != nil {
			t.Fatalf("CreateConversation %d failed: %v", i, err)
		}
		ids = append(ids, conv.ID)
	}

	kept := c.Conversations()
	if len(kept) != MaxConversations {
		t.Fatalf("retained %d conversations, want %d", len(kept), MaxConversations)
	}
	keptIDs := make(map[string]bool, len(kept))
	for _, conv := range kept {
		keptIDs[conv.ID] = true
	}
	for i, id := range ids {
		want := i >= 5 // the 5 oldest are gone
		if keptIDs[id] != want {
			t.Fatalf("conversation %d retained=%v, want %v", i, keptIDs[id], want)
		}
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	database, err := db.Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	v, err := vault.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	store, err := focus.NewStore(database, v, cfg)
	if err != nil {
		t.Fatal(err)
	}
	client := &scriptedClient{responses: []*llm.Response{textResponse("noted")}}
	c, err := New(database, v, store, cfg, client)
	if err != nil {
		t.Fatal(err)
	}
	conv := startConversation(t, c)
	if _, err := c.SendMessage(context.Background(), "remember this"); err != nil {
		t.Fatal(err)
	}
	if err := database.Close(); err != nil {
		t.Fatal(err)
	}

	database2, err := db.Init(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database2.Close() })
	store2, err := focus.NewStore(database2, v, cfg)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := New(database2, v, store2, cfg, client)
	if err != nil {
		t.Fatal(err)
	}
	restored, ok := c2.ActiveConversation()
	if !ok {
		t.Fatal("active conversation lost across restart")
	}
	if restored.ID != conv.ID {
		t.Fatalf("active id = %s, want %s", restored.ID, conv.ID)
	}
	if len(restored.Messages) != 2 {
		t.Fatalf("restored %d messages, want 2", len(restored.Messages))
	}
}

func TestSetReviewScopeRewritesSystemPrompt(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(call("tc1", "set_review_scope", map[string]any{"spheres": []string{"work"}, "statuses": []string{"todo"}})),
		textResponse("Scoped to work."),
	}}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	if _, err := c.SendMessage(context.Background(), "weekly review for work only"); err != nil {
		t.Fatal(err)
	}
	second := client.requests[1]
	if !strings.Contains(second.System, "work") {
		t.Fatalf("system prompt not rescoped: %q", second.System)
	}
}

func TestUnknownToolDegradesToErrorResult(t *testing.T) {
	client := &scriptedClient{responses: []*llm.Response{
		toolResponse(call("tc1", "launch_rocket", nil)),
		textResponse("I cannot do that."),
	}}
	c, _ := newCoach(t, client)
	startConversation(t, c)

	conv, err := c.SendMessage(context.Background(), "do something odd")
	if err != nil {
		t.Fatal(err)
	}
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "unknown tool") {
		t.Fatalf("unknown tool not reported to model: %q", last.Content)
	}
	if len(conv.Approvals) != 0 {
		t.Fatalf("unknown tool produced approval blocks: %d", len(conv.Approvals))
	}
}
