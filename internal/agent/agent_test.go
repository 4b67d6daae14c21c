package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/xseries/mailclerk/internal/store"
	"github.com/xseries/mailclerk/internal/types"
	"github.com/xseries/mailclerk/pkg/llm"
)

// mockProvider replays queued responses and records every request.
type mockProvider struct {
	responses []*llm.Response
	err       error
	calls     int
	requests  [][]llm.Message
}

func (m *mockProvider) Complete(_ context.Context, messages []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	m.requests = append(m.requests, messages)
	if m.err != nil {
		return nil, m.err
	}
	if m.calls >= len(m.responses) {
		return &llm.Response{Content: "fallback"}, nil
	}
	resp := m.responses[m.calls]
	m.calls++
	return resp, nil
}

// echoTool records its arguments and returns a fixed result.
type echoTool struct {
	gotArgs  string
	gotCtxID types.ThreadID
}

func (e *echoTool) Name() string        { return "echo_tool" }
func (e *echoTool) Description() string { return "echoes its input" }
func (e *echoTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (e *echoTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	e.gotArgs = string(args)
	e.gotCtxID = ThreadIDFromContext(ctx)
	return "echo result", nil
}

func newTestAgent(t *testing.T, provider llm.Provider, tools ...Tool) (*Agent, types.ThreadStore) {
	t.Helper()
	st, err := store.Open("file", t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := NewRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}

	a := New(Config{
		Provider:     provider,
		Store:        st,
		Registry:     reg,
		SystemPrompt: "test system prompt",
		MaxRounds:    6,
		MessageCap:   8,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return a, st
}

func inbound(body string) Inbound {
	return Inbound{
		ThreadID:   "t1",
		UserEmail:  "user@example.com",
		Subject:    "Need help",
		SenderName: "Jane Doe <user@example.com>",
		Body:       body,
	}
}

func TestHandleMessage_SimpleReply(t *testing.T) {
	p := &mockProvider{responses: []*llm.Response{{Content: "Happy to help!"}}}
	a, st := newTestAgent(t, p)
	ctx := context.Background()

	out, err := a.HandleMessage(ctx, inbound("hello"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if out.Kind != OutcomeReply || out.Text != "Happy to help!" {
		t.Errorf("unexpected outcome: %+v", out)
	}

	msgs, _ := st.Messages(ctx, "t1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(msgs))
	}
	if msgs[0].Role != types.RoleHuman || msgs[1].Role != types.RoleAssistant {
		t.Errorf("bad roles: %v %v", msgs[0].Role, msgs[1].Role)
	}

	meta, _ := st.Metadata(ctx, "t1")
	if meta[types.MetaStatus] != types.StatusResponded {
		t.Errorf("expected status Responded, got %v", meta[types.MetaStatus])
	}
	if meta[types.MetaSubject] != "Need help" {
		t.Errorf("subject not recorded: %v", meta[types.MetaSubject])
	}
	if meta[types.MetaLastResponse] != "Happy to help!" {
		t.Errorf("last_response not recorded: %v", meta[types.MetaLastResponse])
	}
	if meta[types.MetaLastResponseTime] == nil {
		t.Error("last_response_time not recorded")
	}
}

func TestHandleMessage_RecordsUserEmail(t *testing.T) {
	p := &mockProvider{responses: []*llm.Response{{Content: "ok"}}}
	a, st := newTestAgent(t, p)
	ctx := context.Background()

	if _, err := a.HandleMessage(ctx, inbound("hello")); err != nil {
		t.Fatal(err)
	}

	// Metadata is stamped before the first append, so the thread
	// document already exists when the message lands; the owner must
	// still be recorded.
	th, err := st.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	if th == nil || th.UserEmail != "user@example.com" {
		var got string
		if th != nil {
			got = th.UserEmail
		}
		t.Errorf("user_email lost: stored %q, want user@example.com", got)
	}
}

func TestHandleMessage_FirstMessagePrefix(t *testing.T) {
	p := &mockProvider{responses: []*llm.Response{{Content: "ok"}, {Content: "ok again"}}}
	a, st := newTestAgent(t, p)
	ctx := context.Background()

	if _, err := a.HandleMessage(ctx, inbound("my app crashes")); err != nil {
		t.Fatal(err)
	}

	msgs, _ := st.Messages(ctx, "t1")
	want := `user@example.com - Thread ID: t1 - "my app crashes"`
	if msgs[0].Content != want {
		t.Errorf("first message prefix:\nwant %q\ngot  %q", want, msgs[0].Content)
	}

	// The second inbound message must be stored as-is.
	if _, err := a.HandleMessage(ctx, inbound("still crashing")); err != nil {
		t.Fatal(err)
	}
	msgs, _ = st.Messages(ctx, "t1")
	if msgs[2].Content != "still crashing" {
		t.Errorf("follow-up should not be prefixed: %q", msgs[2].Content)
	}
}

func TestHandleMessage_ToolLoop(t *testing.T) {
	tool := &echoTool{}
	p := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{
			ID:   "call-1",
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "echo_tool",
				Arguments: json.RawMessage(`{"text":"hi"}`),
			},
		}}},
		{Content: "done with tool"},
	}}
	a, _ := newTestAgent(t, p, tool)

	out, err := a.HandleMessage(context.Background(), inbound("use the tool"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if out.Kind != OutcomeReply || out.Text != "done with tool" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if tool.gotArgs != `{"text":"hi"}` {
		t.Errorf("tool args: %q", tool.gotArgs)
	}
	if tool.gotCtxID != "t1" {
		t.Errorf("tool should see the thread id, got %q", tool.gotCtxID)
	}

	// Second request must include the tool result message.
	if len(p.requests) != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", len(p.requests))
	}
	last := p.requests[1][len(p.requests[1])-1]
	if last.Role != "tool" || last.Content != "echo result" || last.ToolCallID != "call-1" {
		t.Errorf("tool result not threaded back: %+v", last)
	}
}

func TestHandleMessage_UnknownTool(t *testing.T) {
	p := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{
			ID:       "call-1",
			Type:     "function",
			Function: llm.FunctionCall{Name: "no_such_tool", Arguments: json.RawMessage(`{}`)},
		}}},
	}}
	a, st := newTestAgent(t, p)
	ctx := context.Background()

	out, err := a.HandleMessage(ctx, inbound("hello"))
	if err != nil {
		t.Fatalf("unknown tool must not fail the turn: %v", err)
	}
	if out.Kind != OutcomeError {
		t.Errorf("expected error outcome, got %v", out.Kind)
	}
	if !strings.Contains(out.Text, "technical difficulties") {
		t.Errorf("expected apology text, got %q", out.Text)
	}

	meta, _ := st.Metadata(ctx, "t1")
	if meta[types.MetaStatus] != types.StatusResponded {
		t.Errorf("expected status Responded after apology, got %v", meta[types.MetaStatus])
	}
}

func TestHandleMessage_ProviderError(t *testing.T) {
	p := &mockProvider{err: errors.New("connection refused")}
	a, _ := newTestAgent(t, p)

	out, err := a.HandleMessage(context.Background(), inbound("hello"))
	if err != nil {
		t.Fatalf("provider error must degrade to apology: %v", err)
	}
	if out.Kind != OutcomeError {
		t.Errorf("expected error outcome, got %v", out.Kind)
	}
}

func TestHandleMessage_NoResponseSentinel(t *testing.T) {
	p := &mockProvider{responses: []*llm.Response{{Content: "NO_RESPONSE_NEEDED"}}}
	a, st := newTestAgent(t, p)
	ctx := context.Background()

	out, err := a.HandleMessage(ctx, inbound("thanks!"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if out.Kind != OutcomeNoResponse {
		t.Errorf("expected no-response outcome, got %v", out.Kind)
	}

	meta, _ := st.Metadata(ctx, "t1")
	if meta[types.MetaStatus] != types.StatusIgnored {
		t.Errorf("expected status Ignored, got %v", meta[types.MetaStatus])
	}
	if meta[types.MetaLastResponse] != nil {
		t.Errorf("sentinel must not be recorded as a response: %v", meta[types.MetaLastResponse])
	}
}

func TestHandleMessage_ThreadCapGuard(t *testing.T) {
	p := &mockProvider{responses: []*llm.Response{{Content: "should never be used"}}}
	a, st := newTestAgent(t, p)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		role := types.RoleHuman
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		if err := st.Append(ctx, "t1", "user@example.com", types.Message{Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	out, err := a.HandleMessage(ctx, inbound("one more question"))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if out.Kind != OutcomeReply {
		t.Errorf("guard reply should still be sent, got %v", out.Kind)
	}
	if !strings.Contains(out.Text, "exceeded the maximum number of allowed exchanges") {
		t.Errorf("unexpected guard text: %q", out.Text)
	}
	if p.calls != 0 {
		t.Errorf("model must not be consulted past the cap, got %d calls", p.calls)
	}

	msgs, _ := st.Messages(ctx, "t1")
	if len(msgs) != 11 {
		t.Errorf("expected inbound + guard reply appended (11 total), got %d", len(msgs))
	}

	meta, _ := st.Metadata(ctx, "t1")
	if meta[types.MetaStatus] != types.StatusLimitReached {
		t.Errorf("expected status Limit Reached, got %v", meta[types.MetaStatus])
	}
}

func TestHandleMessage_RoundCapExceeded(t *testing.T) {
	tool := &echoTool{}
	loop := &llm.Response{ToolCalls: []llm.ToolCall{{
		ID:       "call-x",
		Type:     "function",
		Function: llm.FunctionCall{Name: "echo_tool", Arguments: json.RawMessage(`{}`)},
	}}}
	p := &mockProvider{responses: []*llm.Response{loop, loop, loop, loop, loop, loop, loop}}
	a, _ := newTestAgent(t, p, tool)

	out, err := a.HandleMessage(context.Background(), inbound("loop forever"))
	if err != nil {
		t.Fatalf("round cap must degrade to apology: %v", err)
	}
	if out.Kind != OutcomeError {
		t.Errorf("expected error outcome, got %v", out.Kind)
	}
	if p.calls != 6 {
		t.Errorf("expected exactly 6 model rounds, got %d", p.calls)
	}
}

func TestHandleMessage_SystemPromptFirst(t *testing.T) {
	p := &mockProvider{responses: []*llm.Response{{Content: "ok"}}}
	a, _ := newTestAgent(t, p)

	if _, err := a.HandleMessage(context.Background(), inbound("hi")); err != nil {
		t.Fatal(err)
	}
	first := p.requests[0][0]
	if first.Role != "system" || first.Content != "test system prompt" {
		t.Errorf("system prompt must lead the request: %+v", first)
	}
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("x", 150)
	got := snippet(long)
	if len(got) != 103 || !strings.HasSuffix(got, "...") {
		t.Errorf("long snippet: len=%d %q", len(got), got[90:])
	}
	if snippet("short") != "short" {
		t.Errorf("short snippet altered")
	}

	// Non-ASCII replies must not be cut mid-rune.
	wide := strings.Repeat("ありがとう", 30)
	got = snippet(wide)
	if !utf8.ValidString(got) {
		t.Errorf("snippet split a rune: %q", got)
	}
	if []rune(got)[99] != 'う' || !strings.HasSuffix(got, "...") {
		t.Errorf("wide snippet truncated wrong: %q", got)
	}
}
