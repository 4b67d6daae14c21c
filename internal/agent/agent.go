// Package agent runs the tool-calling conversation loop for one
// support thread: history in, model/tool rounds, reply out, with the
// thread document updated along the way.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xseries/mailclerk/internal/types"
	"github.com/xseries/mailclerk/pkg/llm"
)

// NoResponseSentinel is the exact final answer the model gives when an
// email should be ignored rather than replied to.
const NoResponseSentinel = "NO_RESPONSE_NEEDED"

const (
	limitReply = "This conversation has exceeded the maximum number of allowed exchanges. Please start a new conversation or contact support directly for further assistance."
	errorReply = "I'm currently experiencing technical difficulties. Our support team has been notified and will get back to you shortly."
)

// OutcomeKind classifies how a turn ended.
type OutcomeKind int

const (
	// OutcomeReply carries text to send back to the user.
	OutcomeReply OutcomeKind = iota
	// OutcomeNoResponse means the model decided to stay silent.
	OutcomeNoResponse
	// OutcomeError carries the apology text sent when the turn failed.
	OutcomeError
)

// Outcome is the result of one conversation turn.
type Outcome struct {
	Kind OutcomeKind
	Text string
}

// Inbound is one user message entering a thread.
type Inbound struct {
	ThreadID   types.ThreadID
	UserEmail  string
	Subject    string // "" for console sessions
	SenderName string // raw From header or display name
	Body       string // already normalized
}

// Agent orchestrates conversation turns.
type Agent struct {
	provider     llm.Provider
	store        types.ThreadStore
	registry     *Registry
	budget       *Budget
	systemPrompt string
	maxRounds    int
	messageCap   int
	logger       *slog.Logger
	now          func() time.Time
}

// Config collects the orchestrator's dependencies.
type Config struct {
	Provider     llm.Provider
	Store        types.ThreadStore
	Registry     *Registry
	Budget       *Budget
	SystemPrompt string
	MaxRounds    int
	MessageCap   int
	Logger       *slog.Logger
}

// New creates an Agent.
func New(cfg Config) *Agent {
	return &Agent{
		provider:     cfg.Provider,
		store:        cfg.Store,
		registry:     cfg.Registry,
		budget:       cfg.Budget,
		systemPrompt: cfg.SystemPrompt,
		maxRounds:    cfg.MaxRounds,
		messageCap:   cfg.MessageCap,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// HandleMessage runs one conversation turn for an inbound message.
// Storage failures abort the turn; model and tool failures degrade to
// an apology outcome so the user is never left without an answer.
func (a *Agent) HandleMessage(ctx context.Context, in Inbound) (*Outcome, error) {
	ctx = WithThreadID(ctx, in.ThreadID)

	history, err := a.store.Messages(ctx, in.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", in.ThreadID, err)
	}

	// Runaway-thread guard: past the cap the model is never consulted
	// again on this thread.
	if len(history) > a.messageCap {
		a.logger.Info("thread over message cap",
			"thread_id", in.ThreadID, "messages", len(history), "cap", a.messageCap)
		if err := a.store.Append(ctx, in.ThreadID, in.UserEmail, types.Message{Role: types.RoleHuman, Content: in.Body}); err != nil {
			return nil, fmt.Errorf("append inbound: %w", err)
		}
		if err := a.store.Append(ctx, in.ThreadID, in.UserEmail, types.Message{Role: types.RoleAssistant, Content: limitReply}); err != nil {
			return nil, fmt.Errorf("append limit reply: %w", err)
		}
		a.recordResponse(ctx, in.ThreadID, limitReply, types.StatusLimitReached)
		return &Outcome{Kind: OutcomeReply, Text: limitReply}, nil
	}

	input := in.Body
	if len(history) == 0 {
		// The model learns the reply-to address and thread id from the
		// first message of every conversation.
		input = fmt.Sprintf("%s - Thread ID: %s - %q", in.UserEmail, in.ThreadID, in.Body)
	}

	a.setMeta(ctx, in.ThreadID, types.MetaSubject, in.Subject)
	a.setMeta(ctx, in.ThreadID, types.MetaSenderName, in.SenderName)
	a.setMeta(ctx, in.ThreadID, types.MetaStatus, types.StatusInProgress)

	if err := a.store.Append(ctx, in.ThreadID, in.UserEmail, types.Message{Role: types.RoleHuman, Content: input}); err != nil {
		return nil, fmt.Errorf("append inbound: %w", err)
	}

	final, runErr := a.runLoop(ctx, in.ThreadID, append(history, types.Message{Role: types.RoleHuman, Content: input}))
	if runErr != nil {
		a.logger.Error("conversation turn failed", "thread_id", in.ThreadID, "error", runErr)
		a.recordResponse(ctx, in.ThreadID, errorReply, types.StatusResponded)
		return &Outcome{Kind: OutcomeError, Text: errorReply}, nil
	}

	if err := a.store.Append(ctx, in.ThreadID, in.UserEmail, types.Message{Role: types.RoleAssistant, Content: final}); err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}

	if strings.TrimSpace(final) == NoResponseSentinel {
		a.logger.Info("no response needed", "thread_id", in.ThreadID)
		a.setMeta(ctx, in.ThreadID, types.MetaStatus, types.StatusIgnored)
		return &Outcome{Kind: OutcomeNoResponse}, nil
	}

	a.recordResponse(ctx, in.ThreadID, final, types.StatusResponded)
	return &Outcome{Kind: OutcomeReply, Text: final}, nil
}

// runLoop drives model/tool rounds until the model produces a final
// text answer or the round cap is hit.
func (a *Agent) runLoop(ctx context.Context, threadID types.ThreadID, history []types.Message) (string, error) {
	convo := make([]llm.Message, 0, len(history)+2)
	convo = append(convo, llm.Message{Role: "system", Content: a.systemPrompt})
	if a.budget != nil {
		history = a.budget.Clamp(a.systemPrompt, history)
	}
	for _, m := range history {
		convo = append(convo, llm.Message{Role: llmRole(m.Role), Content: m.Content})
	}

	tools := a.registry.AsLLMTools()

	for round := 0; round < a.maxRounds; round++ {
		resp, err := a.provider.Complete(ctx, convo, tools)
		if err != nil {
			return "", fmt.Errorf("LLM call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		convo = append(convo, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			tool, ok := a.registry.Get(tc.Function.Name)
			if !ok {
				return "", fmt.Errorf("unknown tool %q", tc.Function.Name)
			}

			a.logger.Debug("tool call", "thread_id", threadID, "tool", tc.Function.Name)
			result, execErr := tool.Execute(ctx, tc.Function.Arguments)
			if execErr != nil {
				result = fmt.Sprintf("error: %v", execErr)
			}

			convo = append(convo, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", fmt.Errorf("max tool rounds (%d) exceeded", a.maxRounds)
}

// recordResponse stamps the reply snippet, its timestamp, and the
// thread status.
func (a *Agent) recordResponse(ctx context.Context, id types.ThreadID, response, status string) {
	a.setMeta(ctx, id, types.MetaLastResponse, snippet(response))
	a.setMeta(ctx, id, types.MetaLastResponseTime, a.now().Format(time.RFC3339))
	a.setMeta(ctx, id, types.MetaStatus, status)
}

// setMeta writes one metadata field, logging rather than failing the
// turn on error. Empty values are skipped.
func (a *Agent) setMeta(ctx context.Context, id types.ThreadID, field string, value string) {
	if value == "" {
		return
	}
	if err := a.store.SetMetadataField(ctx, id, field, value); err != nil {
		a.logger.Warn("metadata update failed", "thread_id", id, "field", field, "error", err)
	}
}

// snippet truncates a reply for the last_response metadata field,
// cutting on a rune boundary so multi-byte text stays valid.
func snippet(s string) string {
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return s
}

func llmRole(r types.Role) string {
	switch r {
	case types.RoleHuman:
		return "user"
	case types.RoleAssistant:
		return "assistant"
	case types.RoleSystem:
		return "system"
	}
	return "user"
}
