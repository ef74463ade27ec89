// Package agent runs the tool-calling conversation loop.
//
// A turn loads the thread, appends the user's message and alternates
// between the completion model and the tool registry until the model
// answers in plain text or the iteration budget runs out. Only
// completed turns are written back to the store.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatngt/chatngt/internal/llm"
	"github.com/chatngt/chatngt/internal/memory"
	"github.com/chatngt/chatngt/internal/prompts"
	"github.com/chatngt/chatngt/internal/tools"
	"github.com/chatngt/chatngt/internal/usage"
)

// Fixed replies for turns that end without a model answer.
const (
	// FallbackReply answers a model response with no tool calls whose
	// content is empty or whitespace only. The thread is not saved.
	FallbackReply  = "I couldn't generate a proper response."
	ExhaustedReply = "Maximum iterations reached. Please try again with a simpler query."
	ErrorPrefix    = "An error occurred: "
)

// DefaultMaxIterations bounds completion requests per turn.
const DefaultMaxIterations = 5

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed" // model answered, thread saved
	OutcomeFallback  Outcome = "fallback"  // empty answer with no tool calls
	OutcomeExhausted Outcome = "exhausted" // iteration budget spent on tool calls
	OutcomeError     Outcome = "error"     // collaborator failure
)

// TurnResult describes one finished turn.
type TurnResult struct {
	Reply        string
	Outcome      Outcome
	Iterations   int   // completion requests made
	InputTokens  int   // summed over every completion request
	OutputTokens int   // summed over every completion request
	Err          error // set when Outcome is OutcomeError
}

// UsageRecorder receives the token usage of every turn that reached the
// model.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config tunes a Loop.
type Config struct {
	Model         string
	MaxIterations int
	Usage         UsageRecorder // optional
}

// Loop is the conversation controller. It is safe for concurrent use;
// turns on the same thread run one at a time.
type Loop struct {
	logger        *slog.Logger
	store         memory.Store
	llm           llm.Client
	tools         *tools.Registry
	model         string
	maxIterations int
	usage         UsageRecorder
	now           func() time.Time
	locks         *keyedMutex
}

// NewLoop creates a conversation loop.
func NewLoop(logger *slog.Logger, store memory.Store, client llm.Client, reg *tools.Registry, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	return &Loop{
		logger:        logger,
		store:         store,
		llm:           client,
		tools:         reg,
		model:         cfg.Model,
		maxIterations: maxIter,
		usage:         cfg.Usage,
		now:           time.Now,
		locks:         newKeyedMutex(),
	}
}

// Respond runs one turn and returns the text to show the user. It never
// fails: errors are folded into the reply.
func (l *Loop) Respond(ctx context.Context, threadID, userMessage string) string {
	return l.Turn(ctx, threadID, userMessage).Reply
}

// Turn runs one turn and reports how it ended. A turn that is still
// waiting for an earlier turn on the same thread when ctx ends gives up
// with OutcomeError.
func (l *Loop) Turn(ctx context.Context, threadID, userMessage string) TurnResult {
	log := l.logger.With("thread", threadID)

	unlock, err := l.locks.Lock(ctx, threadID)
	if err != nil {
		log.Warn("turn abandoned while waiting for thread", "error", err)
		return TurnResult{Reply: ErrorPrefix + err.Error(), Outcome: OutcomeError, Err: err}
	}
	defer unlock()

	start := time.Now()

	res, err := l.run(ctx, log, threadID, userMessage)
	defer l.recordUsage(ctx, log, threadID, &res)
	if err != nil {
		res.Outcome = OutcomeError
		res.Reply = ErrorPrefix + err.Error()
		res.Err = err
		log.Error("turn failed",
			"iterations", res.Iterations,
			"error", err,
		)
		return res
	}

	log.Info("turn finished",
		"outcome", res.Outcome,
		"iterations", res.Iterations,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res
}

// Forget deletes a thread's history. It waits for any turn in progress
// on the thread so that turn cannot write the history back.
func (l *Loop) Forget(ctx context.Context, threadID string) error {
	unlock, err := l.locks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := l.store.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	l.logger.Info("thread forgotten", "thread", threadID)
	return nil
}

func (l *Loop) run(ctx context.Context, log *slog.Logger, threadID, userMessage string) (TurnResult, error) {
	history, ok, err := l.store.Get(ctx, threadID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load thread: %w", err)
	}
	if !ok {
		// The timestamp is fixed at creation and kept for the thread's life.
		history = []llm.Message{{
			Role:    llm.RoleSystem,
			Content: prompts.SystemPrompt(l.now()),
		}}
		log.Debug("new thread")
	}
	history = append(history, llm.Message{Role: llm.RoleUser, Content: userMessage})

	defs := l.tools.List()

	var res TurnResult
	for iter := 1; iter <= l.maxIterations; iter++ {
		res.Iterations = iter
		resp, err := l.llm.Chat(ctx, l.model, history, defs)
		if err != nil {
			return res, err
		}
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens

		if resp.HasToolCalls() {
			calls := resp.Message.ToolCalls
			history = append(history, llm.Message{
				Role:      llm.RoleAssistant,
				ToolCalls: calls,
			})
			for _, tc := range calls {
				out, err := l.executeTool(ctx, log, tc)
				if err != nil {
					return res, err
				}
				history = append(history, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: tc.ID,
					Name:       tc.Function.Name,
					Content:    out,
				})
			}
			continue
		}

		reply := strings.TrimSpace(resp.Message.Content)
		if reply == "" {
			res.Reply, res.Outcome = FallbackReply, OutcomeFallback
			return res, nil
		}

		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: reply})
		if err := l.store.Set(ctx, threadID, history); err != nil {
			return res, fmt.Errorf("save thread: %w", err)
		}
		res.Reply, res.Outcome = reply, OutcomeCompleted
		return res, nil
	}

	log.Warn("iteration budget exhausted", "max_iterations", l.maxIterations)
	res.Reply, res.Outcome = ExhaustedReply, OutcomeExhausted
	return res, nil
}

// recordUsage hands the turn's token counts to the usage recorder.
// Failures are logged and never reach the user.
func (l *Loop) recordUsage(ctx context.Context, log *slog.Logger, threadID string, res *TurnResult) {
	if l.usage == nil || res.Iterations == 0 {
		return
	}
	err := l.usage.Record(context.WithoutCancel(ctx), usage.Record{
		Timestamp:    l.now(),
		ThreadID:     threadID,
		Model:        l.model,
		Outcome:      string(res.Outcome),
		Iterations:   res.Iterations,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	})
	if err != nil {
		log.Warn("failed to record usage", "error", err)
	}
}

// executeTool dispatches one call. An unknown tool becomes an inline
// error result so the model can recover; any other failure ends the turn.
func (l *Loop) executeTool(ctx context.Context, log *slog.Logger, tc llm.ToolCall) (string, error) {
	start := time.Now()
	out, err := l.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)

	var unavailable *tools.ErrToolUnavailable
	if errors.As(err, &unavailable) {
		log.Warn("model called unknown tool", "tool", tc.Function.Name)
		return "Error: " + unavailable.Error(), nil
	}
	if err != nil {
		return "", err
	}

	log.Debug("tool executed",
		"tool", tc.Function.Name,
		"call_id", tc.ID,
		"result_len", len(out),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return out, nil
}
