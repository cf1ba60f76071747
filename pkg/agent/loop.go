// Package agent drives the tool-calling loop. The loop owns the
// conversation store: it opens a turn per user request, appends a round per
// model response, executes tool calls, enforces the per-request tool-call
// ceiling, and decides when accumulated context forces a summarization
// pass.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkosler/aide/pkg/conversation"
	"github.com/mkosler/aide/pkg/llm"
	"github.com/mkosler/aide/pkg/prompt"
	"github.com/mkosler/aide/pkg/summarize"
	"github.com/mkosler/aide/pkg/telemetry"
	"github.com/mkosler/aide/pkg/tokenizer"
)

const (
	defaultMaxRounds        = 24
	defaultMaxToolCalls     = 48
	defaultMaxLLMRetries    = 2
	defaultRetryBaseDelay   = 1 * time.Second
	defaultTriggerFraction  = 0.85
	toolCallCeilingResponse = "Paused: the tool-call limit for this request was reached. Continue with a follow-up message."
)

// ErrMaxRoundsExceeded is returned when a turn does not converge.
var ErrMaxRoundsExceeded = errors.New("turn exceeded the round limit")

// Config configures a Loop.
type Config struct {
	Client       llm.Client
	Model        llm.Model
	SystemPrompt string
	Tools        []Tool
	Summarizer   *summarize.Summarizer
	Counter      tokenizer.Counter
	Telemetry    telemetry.Sink
	Progress     summarize.Progress

	// Artifact, when set, is the actively-edited artifact snapshot passed
	// through to summarization requests.
	Artifact *prompt.Artifact

	// MaxRounds bounds loop iterations per turn.
	MaxRounds int
	// MaxToolCallsPerTurn is the hard per-request ceiling. Calls past it
	// are deferred: they execute at the start of the next turn and their
	// results are stored against that turn's context.
	MaxToolCallsPerTurn int
	// TriggerFraction of the model context window at which the loop sets
	// the summarization trigger before the next request.
	TriggerFraction float64

	MaxLLMRetries  int
	RetryBaseDelay time.Duration
}

// Loop is the tool-calling loop for one conversation session. Not safe for
// concurrent use; one request is driven at a time.
type Loop struct {
	cfg      Config
	store    *conversation.Store
	executor *Executor

	// deferred holds tool calls interrupted by the ceiling; they run when
	// the next turn opens.
	deferred []conversation.ToolCall
	// omitRequest hides the in-flight user message from replays for the
	// rest of the turn, after a summarization whose range covered it.
	// Cleared when the turn completes.
	omitRequest bool
	// historyPatched records that the last Run attached a summary to a
	// historical turn, so appended session entries are stale on disk.
	historyPatched bool
	// metaMarker is re-injected into the next rendered request after a
	// summarization, for diagnostics and replay inspection.
	metaMarker string
}

// NewLoop creates a loop over the given store.
func NewLoop(store *conversation.Store, cfg Config) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = defaultMaxToolCalls
	}
	if cfg.TriggerFraction <= 0 {
		cfg.TriggerFraction = defaultTriggerFraction
	}
	if cfg.MaxLLMRetries < 0 {
		cfg.MaxLLMRetries = defaultMaxLLMRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NopSink{}
	}
	return &Loop{
		cfg:      cfg,
		store:    store,
		executor: NewExecutor(cfg.Tools, 0, 0),
	}
}

// Store returns the conversation store the loop drives.
func (l *Loop) Store() *conversation.Store {
	return l.store
}

// Run drives one user turn to completion and returns the final assistant
// text.
func (l *Loop) Run(ctx context.Context, request string) (string, error) {
	turn, err := l.store.StartTurn(request)
	if err != nil {
		return "", err
	}
	l.historyPatched = false
	slog.Info("[Loop] turn started", "turnId", turn.ID)

	// A previous turn interrupted by the ceiling left its final round's
	// calls unexecuted; their results belong to this turn's context.
	if len(l.deferred) > 0 {
		for id, payload := range l.executor.ExecuteAll(ctx, l.deferred) {
			if err := l.store.SetToolResult(id, payload); err != nil {
				return "", err
			}
		}
		l.deferred = nil
	}

	toolCallsThisTurn := 0
	for round := 0; round < l.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			l.completeTurn(conversation.StatusCancelled)
			return "", err
		}

		messages, err := l.renderRequest()
		if err != nil {
			l.completeTurn(conversation.StatusError)
			return "", err
		}

		if l.overBudget(messages) {
			if err := l.summarizeHistory(ctx); err != nil {
				l.completeTurn(conversation.StatusError)
				return "", err
			}
			if messages, err = l.renderRequest(); err != nil {
				l.completeTurn(conversation.StatusError)
				return "", err
			}
		}

		resp, err := l.completeWithRetry(ctx, messages)
		if err != nil {
			l.completeTurn(conversation.StatusError)
			return "", err
		}

		switch resp.Status {
		case llm.StatusSuccess:
		case llm.StatusCancelled:
			l.completeTurn(conversation.StatusCancelled)
			return "", context.Canceled
		case llm.StatusFiltered:
			l.completeTurn(conversation.StatusFiltered)
			return "", fmt.Errorf("model response was filtered: %s", resp.ErrorDetails)
		case llm.StatusLength:
			l.completeTurn(conversation.StatusError)
			return "", fmt.Errorf("model response truncated by length limit: %s", resp.ErrorDetails)
		default:
			l.completeTurn(conversation.StatusError)
			return "", fmt.Errorf("model request failed: %s", resp.ErrorDetails)
		}

		calls, invalid := convertToolCalls(resp.ToolCalls)
		r := conversation.NewRound(resp.Text, calls)
		r.ToolInputRetries = invalid
		if err := l.store.AppendRound(r); err != nil {
			l.completeTurn(conversation.StatusError)
			return "", err
		}

		if len(calls) == 0 {
			l.completeTurn(conversation.StatusSuccess)
			return resp.Text, nil
		}

		if toolCallsThisTurn+len(calls) > l.cfg.MaxToolCallsPerTurn {
			// Hard ceiling hit mid-turn: the round's results are deferred
			// to the following turn's context. Windowing resolves the
			// indirection when replaying this turn later.
			if err := l.store.MarkToolCallLimitExceeded(); err != nil {
				return "", err
			}
			l.deferred = calls
			l.completeTurn(conversation.StatusSuccess)
			slog.Warn("[Loop] tool-call ceiling reached", "turnId", turn.ID, "deferred", len(calls))
			return toolCallCeilingResponse, nil
		}
		toolCallsThisTurn += len(calls)

		for id, payload := range l.executor.ExecuteAll(ctx, calls) {
			if err := l.store.SetToolResult(id, payload); err != nil {
				return "", err
			}
		}
	}

	l.completeTurn(conversation.StatusError)
	return "", ErrMaxRoundsExceeded
}

// renderRequest windows history and renders the next model request. The
// meta marker is consumed here; the request omission holds until the turn
// completes.
func (l *Loop) renderRequest() ([]llm.Message, error) {
	units := l.store.WindowHistory(conversation.WindowOptions{OmitRequest: l.omitRequest})
	messages, err := prompt.Render(prompt.Props{
		SystemPrompt: l.cfg.SystemPrompt,
		Units:        units,
		MetaMarker:   l.metaMarker,
	})
	if err != nil {
		return nil, err
	}
	l.metaMarker = ""
	return messages, nil
}

func (l *Loop) overBudget(messages []llm.Message) bool {
	if l.cfg.Summarizer == nil || l.cfg.Model.ContextWindow <= 0 {
		return false
	}
	total := l.cfg.Counter.CountAll(prompt.FlattenText(messages)...)
	return float64(total) > l.cfg.TriggerFraction*float64(l.cfg.Model.ContextWindow)
}

// summarizeHistory runs one summarization pass. Failures propagate: the
// loop aborts the turn rather than sending a request it knows is over
// budget.
func (l *Loop) summarizeHistory(ctx context.Context) error {
	outcome, err := l.cfg.Summarizer.Summarize(ctx, summarize.PromptContext{
		Store:        l.store,
		SystemPrompt: l.cfg.SystemPrompt,
		Artifact:     l.cfg.Artifact,
		Tools:        ToolSpecs(l.cfg.Tools),
	}, summarize.Sizing{
		ContextWindow: l.cfg.Model.ContextWindow,
	}, l.cfg.Progress)
	if err != nil {
		return err
	}
	l.omitRequest = outcome.CoversCurrentRequest
	if outcome.CoversCurrentRequest {
		// A range running through "now" means the target round lives in a
		// historical turn that is already on disk.
		l.historyPatched = true
	}
	l.metaMarker = "history summarized through round " + outcome.RoundID
	return nil
}

// HistoryPatched reports whether the last Run back-patched a summary into
// an already-completed turn. Callers persisting turns by appending must
// rewrite the whole log instead when this is set.
func (l *Loop) HistoryPatched() bool {
	return l.historyPatched
}

func (l *Loop) completeTurn(status conversation.ResponseStatus) {
	turn, err := l.store.CompleteTurn(status)
	if err != nil {
		slog.Error("[Loop] complete turn", "error", err)
		return
	}
	l.omitRequest = false
	l.cfg.Telemetry.Emit("conversation.turn", map[string]string{
		"status": string(status),
	}, map[string]float64{
		"rounds": float64(len(turn.Rounds)),
	})
}

func (l *Loop) completeWithRetry(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	opts := llm.Options{Tools: ToolSpecs(l.cfg.Tools)}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxLLMRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryBaseDelay * time.Duration(1<<(attempt-1))
			if llm.IsRateLimit(lastErr) {
				delay *= 2
			}
			slog.Info("[Loop] retrying model call", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := l.cfg.Client.Complete(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if llm.IsContextLengthExceeded(err) {
			// Retrying the same window cannot help.
			return nil, err
		}
		slog.Error("[Loop] model call failed", "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func convertToolCalls(calls []llm.ToolCall) ([]conversation.ToolCall, int) {
	out := make([]conversation.ToolCall, 0, len(calls))
	invalid := 0
	for _, tc := range calls {
		call := conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
		if !ValidArguments(call) {
			invalid++
		}
		out = append(out, call)
	}
	return out, invalid
}
