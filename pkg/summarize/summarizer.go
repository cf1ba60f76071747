// Package summarize compresses conversation history into a bounded digest
// when the tool-calling loop reports it is about to exceed the model's
// context budget. The caller decides when to trigger; this package decides
// what range a summary covers, builds the out-of-band request, validates the
// result, and attaches it to the target round as the single atomic last
// step. Every failure propagates; nothing here is silently swallowed.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkosler/aide/pkg/conversation"
	"github.com/mkosler/aide/pkg/llm"
	"github.com/mkosler/aide/pkg/prompt"
	"github.com/mkosler/aide/pkg/telemetry"
	"github.com/mkosler/aide/pkg/tokenizer"
)

var (
	// ErrNothingToSummarize means there are no rounds and no history to
	// compress. Raised synchronously before any model call.
	ErrNothingToSummarize = errors.New("nothing to summarize: no rounds and no history")
	// ErrBudgetExceeded means assembling the summarization request itself
	// overflowed the available token budget.
	ErrBudgetExceeded = errors.New("summarization request exceeds token budget")
	// ErrSummaryTooLarge means the model complied but its summary exceeds
	// the allotted token budget. Failing loudly beats silently truncating a
	// digest.
	ErrSummaryTooLarge = errors.New("summary exceeds allotted token budget")
	// ErrSummarizationFailed is the generic failure for a non-success
	// model response; the original response status is kept in telemetry.
	ErrSummarizationFailed = errors.New("summarization request failed")
)

// Telemetry outcome tags, one per terminal state.
const (
	outcomeBudgetExceeded = "budget_exceeded"
	outcomeRenderError    = "renderError"
	outcomeRequestThrow   = "requestThrow"
	outcomeFailed         = "failed"
	outcomeTooLarge       = "too_large"
	outcomeSuccess        = "success"
)

const telemetryEvent = "conversation.summarize"

// summaryCharBudget is the character cap stated in the digest instruction.
// The token budget in Sizing is enforced independently on the response.
const summaryCharBudget = 10000

const digestInstruction = `Summarize the conversation so far into a digest another agent can resume
from. Structure it as:
- Task: what the user asked for, in one or two sentences.
- Completed: work already done, including files read or modified.
- Pending: work still to do, in order.
- Code state: relevant file contents, signatures, or snippets worth keeping.
- Open dependencies: anything blocking progress (missing results, errors,
  unanswered questions).
Keep the digest under %d characters. Output only the digest.`

// Sizing carries the token budgets for one summarization pass.
type Sizing struct {
	// ContextWindow is the token budget available for building the
	// summarization request itself.
	ContextWindow int
	// SummaryTokenBudget is the cap on the produced summary, measured with
	// the response tokenizer. Zero means ContextWindow/8.
	SummaryTokenBudget int
}

func (s Sizing) summaryBudget() int {
	if s.SummaryTokenBudget > 0 {
		return s.SummaryTokenBudget
	}
	return s.ContextWindow / 8
}

// PromptContext is the conversation state a summarization pass reads.
type PromptContext struct {
	Store        *conversation.Store
	SystemPrompt string
	// Artifact is a snapshot of the actively-edited external artifact, if
	// any; it is embedded in the summarizer's own bounded sub-context.
	Artifact *prompt.Artifact
	// Tools are passed for descriptive purposes only; the request forces
	// tool choice "none".
	Tools []llm.ToolSpec
}

// Outcome pairs the produced summary with the round it was attached to, so
// the caller can re-inject a meta marker into its next rendered request.
type Outcome struct {
	Summary string
	RoundID string
	// CoversCurrentRequest is set when the summary's range runs through
	// "now" past the in-flight turn's user message; the caller must omit
	// that message from replays for the rest of the turn.
	CoversCurrentRequest bool
}

// Progress receives cosmetic status updates. It does not synchronize with
// the data model.
type Progress interface {
	Report(message string)
}

// Summarizer builds and commits history summaries.
type Summarizer struct {
	client    llm.Client
	counter   tokenizer.Counter
	telemetry telemetry.Sink
}

// New creates a Summarizer. A nil sink is replaced with a no-op sink.
func New(client llm.Client, counter tokenizer.Counter, sink telemetry.Sink) *Summarizer {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Summarizer{client: client, counter: counter, telemetry: sink}
}

// Summarize compresses the context described by pc and attaches the result
// to the target round. Attachment happens only after every validation
// passed and the call was not cancelled; on any error the store is
// untouched.
func (s *Summarizer) Summarize(ctx context.Context, pc PromptContext, sizing Sizing, progress Progress) (*Outcome, error) {
	started := time.Now()

	target, err := selectTarget(pc.Store)
	if err != nil {
		return nil, err
	}

	messages, err := s.buildRequest(pc, target)
	if err != nil {
		s.emit(outcomeRenderError, "", started)
		return nil, err
	}

	if requestTokens := s.countMessages(messages); requestTokens > sizing.ContextWindow {
		s.emit(outcomeBudgetExceeded, "", started)
		return nil, fmt.Errorf("%w: %d tokens for a window of %d", ErrBudgetExceeded, requestTokens, sizing.ContextWindow)
	}

	if progress != nil {
		progress.Report("Summarizing conversation history...")
	}

	resp, err := s.client.Complete(ctx, messages, llm.Options{
		Temperature: llm.Temperature(0.1),
		MaxTokens:   sizing.summaryBudget(),
		Tools:       pc.Tools,
		ToolChoice:  "none",
	})
	if err != nil {
		s.emit(outcomeRequestThrow, "", started)
		return nil, fmt.Errorf("summarization request: %w", err)
	}
	if resp.Status != llm.StatusSuccess {
		s.emit(outcomeFailed, string(resp.Status), started)
		return nil, fmt.Errorf("%w: response status %s", ErrSummarizationFailed, resp.Status)
	}

	budget := sizing.summaryBudget()
	if summaryTokens := s.counter.Count(resp.Text); summaryTokens > budget {
		s.emit(outcomeTooLarge, "", started)
		return nil, fmt.Errorf("%w: %d tokens for a budget of %d", ErrSummaryTooLarge, summaryTokens, budget)
	}

	// Single, atomic last step: nothing above mutated the store.
	pc.Store.AttachSummary(target.roundID, resp.Text)
	s.emit(outcomeSuccess, "", started)
	slog.Info("[Summarize] attached summary", "roundId", target.roundID,
		"chars", len(resp.Text), "coversRequest", target.coversRequest)

	return &Outcome{
		Summary:              resp.Text,
		RoundID:              target.roundID,
		CoversCurrentRequest: target.coversRequest,
	}, nil
}

// target describes the summarization range.
type target struct {
	// roundID is the round the summary will be attached to.
	roundID string
	// dropLastRound marks the in-turn case: the final in-flight round
	// stays live and is excluded from the range being digested.
	dropLastRound bool
	// coversRequest marks the range as running through "now", past the
	// in-flight turn's user message.
	coversRequest bool
}

// selectTarget picks which round receives the summary.
//
// With more than one in-flight round, everything except the last is
// summarized (the last round is what pushed over budget and remains live
// context), so the target is the second-to-last round. Otherwise the range
// covers everything through the last round of the most recent historical
// turn that has rounds, which also covers the in-flight user message.
func selectTarget(store *conversation.Store) (target, error) {
	if cur := store.Current(); cur != nil && len(cur.Rounds) > 1 {
		n := len(cur.Rounds)
		return target{roundID: cur.Rounds[n-2].ID, dropLastRound: true}, nil
	}

	history := store.History()
	for i := len(history) - 1; i >= 0; i-- {
		if last := history[i].LastRound(); last != nil {
			return target{roundID: last.ID, coversRequest: true}, nil
		}
	}
	return target{}, ErrNothingToSummarize
}

// buildRequest renders the summarization request: the replay of everything
// the summary must cover, the artifact snapshot, and the digest
// instruction.
func (s *Summarizer) buildRequest(pc PromptContext, t target) ([]llm.Message, error) {
	units := pc.Store.WindowHistory(conversation.WindowOptions{})
	if t.dropLastRound && len(units) > 0 {
		// In-turn target: the final live round is what pushed over budget
		// and is excluded from the range being digested.
		last := &units[len(units)-1]
		if last.Kind == conversation.UnitTurn && len(last.Rounds) > 0 {
			last.Rounds = last.Rounds[:len(last.Rounds)-1]
		}
	}

	return prompt.Render(prompt.Props{
		SystemPrompt: pc.SystemPrompt,
		Artifact:     pc.Artifact,
		Units:        units,
		Instruction:  fmt.Sprintf(digestInstruction, summaryCharBudget),
	})
}

func (s *Summarizer) countMessages(messages []llm.Message) int {
	return s.counter.CountAll(prompt.FlattenText(messages)...)
}

func (s *Summarizer) emit(outcome, responseStatus string, started time.Time) {
	props := map[string]string{"outcome": outcome}
	if responseStatus != "" {
		props["responseStatus"] = responseStatus
	}
	s.telemetry.Emit(telemetryEvent, props, map[string]float64{
		"durationMs": float64(time.Since(started).Milliseconds()),
	})
}
