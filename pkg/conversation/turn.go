package conversation

import (
	"strings"

	"github.com/google/uuid"
)

// ResponseStatus describes how a turn ended.
type ResponseStatus string

const (
	StatusSuccess   ResponseStatus = "success"
	StatusError     ResponseStatus = "error"
	StatusFiltered  ResponseStatus = "filtered"
	StatusOffTopic  ResponseStatus = "offTopic"
	StatusCancelled ResponseStatus = "cancelled"
	StatusUnknown   ResponseStatus = "unknown"
)

// ToolCall is one tool invocation requested by the model within a round.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // serialized JSON
}

// Round is one iteration of the tool-calling loop within a turn.
//
// Summary is nil until the summarizer back-patches it. Once set, every round
// that precedes this one in the conversation is covered by the summary and
// must not be replayed verbatim.
type Round struct {
	ID               string     `json:"id"`
	Response         string     `json:"response,omitempty"`
	Summary          *string    `json:"summary,omitempty"`
	ToolInputRetries int        `json:"toolInputRetries,omitempty"`
	ToolCalls        []ToolCall `json:"toolCalls,omitempty"`
}

// ResultMetadata is the slice of turn state that survives a process restart.
// A later session load re-derives round summaries from it instead of
// re-summarizing from scratch.
type ResultMetadata struct {
	SummaryText           string `json:"summary,omitempty"`
	SummarizedRoundID     string `json:"summarizedRoundId,omitempty"`
	ToolCallLimitExceeded bool   `json:"toolCallLimitExceeded,omitempty"`
}

// Turn is one user request/response exchange, including every tool-calling
// round the loop produced while answering it.
//
// Results holds tool-call payloads keyed by tool-call id. When the previous
// turn hit the per-request tool-call ceiling, its final round's results live
// here instead (cross-turn indirection, see ResolveResults).
type Turn struct {
	ID       string            `json:"id"`
	Request  string            `json:"request"`
	Status   ResponseStatus    `json:"status"`
	Rounds   []*Round          `json:"rounds,omitempty"`
	Results  map[string]string `json:"results,omitempty"`
	Metadata *ResultMetadata   `json:"metadata,omitempty"`
}

// NewTurn creates an in-flight turn for a user request.
func NewTurn(request string) *Turn {
	return &Turn{
		ID:      newID(),
		Request: request,
		Status:  StatusUnknown,
		Results: make(map[string]string),
	}
}

// NewRound creates an empty round with a fresh id.
func NewRound(response string, calls []ToolCall) *Round {
	return &Round{
		ID:        newID(),
		Response:  response,
		ToolCalls: calls,
	}
}

// Summarized reports whether the round carries a summary.
func (r *Round) Summarized() bool {
	return r.Summary != nil
}

// LastRound returns the turn's final round, or nil if it has none.
func (t *Turn) LastRound() *Round {
	if len(t.Rounds) == 0 {
		return nil
	}
	return t.Rounds[len(t.Rounds)-1]
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
