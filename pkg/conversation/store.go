package conversation

import (
	"errors"
	"fmt"
)

// ErrTurnInFlight is returned when a new turn is started while another is
// still open.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// ErrNoTurnInFlight is returned for round operations without an open turn.
var ErrNoTurnInFlight = errors.New("no turn in flight")

// Store holds the ordered log of turns for one conversation session plus the
// turn currently being driven by the tool-calling loop.
//
// Rounds are summarized, never deleted; there is no removal operation. The
// session that owns the store is the only mutator, so the store itself does
// not lock. AttachSummary is the single entry point for mutating a round
// after it was appended.
type Store struct {
	turns   []*Turn
	current *Turn
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// StartTurn opens a new in-flight turn for a user request.
func (s *Store) StartTurn(request string) (*Turn, error) {
	if s.current != nil {
		return nil, ErrTurnInFlight
	}
	s.current = NewTurn(request)
	return s.current, nil
}

// Current returns the in-flight turn, or nil when none is open.
func (s *Store) Current() *Turn {
	return s.current
}

// AppendRound appends a round to the in-flight turn. Round ids must be
// unique within the turn.
func (s *Store) AppendRound(round *Round) error {
	if s.current == nil {
		return ErrNoTurnInFlight
	}
	for _, r := range s.current.Rounds {
		if r.ID == round.ID {
			return fmt.Errorf("duplicate round id %s in turn %s", round.ID, s.current.ID)
		}
	}
	s.current.Rounds = append(s.current.Rounds, round)
	return nil
}

// SetToolResult records a tool-call result in the in-flight turn's table.
func (s *Store) SetToolResult(callID, payload string) error {
	if s.current == nil {
		return ErrNoTurnInFlight
	}
	s.current.Results[callID] = payload
	return nil
}

// CompleteTurn closes the in-flight turn with the given status and moves it
// into history. If any round of the turn carries a summary, the most recent
// one is copied into the turn's persisted metadata so a reload can restore
// it.
func (s *Store) CompleteTurn(status ResponseStatus) (*Turn, error) {
	if s.current == nil {
		return nil, ErrNoTurnInFlight
	}
	turn := s.current
	turn.Status = status
	for i := len(turn.Rounds) - 1; i >= 0; i-- {
		if turn.Rounds[i].Summarized() {
			md := turn.ensureMetadata()
			md.SummaryText = *turn.Rounds[i].Summary
			md.SummarizedRoundID = turn.Rounds[i].ID
			break
		}
	}
	s.turns = append(s.turns, turn)
	s.current = nil
	return turn, nil
}

// History returns completed turns in chronological order, excluding the
// in-flight one. The returned slice is shared; callers must not mutate it.
func (s *Store) History() []*Turn {
	return s.turns
}

// AttachSummary records a summary against the round with the given id,
// wherever it lives: the in-flight turn's rounds are searched first, then
// historical turns most-recent-first. Attaching the same text twice is a
// no-op, as is a round id that no longer exists (the caller may race with a
// normalization pass that already pruned it).
func (s *Store) AttachSummary(roundID, text string) {
	if s.current != nil {
		for _, r := range s.current.Rounds {
			if r.ID == roundID {
				r.Summary = &text
				return
			}
		}
	}
	for i := len(s.turns) - 1; i >= 0; i-- {
		turn := s.turns[i]
		for _, r := range turn.Rounds {
			if r.ID == roundID {
				r.Summary = &text
				md := turn.ensureMetadata()
				md.SummaryText = text
				md.SummarizedRoundID = r.ID
				return
			}
		}
	}
}

// MarkToolCallLimitExceeded flags the in-flight turn as interrupted by the
// per-request tool-call ceiling. Windowing then resolves the turn's final
// round results from the following turn's table.
func (s *Store) MarkToolCallLimitExceeded() error {
	if s.current == nil {
		return ErrNoTurnInFlight
	}
	s.current.ensureMetadata().ToolCallLimitExceeded = true
	return nil
}

// Restore rebuilds the store from persisted turns, re-deriving round
// summaries from each turn's metadata. Used on session load after a process
// restart.
func (s *Store) Restore(turns []*Turn) {
	s.turns = s.turns[:0]
	s.current = nil
	for _, turn := range turns {
		if turn.Results == nil {
			turn.Results = make(map[string]string)
		}
		if md := turn.Metadata; md != nil && md.SummaryText != "" && md.SummarizedRoundID != "" {
			for _, r := range turn.Rounds {
				if r.ID == md.SummarizedRoundID && !r.Summarized() {
					text := md.SummaryText
					r.Summary = &text
					break
				}
			}
		}
		s.turns = append(s.turns, turn)
	}
}

func (t *Turn) ensureMetadata() *ResultMetadata {
	if t.Metadata == nil {
		t.Metadata = &ResultMetadata{}
	}
	return t.Metadata
}
