package conversation

// UnitKind discriminates replay units.
type UnitKind string

const (
	// UnitRequest is a bare user message with no round content.
	UnitRequest UnitKind = "request"
	// UnitSummary is a condensed summary block standing in for every round
	// at or before the round that carries it.
	UnitSummary UnitKind = "summary"
	// UnitTurn is a verbatim turn, or the tail of one when an earlier round
	// of the same turn was summarized (Request is empty in that case).
	UnitTurn UnitKind = "turn"
)

// ReplayRound is a round bundled with its resolved tool-call results.
type ReplayRound struct {
	Round   *Round
	Results map[string]string
}

// ReplayUnit is one element of the message replay fed to the model.
type ReplayUnit struct {
	Kind    UnitKind
	Request string
	Summary string
	RoundID string // round the summary was attached to
	TurnID  string
	Rounds  []ReplayRound
}

// WindowOptions tunes a single WindowHistory call.
type WindowOptions struct {
	// OmitRequest drops the in-flight turn's user message from the replay.
	// Set for the rest of the turn after a summarization whose target was
	// in a historical turn: that summary runs through "now" and already
	// covers the message.
	OmitRequest bool
}

// WindowHistory produces the replay units for the next model request.
//
// The scan runs newest-first: first the in-flight turn's rounds, then
// historical turns. The first round found carrying a summary emits one
// summary block and terminates the entire walk; everything older is covered
// by that summary and is dropped. Rounds scanned before the summary was hit
// replay verbatim. The collected units are reversed once at the end so the
// output reads oldest-first like a normal transcript.
func (s *Store) WindowHistory(opts WindowOptions) []ReplayUnit {
	// Collected in reverse chronological order, reversed before return.
	units := make([]ReplayUnit, 0, len(s.turns)+2)
	stopped := false

	if cur := s.current; cur != nil {
		kept, summary := scanRounds(cur.Rounds, cur.Results, nil)
		if len(kept) > 0 {
			units = append(units, ReplayUnit{Kind: UnitTurn, TurnID: cur.ID, Rounds: reverseRounds(kept)})
		}
		if summary != nil {
			units = append(units, *summary)
			stopped = true
		}
		if !opts.OmitRequest {
			units = append(units, ReplayUnit{Kind: UnitRequest, Request: cur.Request})
		}
	}

	for i := len(s.turns) - 1; i >= 0 && !stopped; i-- {
		turn := s.turns[i]
		kept, summary := scanRounds(turn.Rounds, turn.Results, s.deferredResultTable(i))
		if summary != nil {
			// The summary covers this turn's request and every earlier
			// round; only the tail after the summarized round survives.
			if len(kept) > 0 {
				units = append(units, ReplayUnit{Kind: UnitTurn, TurnID: turn.ID, Rounds: reverseRounds(kept)})
			}
			units = append(units, *summary)
			stopped = true
			break
		}
		units = append(units, ReplayUnit{
			Kind:    UnitTurn,
			TurnID:  turn.ID,
			Request: turn.Request,
			Rounds:  reverseRounds(kept),
		})
	}

	for i, j := 0, len(units)-1; i < j; i, j = i+1, j-1 {
		units[i], units[j] = units[j], units[i]
	}
	return units
}

// scanRounds walks rounds newest-first, collecting verbatim rounds until a
// summarized round terminates the scan. The returned slice is in scan
// (reverse) order. Results resolve from table, falling back to fallback for
// ids not present there.
func scanRounds(rounds []*Round, table, fallback map[string]string) ([]ReplayRound, *ReplayUnit) {
	kept := make([]ReplayRound, 0, len(rounds))
	for i := len(rounds) - 1; i >= 0; i-- {
		r := rounds[i]
		if r.Summarized() {
			return kept, &ReplayUnit{Kind: UnitSummary, Summary: *r.Summary, RoundID: r.ID}
		}
		kept = append(kept, ReplayRound{Round: r, Results: roundResults(r, table, fallback)})
	}
	return kept, nil
}

// deferredResultTable returns the fallback tool-result table for the
// historical turn at index i. A turn that hit the tool-call ceiling had its
// interrupted round's calls executed against the following turn's context;
// only ids absent from the turn's own table resolve through it. For the
// most recent historical turn that context is the in-flight turn's table.
func (s *Store) deferredResultTable(i int) map[string]string {
	turn := s.turns[i]
	if turn.Metadata == nil || !turn.Metadata.ToolCallLimitExceeded {
		return nil
	}
	if i+1 < len(s.turns) {
		return s.turns[i+1].Results
	}
	if s.current != nil {
		return s.current.Results
	}
	return nil
}

func roundResults(r *Round, table, fallback map[string]string) map[string]string {
	if len(r.ToolCalls) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		if payload, ok := table[tc.ID]; ok {
			out[tc.ID] = payload
		} else if payload, ok := fallback[tc.ID]; ok {
			out[tc.ID] = payload
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func reverseRounds(rounds []ReplayRound) []ReplayRound {
	for i, j := 0, len(rounds)-1; i < j; i, j = i+1, j-1 {
		rounds[i], rounds[j] = rounds[j], rounds[i]
	}
	return rounds
}
