package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// completedTurn appends a finished turn directly to history.
func completedTurn(s *Store, t *testing.T, request string, rounds ...*Round) *Turn {
	t.Helper()
	turn, err := s.StartTurn(request)
	require.NoError(t, err)
	for _, r := range rounds {
		require.NoError(t, s.AppendRound(r))
	}
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)
	return turn
}

func TestWindowEmptyStore(t *testing.T) {
	s := NewStore()
	require.Empty(t, s.WindowHistory(WindowOptions{}))
}

func TestWindowChronologicalOrder(t *testing.T) {
	s := NewStore()
	completedTurn(s, t, "first", round("r1", "one"))
	completedTurn(s, t, "second", round("r2", "two"))
	_, err := s.StartTurn("third")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r3", "three")))

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 4)

	require.Equal(t, UnitTurn, units[0].Kind)
	require.Equal(t, "first", units[0].Request)
	require.Equal(t, UnitTurn, units[1].Kind)
	require.Equal(t, "second", units[1].Request)
	require.Equal(t, UnitRequest, units[2].Kind)
	require.Equal(t, "third", units[2].Request)
	require.Equal(t, UnitTurn, units[3].Kind)
	require.Empty(t, units[3].Request)
	require.Equal(t, "r3", units[3].Rounds[0].Round.ID)
}

func TestWindowRoundOrderPreserved(t *testing.T) {
	s := NewStore()
	completedTurn(s, t, "req", round("r1", "one"), round("r2", "two"), round("r3", "three"))

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 1)
	require.Len(t, units[0].Rounds, 3)
	require.Equal(t, "r1", units[0].Rounds[0].Round.ID)
	require.Equal(t, "r2", units[0].Rounds[1].Round.ID)
	require.Equal(t, "r3", units[0].Rounds[2].Round.ID)
}

func TestWindowSummaryStopsWalk(t *testing.T) {
	s := NewStore()
	completedTurn(s, t, "ancient", round("r0", "zero"))
	completedTurn(s, t, "old", round("r1", "one"), round("r2", "two"), round("r3", "three"))
	s.AttachSummary("r2", "digest X")

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 2)

	// The summary block replaces the summarized round and everything
	// earlier, including the older turn entirely.
	require.Equal(t, UnitSummary, units[0].Kind)
	require.Equal(t, "digest X", units[0].Summary)
	require.Equal(t, "r2", units[0].RoundID)

	// Only the tail after the summarized round replays verbatim, with no
	// duplicated user request.
	require.Equal(t, UnitTurn, units[1].Kind)
	require.Empty(t, units[1].Request)
	require.Len(t, units[1].Rounds, 1)
	require.Equal(t, "r3", units[1].Rounds[0].Round.ID)
}

func TestWindowSummaryInCurrentTurn(t *testing.T) {
	s := NewStore()
	completedTurn(s, t, "old", round("r0", "zero"))
	_, err := s.StartTurn("now")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "one")))
	require.NoError(t, s.AppendRound(round("r2", "two")))
	s.AttachSummary("r1", "digest")

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 3)
	require.Equal(t, UnitRequest, units[0].Kind)
	require.Equal(t, "now", units[0].Request)
	require.Equal(t, UnitSummary, units[1].Kind)
	require.Equal(t, UnitTurn, units[2].Kind)
	require.Len(t, units[2].Rounds, 1)
	require.Equal(t, "r2", units[2].Rounds[0].Round.ID)
}

func TestWindowOmitRequest(t *testing.T) {
	s := NewStore()
	completedTurn(s, t, "old", round("r1", "one"))
	s.AttachSummary("r1", "digest")
	_, err := s.StartTurn("now")
	require.NoError(t, err)

	units := s.WindowHistory(WindowOptions{OmitRequest: true})
	require.Len(t, units, 1)
	require.Equal(t, UnitSummary, units[0].Kind)

	units = s.WindowHistory(WindowOptions{})
	require.Len(t, units, 2)
	require.Equal(t, UnitSummary, units[0].Kind)
	require.Equal(t, UnitRequest, units[1].Kind)
}

func TestWindowResultsResolveFromOwnTable(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)
	calls := []ToolCall{{ID: "c1", Name: "read", Arguments: `{"path":"a.go"}`}}
	require.NoError(t, s.AppendRound(round("r1", "reading", calls...)))
	require.NoError(t, s.SetToolResult("c1", "contents"))
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 1)
	require.Equal(t, "contents", units[0].Rounds[0].Results["c1"])
}

func TestWindowCeilingIndirectionAcrossTurns(t *testing.T) {
	s := NewStore()

	// Turn A hits the ceiling: its final round's calls never executed
	// during the turn, so its own table stays empty for them.
	_, err := s.StartTurn("turn a")
	require.NoError(t, err)
	calls := []ToolCall{{ID: "c1", Name: "read", Arguments: `{"path":"a.go"}`}}
	require.NoError(t, s.AppendRound(round("ra", "interrupted", calls...)))
	require.NoError(t, s.MarkToolCallLimitExceeded())
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)

	// Turn B executes the deferred calls into its own table.
	_, err = s.StartTurn("turn b")
	require.NoError(t, err)
	require.NoError(t, s.SetToolResult("c1", "deferred contents"))
	require.NoError(t, s.AppendRound(round("rb", "resumed")))
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 2)
	require.Equal(t, "deferred contents", units[0].Rounds[0].Results["c1"])
}

func TestWindowCeilingKeepsEarlierRoundsOwnResults(t *testing.T) {
	s := NewStore()

	// Turn A ran a normal round whose results landed in its own table,
	// then a second round hit the ceiling and deferred its calls.
	_, err := s.StartTurn("turn a")
	require.NoError(t, err)
	localCalls := []ToolCall{{ID: "c0", Name: "read", Arguments: `{"path":"a.go"}`}}
	require.NoError(t, s.AppendRound(round("ra1", "first read", localCalls...)))
	require.NoError(t, s.SetToolResult("c0", "local contents"))
	deferredCalls := []ToolCall{{ID: "c1", Name: "read", Arguments: `{"path":"b.go"}`}}
	require.NoError(t, s.AppendRound(round("ra2", "interrupted", deferredCalls...)))
	require.NoError(t, s.MarkToolCallLimitExceeded())
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)

	_, err = s.StartTurn("turn b")
	require.NoError(t, err)
	require.NoError(t, s.SetToolResult("c1", "deferred contents"))
	require.NoError(t, s.AppendRound(round("rb", "resumed")))
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 2)

	// The first round resolves from turn A's own table; only the
	// interrupted round falls through to turn B's.
	require.Equal(t, "local contents", units[0].Rounds[0].Results["c0"])
	require.Equal(t, "deferred contents", units[0].Rounds[1].Results["c1"])
}

func TestWindowCeilingIndirectionIntoInFlightTurn(t *testing.T) {
	s := NewStore()

	_, err := s.StartTurn("turn a")
	require.NoError(t, err)
	calls := []ToolCall{{ID: "c1", Name: "read", Arguments: "{}"}}
	require.NoError(t, s.AppendRound(round("ra", "interrupted", calls...)))
	require.NoError(t, s.MarkToolCallLimitExceeded())
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)

	// The most recent historical turn resolves from the in-flight table.
	_, err = s.StartTurn("turn b")
	require.NoError(t, err)
	require.NoError(t, s.SetToolResult("c1", "live contents"))

	units := s.WindowHistory(WindowOptions{})
	require.Equal(t, UnitTurn, units[0].Kind)
	require.Equal(t, "live contents", units[0].Rounds[0].Results["c1"])
}

// Round-trip scenario: three rounds in flight, the second-to-last round is
// summarized, and the next replay is [request, digest, final round].
func TestWindowSummarizationRoundTrip(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("build it")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "plan")))
	require.NoError(t, s.AppendRound(round("r2", "implement")))
	require.NoError(t, s.AppendRound(round("r3", "verify")))

	s.AttachSummary("r2", "digest X")

	units := s.WindowHistory(WindowOptions{})
	require.Len(t, units, 3)
	require.Equal(t, UnitRequest, units[0].Kind)
	require.Equal(t, "build it", units[0].Request)
	require.Equal(t, UnitSummary, units[1].Kind)
	require.Equal(t, "digest X", units[1].Summary)
	require.Equal(t, UnitTurn, units[2].Kind)
	require.Len(t, units[2].Rounds, 1)
	require.Equal(t, "r3", units[2].Rounds[0].Round.ID)
}
