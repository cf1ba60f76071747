package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func round(id, response string, calls ...ToolCall) *Round {
	return &Round{ID: id, Response: response, ToolCalls: calls}
}

func TestStartTurnRejectsSecondInFlight(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("first")
	require.NoError(t, err)

	_, err = s.StartTurn("second")
	require.ErrorIs(t, err, ErrTurnInFlight)
}

func TestAppendRoundRequiresOpenTurn(t *testing.T) {
	s := NewStore()
	err := s.AppendRound(round("r1", "hi"))
	require.ErrorIs(t, err, ErrNoTurnInFlight)
}

func TestAppendRoundRejectsDuplicateID(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)

	require.NoError(t, s.AppendRound(round("r1", "a")))
	require.Error(t, s.AppendRound(round("r1", "b")))
}

func TestCompleteTurnMovesToHistory(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "done")))

	turn, err := s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, turn.Status)
	require.Nil(t, s.Current())
	require.Len(t, s.History(), 1)

	_, err = s.CompleteTurn(StatusSuccess)
	require.ErrorIs(t, err, ErrNoTurnInFlight)
}

func TestAttachSummaryInFlight(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "a")))
	require.NoError(t, s.AppendRound(round("r2", "b")))

	s.AttachSummary("r1", "digest")

	cur := s.Current()
	require.True(t, cur.Rounds[0].Summarized())
	require.Equal(t, "digest", *cur.Rounds[0].Summary)
	require.False(t, cur.Rounds[1].Summarized())
	// In-flight attachment does not touch persisted metadata yet.
	require.Nil(t, cur.Metadata)
}

func TestAttachSummaryHistoricalUpdatesMetadata(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "a")))
	_, err = s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)

	s.AttachSummary("r1", "digest")

	turn := s.History()[0]
	require.True(t, turn.Rounds[0].Summarized())
	require.NotNil(t, turn.Metadata)
	require.Equal(t, "digest", turn.Metadata.SummaryText)
	require.Equal(t, "r1", turn.Metadata.SummarizedRoundID)
}

func TestAttachSummaryIdempotent(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "a")))

	s.AttachSummary("r1", "digest")
	s.AttachSummary("r1", "digest")

	cur := s.Current()
	require.True(t, cur.Rounds[0].Summarized())
	require.Equal(t, "digest", *cur.Rounds[0].Summary)
}

func TestAttachSummaryUnknownRoundIsNoOp(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "a")))

	s.AttachSummary("missing", "digest")

	require.False(t, s.Current().Rounds[0].Summarized())
}

func TestCompleteTurnPersistsMostRecentSummary(t *testing.T) {
	s := NewStore()
	_, err := s.StartTurn("req")
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(round("r1", "a")))
	require.NoError(t, s.AppendRound(round("r2", "b")))
	s.AttachSummary("r1", "old digest")
	s.AttachSummary("r2", "new digest")

	turn, err := s.CompleteTurn(StatusSuccess)
	require.NoError(t, err)
	require.NotNil(t, turn.Metadata)
	require.Equal(t, "new digest", turn.Metadata.SummaryText)
	require.Equal(t, "r2", turn.Metadata.SummarizedRoundID)
}

func TestRestoreRederivesSummaries(t *testing.T) {
	turns := []*Turn{
		{
			ID:      "t1",
			Request: "req",
			Status:  StatusSuccess,
			Rounds:  []*Round{round("r1", "a"), round("r2", "b")},
			Metadata: &ResultMetadata{
				SummaryText:       "digest",
				SummarizedRoundID: "r1",
			},
		},
	}

	s := NewStore()
	s.Restore(turns)

	got := s.History()
	require.Len(t, got, 1)
	require.True(t, got[0].Rounds[0].Summarized())
	require.Equal(t, "digest", *got[0].Rounds[0].Summary)
	require.False(t, got[0].Rounds[1].Summarized())
	require.NotNil(t, got[0].Results)
}

func TestMarkToolCallLimitExceeded(t *testing.T) {
	s := NewStore()
	require.ErrorIs(t, s.MarkToolCallLimitExceeded(), ErrNoTurnInFlight)

	_, err := s.StartTurn("req")
	require.NoError(t, err)
	require.NoError(t, s.MarkToolCallLimitExceeded())
	require.True(t, s.Current().Metadata.ToolCallLimitExceeded)
}
