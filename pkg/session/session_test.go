package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkosler/aide/pkg/conversation"
)

func completeTurn(t *testing.T, s *conversation.Store, request, response string) *conversation.Turn {
	t.Helper()
	_, err := s.StartTurn(request)
	require.NoError(t, err)
	require.NoError(t, s.AppendRound(conversation.NewRound(response, nil)))
	turn, err := s.CompleteTurn(conversation.StatusSuccess)
	require.NoError(t, err)
	return turn
}

func TestRecordAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	sess := New(dir)
	turn1 := completeTurn(t, sess.Store(), "first", "answer one")
	require.NoError(t, sess.RecordTurn(turn1))
	turn2 := completeTurn(t, sess.Store(), "second", "answer two")
	require.NoError(t, sess.RecordTurn(turn2))

	loaded, err := Load(dir)
	require.NoError(t, err)
	history := loaded.Store().History()
	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Request)
	require.Equal(t, "answer one", history[0].Rounds[0].Response)
	require.Equal(t, "second", history[1].Request)
	require.Equal(t, sess.ID(), loaded.ID())
}

func TestLoadMissingFileYieldsFreshSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-written")
	sess, err := Load(dir)
	require.NoError(t, err)
	require.Empty(t, sess.Store().History())
}

func TestLoadRestoresSummariesFromMetadata(t *testing.T) {
	dir := t.TempDir()

	sess := New(dir)
	turn := completeTurn(t, sess.Store(), "first", "long answer")
	roundID := turn.Rounds[0].ID
	sess.Store().AttachSummary(roundID, "the digest")
	require.NoError(t, sess.Rewrite())

	loaded, err := Load(dir)
	require.NoError(t, err)
	round := loaded.Store().History()[0].Rounds[0]
	require.True(t, round.Summarized())
	require.Equal(t, "the digest", *round.Summary)
}

func TestRewriteReplacesAppendedLog(t *testing.T) {
	dir := t.TempDir()

	sess := New(dir)
	turn := completeTurn(t, sess.Store(), "first", "answer")
	require.NoError(t, sess.RecordTurn(turn))
	require.NoError(t, sess.Rewrite())

	data, err := os.ReadFile(filepath.Join(dir, "turns.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// Header plus exactly one turn entry; the rewrite does not duplicate.
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"type":"session"`)
	require.Contains(t, lines[1], `"type":"turn"`)
}

func TestLoadSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()

	sess := New(dir)
	turn := completeTurn(t, sess.Store(), "first", "answer")
	require.NoError(t, sess.RecordTurn(turn))

	path := filepath.Join(dir, "turns.jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = file.WriteString("{garbage\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Store().History(), 1)
}

func TestClearRemovesFileAndState(t *testing.T) {
	dir := t.TempDir()

	sess := New(dir)
	turn := completeTurn(t, sess.Store(), "first", "answer")
	require.NoError(t, sess.RecordTurn(turn))

	require.NoError(t, sess.Clear())
	require.Empty(t, sess.Store().History())
	_, err := os.Stat(filepath.Join(dir, "turns.jsonl"))
	require.True(t, os.IsNotExist(err))
}

func TestInMemorySessionNeverPersists(t *testing.T) {
	sess := New("")
	turn := completeTurn(t, sess.Store(), "first", "answer")
	require.NoError(t, sess.RecordTurn(turn))
	require.NoError(t, sess.Rewrite())
	require.NotEmpty(t, sess.ID())
}

func TestSanitizePath(t *testing.T) {
	got := sanitizePath("/home/user/project")
	require.Equal(t, "--home-user-project--", got)
	require.False(t, strings.ContainsRune(got, os.PathSeparator))
}

func TestListOrdersNewestFirst(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"older", "newer"} {
		dir := filepath.Join(root, name)
		sess := New(dir)
		turn := completeTurn(t, sess.Store(), "req", "resp")
		require.NoError(t, sess.RecordTurn(turn))
	}
	older := filepath.Join(root, "older", "turns.jsonl")
	past := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	ids, err := List(root)
	require.NoError(t, err)
	require.Equal(t, []string{"newer", "older"}, ids)
}

func TestListMissingRoot(t *testing.T) {
	ids, err := List(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, ids)
}
