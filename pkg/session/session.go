// Package session persists completed conversation turns to an append-only
// JSONL file so a reloaded process can rebuild the store, including which
// historical rounds were summarized, without re-deriving anything.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mkosler/aide/pkg/conversation"
)

const currentVersion = 1

const (
	entryTypeSession = "session"
	entryTypeTurn    = "turn"
)

// Header is the first line of a session file.
type Header struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Cwd       string `json:"cwd"`
}

type entry struct {
	Type      string             `json:"type"`
	Timestamp string             `json:"timestamp"`
	Turn      *conversation.Turn `json:"turn,omitempty"`
}

// Session binds a conversation store to its on-disk log. An empty dir means
// an in-memory session that never persists.
type Session struct {
	mu      sync.Mutex
	dir     string
	header  Header
	store   *conversation.Store
	flushed bool
}

// New creates a fresh session writing under dir.
func New(dir string) *Session {
	cwd, _ := os.Getwd()
	return &Session{
		dir:   dir,
		store: conversation.NewStore(),
		header: Header{
			Type:      entryTypeSession,
			Version:   currentVersion,
			ID:        sessionID(dir),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Cwd:       cwd,
		},
	}
}

// Load reads a session file and rebuilds the store from it. Round summaries
// are restored from each turn's persisted metadata. A missing file yields a
// fresh session.
func Load(dir string) (*Session, error) {
	sess := New(dir)
	if dir == "" {
		return sess, nil
	}

	data, err := os.ReadFile(sess.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return sess, nil
		}
		return nil, err
	}

	turns := make([]*conversation.Turn, 0)
	for _, line := range splitLines(data) {
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		switch probe.Type {
		case entryTypeSession:
			var header Header
			if err := json.Unmarshal(line, &header); err == nil && header.ID != "" {
				sess.header = header
			}
		case entryTypeTurn:
			var e entry
			if err := json.Unmarshal(line, &e); err != nil || e.Turn == nil {
				continue
			}
			turns = append(turns, e.Turn)
		}
	}

	sess.store.Restore(turns)
	sess.flushed = true
	return sess, nil
}

// Store returns the session's conversation store.
func (s *Session) Store() *conversation.Store {
	return s.store
}

// ID returns the session id from the header.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.ID
}

// Dir returns the session directory.
func (s *Session) Dir() string {
	return s.dir
}

// RecordTurn appends a completed turn to the log.
func (s *Session) RecordTurn(turn *conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistEntry(&entry{
		Type:      entryTypeTurn,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Turn:      turn,
	})
}

// Rewrite persists the whole store, replacing the file. Called after a
// summary was back-patched into a historical turn so its metadata on disk
// matches memory.
func (s *Session) Rewrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return nil
	}
	return s.withFileLock(func() error {
		return s.rewriteLocked()
	})
}

// Clear removes all persisted state.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Restore(nil)
	s.header.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	if s.dir == "" {
		return nil
	}
	return s.withFileLock(func() error {
		if _, err := os.Stat(s.filePath()); err == nil {
			return os.Remove(s.filePath())
		}
		return nil
	})
}

func (s *Session) filePath() string {
	return filepath.Join(s.dir, "turns.jsonl")
}

func (s *Session) persistEntry(e *entry) error {
	if s.dir == "" {
		return nil
	}
	return s.withFileLock(func() error {
		if !s.flushed {
			return s.rewriteLocked()
		}
		if info, err := os.Stat(s.filePath()); err != nil || info.Size() == 0 {
			return s.rewriteLocked()
		}

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		data = append(data, '\n')

		file, err := os.OpenFile(s.filePath(), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := file.Write(data); err != nil {
			return err
		}
		return file.Sync()
	})
}

// rewriteLocked writes header plus every completed turn to a temp file and
// renames it into place.
func (s *Session) rewriteLocked() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.tmp-%d-%d", s.filePath(), os.Getpid(), time.Now().UnixNano())
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
		_ = os.Remove(tmpPath)
	}()

	encoder := json.NewEncoder(file)
	if err := encoder.Encode(s.header); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, turn := range s.store.History() {
		if err := encoder.Encode(&entry{Type: entryTypeTurn, Timestamp: now, Turn: turn}); err != nil {
			return err
		}
	}
	if err := file.Sync(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.filePath()); err != nil {
		return err
	}
	s.flushed = true
	return nil
}

func (s *Session) withFileLock(run func() error) error {
	lockPath := s.filePath() + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	}()
	return run()
}

// DefaultDir returns the default session directory for a working directory.
func DefaultDir(cwd string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".aide", "sessions", sanitizePath(cwd)), nil
}

func sessionID(dir string) string {
	if dir == "" {
		return uuid.NewString()
	}
	base := filepath.Base(dir)
	if base == "" || base == "." || base == "/" {
		return uuid.NewString()
	}
	return base
}

func sanitizePath(cwd string) string {
	clean := filepath.Clean(cwd)
	trimmed := strings.TrimPrefix(clean, string(os.PathSeparator))
	replaced := strings.NewReplacer(
		string(os.PathSeparator), "-",
		"\\", "-",
		":", "-",
	).Replace(trimmed)
	return fmt.Sprintf("--%s--", replaced)
}

func splitLines(data []byte) [][]byte {
	lines := make([][]byte, 0)
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// ErrNoSession is returned by helpers that need an existing session file.
var ErrNoSession = errors.New("no session file")

// List returns session ids found under root, newest first.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type stamped struct {
		id  string
		mod time.Time
	}
	found := make([]stamped, 0, len(entries))
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(root, de.Name(), "turns.jsonl"))
		if err != nil {
			continue
		}
		found = append(found, stamped{id: de.Name(), mod: info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })
	ids := make([]string, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.id)
	}
	return ids, nil
}
