// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the session store (spec §4.9): a
// metadata index in sessions.json, one append-only JSONL transcript
// per session, and one append-only JSONL trace log per session.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/llamar/llamar/internal/clock"
)

// Session is both the sessions.json record and the runtime handle
// returned by New/Load. Messages and MessageCount are never persisted
// to sessions.json; they are populated from the transcript file on
// Load and List respectively.
type Session struct {
	SessionID       string `json:"sessionId"`
	SessionKey      string `json:"sessionKey"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	Cwd             string `json:"cwd"`
	InputTokens     int    `json:"inputTokens"`
	OutputTokens    int    `json:"outputTokens"`
	CompactionCount int    `json:"compactionCount"`

	Messages     []Message `json:"-"`
	MessageCount int       `json:"-"`
}

// AgentsRoot returns the directory under which every agent's session
// data lives, per spec §6's filesystem layout.
func AgentsRoot(home string) string {
	return filepath.Join(home, ".llamar", "agents")
}

// Store is the session store for a single agent. Bound to one agent
// directory at Open time, matching the per-agent scoping already used
// by internal/memory.Store; this narrows skill.Tracer's
// AppendTrace(sessionID, entry) to resolve its trace file from
// sessionID alone.
type Store struct {
	dir     string
	agentID string
	clock   clock.Clock
	logger  *slog.Logger

	mu sync.Mutex
}

// Open creates (if necessary) and returns the session store for
// agentID rooted at agentsRoot (see AgentsRoot).
func Open(agentsRoot, agentID string, c clock.Clock, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dir := filepath.Join(agentsRoot, agentID, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: creating %s: %w", dir, err)
	}
	return &Store{dir: dir, agentID: agentID, clock: c, logger: logger}, nil
}

func (s *Store) metaPath() string           { return filepath.Join(s.dir, "sessions.json") }
func (s *Store) lockPath() string           { return filepath.Join(s.dir, "sessions.json.lock") }
func (s *Store) transcriptPath(id string) string { return filepath.Join(s.dir, id+".jsonl") }
func (s *Store) tracePath(id string) string      { return filepath.Join(s.dir, id+"_trace.jsonl") }

// sessionKeyFor implements spec's sessionKey naming: "llamar:{id}" for
// the main agent, "agent:main:subagent:{id}" for any other agent id.
func sessionKeyFor(agentID, id string) string {
	if agentID == "" || agentID == "main" {
		return "llamar:" + id
	}
	return "agent:main:subagent:" + id
}

// New mints a session id, writes the transcript header (only if the
// file does not already exist), and upserts the sessions.json entry.
func (s *Store) New(provider, model, cwd string) (*Session, error) {
	id := uuid.New().String()
	key := sessionKeyFor(s.agentID, id)
	now := s.clock.Now().UnixMilli()

	if err := writeHeaderIfMissing(s.transcriptPath(id), id, cwd, now); err != nil {
		return nil, fmt.Errorf("session: writing header for %s: %w", id, err)
	}

	sess := &Session{
		SessionID:  id,
		SessionKey: key,
		CreatedAt:  now,
		UpdatedAt:  now,
		Provider:   provider,
		Model:      model,
		Cwd:        cwd,
	}

	if err := s.withLock(func() error {
		m, err := s.readAll()
		if err != nil {
			return err
		}
		m[key] = sess
		return s.writeAll(m)
	}); err != nil {
		return nil, fmt.Errorf("session: registering %s: %w", id, err)
	}
	return sess, nil
}

// Save upserts sess's token counters, compaction count, model identity,
// and a fresh updatedAt into sessions.json.
func (s *Store) Save(sess *Session) error {
	sess.UpdatedAt = s.clock.Now().UnixMilli()
	return s.withLock(func() error {
		m, err := s.readAll()
		if err != nil {
			return err
		}
		m[sess.SessionKey] = sess
		return s.writeAll(m)
	})
}

// Load reads the sessions.json entry for sessionKey, then reads and
// filters its transcript. With fromCompaction, messages before the
// latest compaction marker are dropped; otherwise the full transcript
// is returned and, if a marker is present, a warning is logged to
// surface the partial (un-filtered) behavior rather than silently
// diverging from spec's documented loader contract.
func (s *Store) Load(sessionKey string, fromCompaction bool) (*Session, error) {
	m, err := s.readAll()
	if err != nil {
		return nil, err
	}
	sess, ok := m[sessionKey]
	if !ok {
		return nil, fmt.Errorf("session: no session for key %q", sessionKey)
	}

	_, messages, err := readTranscript(s.transcriptPath(sess.SessionID))
	if err != nil {
		return nil, fmt.Errorf("session: reading transcript for %s: %w", sess.SessionID, err)
	}

	if fromCompaction {
		sess.Messages = filterFromCompaction(messages)
	} else {
		if lastCompactionMarker(messages) >= 0 {
			s.logger.Warn("compaction marker observed but not filtered",
				"session_key", sessionKey, "session_id", sess.SessionID)
		}
		sess.Messages = messages
	}
	return sess, nil
}

// List returns up to n sessions sorted by updatedAt descending, each
// augmented with its current message count read from disk. n <= 0
// returns every session.
func (s *Store) List(n int) ([]Session, error) {
	m, err := s.readAll()
	if err != nil {
		return nil, err
	}

	list := make([]Session, 0, len(m))
	for _, sess := range m {
		list = append(list, *sess)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt > list[j].UpdatedAt })
	if n > 0 && n < len(list) {
		list = list[:n]
	}

	for i := range list {
		count, err := countMessages(s.transcriptPath(list[i].SessionID))
		if err != nil {
			return nil, fmt.Errorf("session: counting messages for %s: %w", list[i].SessionID, err)
		}
		list[i].MessageCount = count
	}
	return list, nil
}

// AppendOptions carries the optional fields of a transcript message
// beyond role and text.
type AppendOptions struct {
	StopReason string
	Provider   string
	Model      string
	Usage      *Usage
}

// AddMessage appends role/text to sess.Messages in memory only; it
// does not touch the transcript file. Use TranscriptAppend to persist.
func (sess *Session) AddMessage(role, text string) Message {
	msg := Message{Role: role, Content: []ContentBlock{{Type: "text", Text: text}}}
	sess.Messages = append(sess.Messages, msg)
	return msg
}

// TranscriptAppend writes one message to sess's transcript file and
// mirrors it into sess.Messages, bumping sess.UpdatedAt. Save must
// still be called to persist the updated counters to sessions.json.
func (s *Store) TranscriptAppend(sess *Session, role, text string, opts AppendOptions) (Message, error) {
	now := s.clock.Now().UnixMilli()
	msg := Message{
		Role:       role,
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: opts.StopReason,
		Provider:   opts.Provider,
		Model:      opts.Model,
		Usage:      opts.Usage,
		Timestamp:  now,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("session: encoding message: %w", err)
	}
	if err := appendLine(s.transcriptPath(sess.SessionID), data); err != nil {
		return Message{}, fmt.Errorf("session: appending transcript for %s: %w", sess.SessionID, err)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = now
	return msg, nil
}

// TranscriptCompact appends an assistant message whose text begins
// with the compaction marker and increments sess.CompactionCount.
func (s *Store) TranscriptCompact(sess *Session, summary string) (Message, error) {
	msg, err := s.TranscriptAppend(sess, "assistant", compactionMarker+summary, AppendOptions{})
	if err != nil {
		return Message{}, err
	}
	sess.CompactionCount++
	return msg, nil
}

// Prune deletes every session (sessions.json entry, transcript, and
// trace file) whose updatedAt is older than maxAge. No tool body or
// background worker calls it; it runs only when called directly.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge).UnixMilli()
	pruned := 0
	err := s.withLock(func() error {
		m, err := s.readAll()
		if err != nil {
			return err
		}
		for key, sess := range m {
			if sess.UpdatedAt >= cutoff {
				continue
			}
			os.Remove(s.transcriptPath(sess.SessionID))
			os.Remove(s.tracePath(sess.SessionID))
			delete(m, key)
			pruned++
		}
		if pruned == 0 {
			return nil
		}
		return s.writeAll(m)
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

func (s *Store) readAll() (map[string]*Session, error) {
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Session{}, nil
		}
		return nil, fmt.Errorf("session: reading %s: %w", s.metaPath(), err)
	}
	if len(data) == 0 {
		return map[string]*Session{}, nil
	}
	var m map[string]*Session
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", s.metaPath(), err)
	}
	return m, nil
}

// writeAll atomically replaces sessions.json via write-then-rename,
// the same pattern the teacher uses for its own metadata files (e.g.
// lib/artifact's tag store).
func (s *Store) writeAll(m map[string]*Session) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding sessions.json: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "sessions-*.json.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.metaPath()); err != nil {
		return fmt.Errorf("session: renaming into place: %w", err)
	}

	success = true
	return nil
}

// withLock serializes read-modify-write access to sessions.json: an
// in-process mutex for goroutines sharing this Store, and an advisory
// flock on a sidecar lock file for other processes (subagents) sharing
// the same agent directory, per spec §4.9's concurrency note.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockFile, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("session: opening lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("session: acquiring lock: %w", err)
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	return fn()
}
