// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/skill"
)

func openTestStore(t *testing.T, agentID string) *Store {
	t.Helper()
	root := t.TempDir()
	c := clock.NewFake(time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	store, err := Open(root, agentID, c, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestNewWritesHeaderAndRegistersSession(t *testing.T) {
	store := openTestStore(t, "main")

	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasPrefix(sess.SessionKey, "llamar:") {
		t.Fatalf("unexpected session key: %q", sess.SessionKey)
	}

	data, err := os.ReadFile(store.transcriptPath(sess.SessionID))
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	if !strings.Contains(string(data), `"type":"session"`) {
		t.Fatalf("missing header: %q", data)
	}

	loaded, err := store.Load(sess.SessionKey, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SessionID != sess.SessionID {
		t.Fatalf("loaded wrong session: %+v", loaded)
	}
}

func TestSubagentSessionKey(t *testing.T) {
	store := openTestStore(t, "sub-1")
	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !strings.HasPrefix(sess.SessionKey, "agent:main:subagent:") {
		t.Fatalf("unexpected session key: %q", sess.SessionKey)
	}
}

func TestSaveUpdatesTokenCounters(t *testing.T) {
	store := openTestStore(t, "main")
	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess.InputTokens = 42
	sess.OutputTokens = 7
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(sess.SessionKey, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.InputTokens != 42 || loaded.OutputTokens != 7 {
		t.Fatalf("counters not persisted: %+v", loaded)
	}
}

func TestTranscriptAppendAndLoad(t *testing.T) {
	store := openTestStore(t, "main")
	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := store.TranscriptAppend(sess, "user", "hello", AppendOptions{}); err != nil {
		t.Fatalf("TranscriptAppend: %v", err)
	}
	if _, err := store.TranscriptAppend(sess, "assistant", "hi there", AppendOptions{}); err != nil {
		t.Fatalf("TranscriptAppend: %v", err)
	}

	loaded, err := store.Load(sess.SessionKey, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[0].Text() != "hello" || loaded.Messages[1].Text() != "hi there" {
		t.Fatalf("unexpected messages: %+v", loaded.Messages)
	}
}

func TestTranscriptCompactFiltersOlderMessages(t *testing.T) {
	store := openTestStore(t, "main")
	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := store.TranscriptAppend(sess, "user", "message one", AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.TranscriptAppend(sess, "assistant", "reply one", AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.TranscriptCompact(sess, "summary text"); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if _, err := store.TranscriptAppend(sess, "user", "message two", AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if sess.CompactionCount != 1 {
		t.Fatalf("expected compaction count 1, got %d", sess.CompactionCount)
	}

	loaded, err := store.Load(sess.SessionKey, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("expected 2 messages after compaction filter, got %d: %+v", len(loaded.Messages), loaded.Messages)
	}
	if !strings.HasPrefix(loaded.Messages[0].Text(), "[Compaction Summary]") {
		t.Fatalf("expected first surviving message to be the marker, got %q", loaded.Messages[0].Text())
	}
	if loaded.Messages[1].Text() != "message two" {
		t.Fatalf("expected second surviving message to be message two, got %q", loaded.Messages[1].Text())
	}
}

func TestLoadWithoutFromCompactionReturnsEverything(t *testing.T) {
	store := openTestStore(t, "main")
	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.TranscriptAppend(sess, "user", "before", AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.TranscriptCompact(sess, "summary"); err != nil {
		t.Fatalf("compact: %v", err)
	}

	loaded, err := store.Load(sess.SessionKey, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("expected all messages retained, got %d", len(loaded.Messages))
	}
}

func TestListSortsByUpdatedAtAndCountsMessages(t *testing.T) {
	store := openTestStore(t, "main")

	first, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.TranscriptAppend(first, "user", "hi", AppendOptions{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Save(first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Save(second); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Save stamps UpdatedAt from the store's clock, which has not
	// moved; push second ahead directly in the metadata file.
	m, err := store.readAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	m[second.SessionKey].UpdatedAt = first.UpdatedAt + 1000
	if err := store.writeAll(m); err != nil {
		t.Fatalf("writeAll: %v", err)
	}

	list, err := store.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].SessionID != second.SessionID {
		t.Fatalf("expected most recently updated session first, got %+v", list[0])
	}
	for _, sess := range list {
		if sess.SessionID == first.SessionID && sess.MessageCount != 1 {
			t.Fatalf("expected first session to have 1 message, got %d", sess.MessageCount)
		}
	}
}

func TestPruneRemovesOldSessions(t *testing.T) {
	store := openTestStore(t, "main")
	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pruned, err := store.Prune(time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("expected nothing pruned yet, got %d", pruned)
	}

	sess.UpdatedAt -= int64((2 * time.Hour).Milliseconds())
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Save just reset UpdatedAt to now; force it back to the past
	// directly in the metadata file to simulate an old session.
	m, err := store.readAll()
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	m[sess.SessionKey].UpdatedAt -= int64((2 * time.Hour).Milliseconds())
	if err := store.writeAll(m); err != nil {
		t.Fatalf("writeAll: %v", err)
	}

	pruned, err = store.Prune(time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 session pruned, got %d", pruned)
	}
	if _, err := os.Stat(store.transcriptPath(sess.SessionID)); !os.IsNotExist(err) {
		t.Fatalf("expected transcript file to be removed")
	}
}

func TestAppendTraceAndLoadTrace(t *testing.T) {
	store := openTestStore(t, "main")
	sess, err := store.New("anthropic", "claude", "/work")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries := []skill.TraceEntry{
		{Tool: "read_file", Args: `{"path":"a"}`, Result: "ok", Success: true, ElapsedMs: 5},
		{Tool: "bash", Args: `{"command":"ls"}`, Result: "failed", Success: false, ElapsedMs: 12, ErrorCategory: "exec"},
	}
	for _, e := range entries {
		if err := store.AppendTrace(sess.SessionID, e); err != nil {
			t.Fatalf("AppendTrace: %v", err)
		}
	}

	loaded, err := store.LoadTrace(sess.SessionID, 0)
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 trace entries, got %d", len(loaded))
	}

	limited, err := store.LoadTrace(sess.SessionID, 1)
	if err != nil {
		t.Fatalf("LoadTrace limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Tool != "bash" {
		t.Fatalf("expected most recent entry only, got %+v", limited)
	}

	report := FormatTrace(loaded)
	if !strings.Contains(report, "read_file") || !strings.Contains(report, "error:exec") {
		t.Fatalf("unexpected report: %q", report)
	}
}
