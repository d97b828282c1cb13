// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/llamar/llamar/internal/clock"
)

func TestExtractTagsStripsHashtags(t *testing.T) {
	clean, tags := ExtractTags("likes dark mode #ui #preferences")
	if clean != "likes dark mode" {
		t.Fatalf("clean = %q", clean)
	}
	if len(tags) != 2 || tags[0] != "ui" || tags[1] != "preferences" {
		t.Fatalf("tags = %v", tags)
	}
}

func TestDetectCategory(t *testing.T) {
	if got := DetectCategory("prefers tabs over spaces"); got != "Preferences" {
		t.Fatalf("got %q", got)
	}
	if got := DetectCategory("works at Initech"); got != "Facts" {
		t.Fatalf("got %q", got)
	}
	if got := DetectCategory("the build is currently red"); got != "Context" {
		t.Fatalf("got %q", got)
	}
}

func TestAppendFactCreatesNewSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	when := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	entry, err := AppendFact(path, "prefers dark mode #ui", nil, "", when)
	if err != nil {
		t.Fatalf("AppendFact: %v", err)
	}
	if entry.Section != "Preferences" {
		t.Fatalf("section = %q", entry.Section)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "## Preferences") {
		t.Fatalf("missing section heading: %q", content)
	}
	if !strings.Contains(content, "- prefers dark mode (2026-03-05) #ui") {
		t.Fatalf("missing entry line: %q", content)
	}
}

func TestAppendFactInsertsAtExistingSectionTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	when := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)

	if _, err := AppendFact(path, "likes Go", nil, "Facts", when); err != nil {
		t.Fatalf("first AppendFact: %v", err)
	}
	if _, err := AppendFact(path, "uses vim", nil, "Facts", when); err != nil {
		t.Fatalf("second AppendFact: %v", err)
	}

	data, _ := os.ReadFile(path)

	headingCount := strings.Count(string(data), "## Facts")
	if headingCount != 1 {
		t.Fatalf("expected exactly one Facts heading, found %d", headingCount)
	}
	if !strings.Contains(string(data), "likes Go") || !strings.Contains(string(data), "uses vim") {
		t.Fatalf("missing entries: %q", string(data))
	}
	goIdx := strings.Index(string(data), "likes Go")
	vimIdx := strings.Index(string(data), "uses vim")
	if goIdx > vimIdx {
		t.Fatalf("expected likes Go before uses vim, got reversed order")
	}
}

func TestAppendFactRejectsEmptyFact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	if _, err := AppendFact(path, "#onlyatag", nil, "", time.Now()); err == nil {
		t.Fatal("expected error for fact that is empty after stripping tags")
	}
}

func TestSearchFindsMatchingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	when := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	if _, err := AppendFact(path, "prefers tabs #style", nil, "Preferences", when); err != nil {
		t.Fatalf("AppendFact: %v", err)
	}

	hits, err := Search(path, "global", "tabs")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Section != "Preferences" || hits[0].Text != "prefers tabs" {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}
	if len(hits[0].Tags) != 1 || hits[0].Tags[0] != "style" {
		t.Fatalf("unexpected tags: %v", hits[0].Tags)
	}
}

func TestSearchMissingFileReturnsNoHits(t *testing.T) {
	hits, err := Search(filepath.Join(t.TempDir(), "absent.md"), "global", "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected nil hits, got %v", hits)
	}
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "chunks.sqlite"), clock.NewFake(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)), nil)
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIndexFileChunksAndSearches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("The quick brown fox jumps over the lazy dog."), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idx := openTestIndex(t)
	ctx := context.Background()

	count, err := idx.IndexFile(ctx, path, "notes")
	if err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if count == 0 {
		t.Fatal("expected at least one chunk")
	}

	results, err := idx.SearchFTS(ctx, "fox", 10, "")
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a search hit for \"fox\"")
	}
}

func TestIndexFileChunkIDIsLineRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("first line\nsecond line\n\nthird paragraph line"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idx := openTestIndex(t)
	ctx := context.Background()
	if _, err := idx.IndexFile(ctx, path, "notes"); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}

	conn, err := idx.pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer idx.pool.Put(conn)

	var ids, updatedAt []string
	var starts, ends []int64
	if err := sqlitex.Execute(conn, "SELECT id, start_line, end_line, updated_at FROM chunks WHERE path = ? ORDER BY start_line", &sqlitex.ExecOptions{
		Args: []any{path},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnText(0))
			starts = append(starts, stmt.ColumnInt64(1))
			ends = append(ends, stmt.ColumnInt64(2))
			updatedAt = append(updatedAt, stmt.ColumnText(3))
			return nil
		},
	}); err != nil {
		t.Fatalf("query chunks: %v", err)
	}

	if len(ids) == 0 {
		t.Fatal("expected at least one chunk row")
	}
	for i, id := range ids {
		want := fmt.Sprintf("notes.txt:%d-%d", starts[i], ends[i])
		if id != want {
			t.Fatalf("chunk id = %q, want %q", id, want)
		}
		if updatedAt[i] != "2026-03-05T00:00:00Z" {
			t.Fatalf("updated_at = %q", updatedAt[i])
		}
	}
}

func TestIndexFileUnchangedIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("stable content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idx := openTestIndex(t)
	ctx := context.Background()

	if _, err := idx.IndexFile(ctx, path, "notes"); err != nil {
		t.Fatalf("first IndexFile: %v", err)
	}
	count, err := idx.IndexFile(ctx, path, "notes")
	if err != nil {
		t.Fatalf("second IndexFile: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 for unchanged file, got %d", count)
	}
}

func TestIndexClaudeSessionFlattensTranscript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	transcript := `{"role":"user","content":"how do I sort a slice"}
{"role":"assistant","content":[{"type":"text","text":"use sort.Slice"}]}
`
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	idx := openTestIndex(t)
	ctx := context.Background()

	count, err := idx.IndexClaudeSession(ctx, path)
	if err != nil {
		t.Fatalf("IndexClaudeSession: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 chunk for a short transcript, got %d", count)
	}

	results, err := idx.SearchFTS(ctx, "sort", 10, "claude_session")
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected a hit for \"sort\"")
	}
	if !strings.Contains(results[0].Text, "User:") {
		t.Fatalf("expected flattened transcript text, got %q", results[0].Text)
	}
}

func TestStoreAppendRoutesByScope(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()
	store, err := Open(home, "agent-1", clock.Real(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Append("likes tea", nil, "", "global", ""); err != nil {
		t.Fatalf("Append global: %v", err)
	}
	if err := store.Append("uses bazel", nil, "", "project", cwd); err != nil {
		t.Fatalf("Append project: %v", err)
	}

	if _, err := os.Stat(GlobalMemoryPath(home)); err != nil {
		t.Fatalf("global memory file missing: %v", err)
	}
	if _, err := os.Stat(ProjectMemoryPath(cwd)); err != nil {
		t.Fatalf("project memory file missing: %v", err)
	}
}

func TestStoreAppendProjectScopeRequiresCwd(t *testing.T) {
	home := t.TempDir()
	store, err := Open(home, "agent-1", clock.Real(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Append("uses bazel", nil, "", "project", ""); err == nil {
		t.Fatal("expected error when cwd is empty for project scope")
	}
}
