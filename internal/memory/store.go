// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/llamar/llamar/internal/clock"
)

// GlobalMemoryPath is the workspace-wide memory document.
func GlobalMemoryPath(home string) string {
	return filepath.Join(home, ".llamar", "workspace", "MEMORY.md")
}

// ProjectMemoryPath is the project-local memory document for cwd.
func ProjectMemoryPath(cwd string) string {
	return filepath.Join(cwd, ".llamar", "MEMORY.md")
}

// DailyLogPath is the append-only raw log of every memory_store call
// for a given calendar date, independent of the curated MEMORY.md.
func DailyLogPath(home string, date string) string {
	return filepath.Join(home, ".llamar", "workspace", "memory", date+".md")
}

// ChunkDBPath is the per-agent chunk index database.
func ChunkDBPath(home, agentID string) string {
	return filepath.Join(home, ".llamar", "workspace", "memory", agentID+".sqlite")
}

// Store is the combined Markdown and chunk-index memory engine. Its
// Append backs the memory_store skill; Search, IndexFile,
// IndexClaudeSession, and SearchFTS are Go methods with no registered
// skill of their own.
type Store struct {
	home  string
	clock clock.Clock
	index *Index
}

// Open opens the chunk index database for agentID rooted at home and
// returns a Store bound to it. The caller must call Close.
func Open(home, agentID string, c clock.Clock, logger *slog.Logger) (*Store, error) {
	index, err := OpenIndex(ChunkDBPath(home, agentID), c, logger)
	if err != nil {
		return nil, err
	}
	return &Store{home: home, clock: c, index: index}, nil
}

// Close closes the underlying chunk index.
func (s *Store) Close() error {
	return s.index.Close()
}

// Index exposes the chunk-DB face (IndexFile, IndexClaudeSession,
// SearchFTS) directly.
func (s *Store) Index() *Index {
	return s.index
}

// StoreFact implements the memory_store operation: it appends fact
// (with tags and an optional explicit category) to the MEMORY.md file
// for scope, and mirrors the raw call into today's daily log.
func (s *Store) StoreFact(fact string, tags []string, category, scope, cwd string) (Entry, error) {
	path, err := s.documentPath(scope, cwd)
	if err != nil {
		return Entry{}, err
	}

	now := s.clock.Now()
	entry, err := AppendFact(path, fact, tags, category, now)
	if err != nil {
		return Entry{}, err
	}
	entry.Scope = scope

	if logErr := s.appendDailyLog(entry.Raw, now); logErr != nil {
		return entry, fmt.Errorf("memory: fact stored but daily log failed: %w", logErr)
	}
	return entry, nil
}

// Search implements the search operation against the document for scope.
func (s *Store) Search(query, scope, cwd string) ([]Entry, error) {
	path, err := s.documentPath(scope, cwd)
	if err != nil {
		return nil, err
	}
	return Search(path, scope, query)
}

func (s *Store) documentPath(scope, cwd string) (string, error) {
	switch scope {
	case "global":
		return GlobalMemoryPath(s.home), nil
	case "project":
		if cwd == "" {
			return "", fmt.Errorf("memory: project scope requires a working directory")
		}
		return ProjectMemoryPath(cwd), nil
	default:
		return "", fmt.Errorf("memory: unknown scope %q, want \"global\" or \"project\"", scope)
	}
}

func (s *Store) appendDailyLog(raw string, when time.Time) error {
	_, err := AppendFact(DailyLogPath(s.home, when.Format("2006-01-02")), raw, nil, "Log", when)
	return err
}

// Append implements the tools.MemoryStore interface consumed by the
// memory_store skill.
func (s *Store) Append(fact string, tags []string, category, scope, cwd string) error {
	_, err := s.StoreFact(fact, tags, category, scope, cwd)
	return err
}

// IndexFile and IndexClaudeSession delegate to the underlying chunk
// index so callers holding only a *Store do not need internal/memory's
// Index type in scope.
func (s *Store) IndexFile(ctx context.Context, path, source string) (int, error) {
	return s.index.IndexFile(ctx, path, source)
}

func (s *Store) IndexClaudeSession(ctx context.Context, path string) (int, error) {
	return s.index.IndexClaudeSession(ctx, path)
}

func (s *Store) SearchFTS(ctx context.Context, query string, limit int, source string) ([]SearchResult, error) {
	return s.index.SearchFTS(ctx, query, limit, source)
}
