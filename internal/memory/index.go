// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/llamar/llamar/internal/chunk"
	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/sqlitepool"
)

const (
	fileChunkLimit      = 2000
	sessionChunkSize    = 30
	sessionChunkOverlap = 5
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS files (
	path       TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	mtime      INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	hash       TEXT NOT NULL,
	indexed_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS chunks (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	source     TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	hash       TEXT NOT NULL,
	text       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	content='chunks',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS chunks_fts_insert AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_fts_delete AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_fts_update AFTER UPDATE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
	INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;
`

// Index is the chunk DB face of the memory store: a SQLite database
// holding chunked text from source files and agent transcripts, kept
// searchable via an FTS5 virtual table that the schema's triggers
// maintain in lock-step with the chunks table.
type Index struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// OpenIndex opens (creating if necessary) the chunk database at path.
// c supplies every updated_at/indexed_at value the index writes; a nil
// c defaults to clock.Real().
func OpenIndex(path string, c clock.Clock, logger *slog.Logger) (*Index, error) {
	if c == nil {
		c = clock.Real()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("memory: creating directory for %s: %w", path, err)
		}
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 1,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, indexSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: opening index %s: %w", path, err)
	}
	return &Index{pool: pool, clock: c}, nil
}

// Close closes the underlying connection pool.
func (ix *Index) Close() error {
	return ix.pool.Close()
}

// IndexFile re-chunks the file at path and replaces its rows in the
// index, unless the file's (mtime, size, hash) triple matches the
// stored files row, in which case it is left untouched and 0 is
// returned. Returns the number of chunks written.
func (ix *Index) IndexFile(ctx context.Context, path, source string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("memory: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("memory: read %s: %w", path, err)
	}

	mtime := info.ModTime().Unix()
	size := info.Size()
	hash := chunk.Hash(string(data))

	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer ix.pool.Put(conn)

	unchanged, err := fileUnchanged(conn, path, mtime, size, hash)
	if err != nil {
		return 0, err
	}
	if unchanged {
		return 0, nil
	}

	pieces := chunk.ByParagraph(string(data), fileChunkLimit)
	ranges := lineRangesForPieces(string(data), pieces)
	return replaceChunks(conn, path, source, mtime, size, hash, ix.clock.Now(), ranges)
}

// IndexClaudeSession re-chunks the JSONL agent transcript at path,
// flattened into "User: ..." / "Assistant: ..." lines, using smaller
// overlapping windows than IndexFile since transcript turns are
// naturally shorter than prose paragraphs.
func (ix *Index) IndexClaudeSession(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("memory: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("memory: read %s: %w", path, err)
	}

	lines := transcriptLines(data)
	mtime := info.ModTime().Unix()
	size := info.Size()
	hash := chunk.Hash(strings.Join(lines, "\n"))

	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer ix.pool.Put(conn)

	unchanged, err := fileUnchanged(conn, path, mtime, size, hash)
	if err != nil {
		return 0, err
	}
	if unchanged {
		return 0, nil
	}

	windows := chunk.Lines(lines, sessionChunkSize, sessionChunkOverlap)
	return replaceChunks(conn, path, "claude_session", mtime, size, hash, ix.clock.Now(), windows)
}

// SearchResult is one ranked hit from SearchFTS.
type SearchResult struct {
	Path string
	Text string
	Rank float64
}

// SearchFTS runs a full-text query against the chunk index, optionally
// restricted to one source, ordered by FTS5 relevance rank.
func (ix *Index) SearchFTS(ctx context.Context, query string, limit int, source string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	conn, err := ix.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.pool.Put(conn)

	sqlStr := `
		SELECT c.path, c.text, chunks_fts.rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
	`
	args := []any{sanitizeFTSQuery(query)}
	if source != "" {
		sqlStr += " AND c.source = ?"
		args = append(args, source)
	}
	sqlStr += " ORDER BY chunks_fts.rank LIMIT ?"
	args = append(args, limit)

	var results []SearchResult
	err = sqlitex.Execute(conn, sqlStr, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			results = append(results, SearchResult{
				Path: stmt.ColumnText(0),
				Text: stmt.ColumnText(1),
				Rank: stmt.ColumnFloat(2),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: search_fts: %w", err)
	}
	return results, nil
}

func fileUnchanged(conn *sqlite.Conn, path string, mtime, size int64, hash string) (bool, error) {
	var found bool
	var storedMtime, storedSize int64
	var storedHash string
	err := sqlitex.Execute(conn,
		"SELECT mtime, size, hash FROM files WHERE path = ?",
		&sqlitex.ExecOptions{
			Args: []any{path},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				storedMtime = stmt.ColumnInt64(0)
				storedSize = stmt.ColumnInt64(1)
				storedHash = stmt.ColumnText(2)
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("memory: checking %s: %w", path, err)
	}
	return found && storedMtime == mtime && storedSize == size && storedHash == hash, nil
}

// replaceChunks deletes any existing chunks for path, inserts pieces as
// fresh chunks with deterministic ids ("{basename(path)}:{start}-{end}"),
// and upserts the files row, all within a single transaction so the
// set-replacement is atomic. updatedAt is stamped on every inserted
// chunk and on the files row, so a single re-index leaves a consistent
// timestamp across the whole set.
func replaceChunks(conn *sqlite.Conn, path, source string, mtime, size int64, hash string, updatedAt time.Time, pieces []chunk.LineRange) (count int, err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("memory: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, "DELETE FROM chunks WHERE path = ?", &sqlitex.ExecOptions{Args: []any{path}}); err != nil {
		return 0, fmt.Errorf("memory: clearing chunks for %s: %w", path, err)
	}

	stamp := updatedAt.UTC().Format(time.RFC3339)
	base := filepath.Base(path)
	for _, piece := range pieces {
		id := fmt.Sprintf("%s:%d-%d", base, piece.Start, piece.End)
		if err = sqlitex.Execute(conn,
			`INSERT INTO chunks (id, path, source, start_line, end_line, hash, text, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{id, path, source, piece.Start, piece.End, chunk.Hash(piece.Text), piece.Text, stamp}},
		); err != nil {
			return 0, fmt.Errorf("memory: inserting chunk %s: %w", id, err)
		}
	}

	if err = sqlitex.Execute(conn,
		`INSERT INTO files (path, source, mtime, size, hash, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   source = excluded.source,
		   mtime = excluded.mtime,
		   size = excluded.size,
		   hash = excluded.hash,
		   indexed_at = excluded.indexed_at`,
		&sqlitex.ExecOptions{Args: []any{path, source, mtime, size, hash, stamp}},
	); err != nil {
		return 0, fmt.Errorf("memory: upserting files row for %s: %w", path, err)
	}

	return len(pieces), nil
}

// lineRangesForPieces maps each text piece produced by chunk.ByParagraph
// back onto the 0-indexed line range it occupies in text. Pieces are
// trimmed substrings of text's normalized form, produced left to right
// with no gaps other than trimmed whitespace, so each is located by a
// forward scan from the end of the previous match.
func lineRangesForPieces(text string, pieces []string) []chunk.LineRange {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	ranges := make([]chunk.LineRange, len(pieces))
	cursor := 0
	for i, piece := range pieces {
		rel := strings.Index(normalized[cursor:], piece)
		if rel < 0 {
			rel = 0
		}
		pos := cursor + rel
		start := strings.Count(normalized[:pos], "\n")
		end := start + strings.Count(piece, "\n")
		ranges[i] = chunk.LineRange{Start: start, End: end, Text: piece}
		cursor = pos + len(piece)
	}
	return ranges
}

// sanitizeFTSQuery wraps the query in double quotes so that FTS5 treats
// it as a single phrase-tolerant token set rather than rejecting
// bare punctuation as invalid query syntax.
func sanitizeFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}

// transcriptLines flattens a JSONL agent transcript into "User: ..."
// and "Assistant: ..." lines, tolerating both the flat {role,content}
// shape and the nested {message:{role,content}} shape, and both plain
// string content and an array of {type,text} blocks.
func transcriptLines(data []byte) []string {
	var out []string
	for _, raw := range strings.Split(string(data), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var rec struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
			Message struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		role, content := rec.Role, rec.Content
		if role == "" {
			role, content = rec.Message.Role, rec.Message.Content
		}
		label := roleLabel(role)
		if label == "" {
			continue
		}
		text := contentText(content)
		if text == "" {
			continue
		}
		out = append(out, label+": "+text)
	}
	return out
}

func roleLabel(role string) string {
	switch strings.ToLower(role) {
	case "user", "human":
		return "User"
	case "assistant", "ai", "model":
		return "Assistant"
	default:
		return ""
	}
}

func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}
