// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/llamar/llamar/internal/skill"
)

// traceRecord is the on-disk shape of one trace.jsonl line. Field names
// follow spec's trace entry shape rather than skill.TraceEntry's Go
// field names.
type traceRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Tool          string    `json:"tool"`
	Args          string    `json:"args"`
	Result        string    `json:"result"`
	Success       bool      `json:"success"`
	ElapsedMs     int64     `json:"elapsed_ms"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"`
}

// AppendTrace implements skill.Tracer: it appends entry to the trace
// file for sessionID. Store is opened per agent, so sessionID alone is
// enough to locate the file.
func (s *Store) AppendTrace(sessionID string, entry skill.TraceEntry) error {
	rec := traceRecord{
		Timestamp:     entry.Timestamp,
		Tool:          entry.Tool,
		Args:          entry.Args,
		Result:        entry.Result,
		Success:       entry.Success,
		ElapsedMs:     entry.ElapsedMs,
		ApprovedBy:    entry.ApprovedBy,
		ErrorCategory: entry.ErrorCategory,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encoding trace entry: %w", err)
	}
	if err := appendLine(s.tracePath(sessionID), data); err != nil {
		return fmt.Errorf("session: appending trace for %s: %w", sessionID, err)
	}
	return nil
}

// LoadTrace returns the last n trace entries for sessionID, oldest
// first. n <= 0 returns the full trace.
func (s *Store) LoadTrace(sessionID string, n int) ([]skill.TraceEntry, error) {
	data, err := os.ReadFile(s.tracePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: reading trace for %s: %w", sessionID, err)
	}

	var entries []skill.TraceEntry
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec traceRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		entries = append(entries, skill.TraceEntry{
			Timestamp:     rec.Timestamp,
			Tool:          rec.Tool,
			Args:          rec.Args,
			Result:        rec.Result,
			Success:       rec.Success,
			ElapsedMs:     rec.ElapsedMs,
			ApprovedBy:    rec.ApprovedBy,
			ErrorCategory: rec.ErrorCategory,
		})
	}

	if n > 0 && n < len(entries) {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// FormatTrace renders entries as a human-readable multi-line report,
// one line per call.
func FormatTrace(entries []skill.TraceEntry) string {
	if len(entries) == 0 {
		return "(no trace entries)"
	}
	var b strings.Builder
	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "error"
			if e.ErrorCategory != "" {
				status = "error:" + e.ErrorCategory
			}
		}
		fmt.Fprintf(&b, "[%s] %s %s (%dms)",
			e.Timestamp.Format(time.RFC3339), e.Tool, status, e.ElapsedMs)
		if e.ApprovedBy != "" {
			fmt.Fprintf(&b, " approved_by=%s", e.ApprovedBy)
		}
		b.WriteString("\n  args: " + e.Args)
		b.WriteString("\n  result: " + e.Result)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
