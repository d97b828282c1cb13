// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"os"
	"strings"
)

// compactionMarker prefixes the text of any assistant message that
// represents a compaction summary, per spec's transcript entry shape.
const compactionMarker = "[Compaction Summary]\n\n"

// transcriptHeader is line 1 of every transcript file.
type transcriptHeader struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Cwd       string `json:"cwd"`
}

// ContentBlock is one block of a message's content array. Spec pins
// "text" as the only block type currently in use.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage carries token counts attached to a single message.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Message is one line of a transcript file after the header.
type Message struct {
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stopReason,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Timestamp  int64          `json:"timestamp,omitempty"`
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		b.WriteString(block.Text)
	}
	return b.String()
}

// isCompactionMarker reports whether m is an assistant message whose
// text begins with the compaction marker.
func isCompactionMarker(m Message) bool {
	return m.Role == "assistant" && strings.HasPrefix(m.Text(), compactionMarker)
}

// writeHeaderIfMissing writes the transcript header line, but only if
// the file does not already exist; a pre-existing transcript keeps its
// original header untouched.
func writeHeaderIfMissing(path, id, cwd string, timestampMs int64) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	header := transcriptHeader{Type: "session", Version: 2, ID: id, Timestamp: timestampMs, Cwd: cwd}
	data, err := json.Marshal(header)
	if err != nil {
		return err
	}
	return appendLine(path, data)
}

// readTranscript reads and parses an entire transcript file, returning
// the header and the messages that follow it. A missing file is not an
// error; it returns a zero header and nil messages.
func readTranscript(path string) (transcriptHeader, []Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return transcriptHeader{}, nil, nil
		}
		return transcriptHeader{}, nil, err
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return transcriptHeader{}, nil, nil
	}

	var header transcriptHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		return transcriptHeader{}, nil, err
	}

	var messages []Message
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return header, messages, nil
}

// countMessages returns the number of message lines (excluding the
// header) in the transcript at path, without holding them all as
// parsed Go values for longer than necessary.
func countMessages(path string) (int, error) {
	_, messages, err := readTranscript(path)
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

// lastCompactionMarker returns the index of the latest compaction
// marker message, or -1 if none is present.
func lastCompactionMarker(messages []Message) int {
	idx := -1
	for i, m := range messages {
		if isCompactionMarker(m) {
			idx = i
		}
	}
	return idx
}

// filterFromCompaction drops every message before the latest
// compaction marker, per spec's from_compaction=true loader behavior.
// Messages from the marker onward, inclusive, are kept.
func filterFromCompaction(messages []Message) []Message {
	idx := lastCompactionMarker(messages)
	if idx < 0 {
		return messages
	}
	return messages[idx:]
}

// appendLine appends data followed by a newline to the file at path,
// creating it if necessary.
func appendLine(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}
