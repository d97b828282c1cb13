// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk splits text into bounded pieces for the memory index,
// and hashes chunk content for change detection.
package chunk

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Text splits text into pieces each at most limit characters. Within
// the trailing window of each piece it prefers to break on a newline,
// then any whitespace, falling back to a hard cut at limit. Each
// chunk has its surrounding whitespace trimmed. Empty input produces
// no chunks; input no longer than limit produces exactly one.
func Text(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}
	if len([]rune(text)) <= limit {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + limit
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		start = end
	}
	return chunks
}

// breakPoint scans backward from end toward start looking for a
// newline first, then any whitespace, returning end unchanged (a hard
// cut) if neither is found.
func breakPoint(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i > start; i-- {
		if isSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// ByParagraph normalizes line endings, splits text on blank lines,
// then greedily packs consecutive paragraphs (joined by "\n\n") until
// adding the next one would exceed limit. A paragraph that alone
// exceeds limit is split with Text instead of being kept whole.
func ByParagraph(text string, limit int) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	paragraphs := splitParagraphs(normalized)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len([]rune(para)) > limit {
			flush()
			chunks = append(chunks, Text(para, limit)...)
			continue
		}
		candidateLen := len([]rune(para))
		if current.Len() > 0 {
			candidateLen += current.Len() + 2
		}
		if candidateLen > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LineRange is one overlapping window produced by Lines: Start/End are
// 0-indexed, inclusive line indices into the original slice.
type LineRange struct {
	Start, End int
	Text       string
}

// Lines produces overlapping windows over lines, each of at most size
// lines, consecutive windows overlapping by overlap lines. For
// consecutive chunks i, i+1: chunks[i].End - chunks[i+1].Start + 1 ==
// overlap.
func Lines(lines []string, size, overlap int) []LineRange {
	if len(lines) == 0 {
		return nil
	}
	if size <= 0 {
		size = 50
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var windows []LineRange
	start := 0
	for start < len(lines) {
		end := start + size - 1
		if end >= len(lines) {
			end = len(lines) - 1
		}
		windows = append(windows, LineRange{
			Start: start,
			End:   end,
			Text:  strings.Join(lines[start:end+1], "\n"),
		})
		if end == len(lines)-1 {
			break
		}
		start = end - overlap + 1
	}
	return windows
}

// Hash returns the MD5 hex digest of text's UTF-8 bytes. Used only
// for change detection, never for anything security-sensitive.
func Hash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
