// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements the two faces of the memory store: a
// Markdown document (MEMORY.md) holding tagged, dated facts under
// category sections, and a SQLite/FTS5 chunk index over arbitrary
// source files and session transcripts.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Entry is one parsed line from a memory document, per the losslessly
// round-trippable shape `- <text> (YYYY-MM-DD)[ #tag]*`.
type Entry struct {
	Text    string
	Date    string
	Tags    []string
	Section string
	Scope   string
	Line    int
	Raw     string
}

var (
	tagPattern      = regexp.MustCompile(`#[A-Za-z0-9_-]+`)
	entryLinePattern = regexp.MustCompile(`^- (.+?) \((\d{4}-\d{2}-\d{2})\)((?:\s+#[A-Za-z0-9_-]+)*)\s*$`)
)

// ExtractTags pulls hashtags out of fact, returning the fact with tags
// and surrounding whitespace stripped, plus the tag names (without the
// leading '#').
func ExtractTags(fact string) (clean string, tags []string) {
	for _, m := range tagPattern.FindAllString(fact, -1) {
		tags = append(tags, strings.TrimPrefix(m, "#"))
	}
	stripped := tagPattern.ReplaceAllString(fact, "")
	return strings.Join(strings.Fields(stripped), " "), tags
}

// DetectCategory guesses a memory section from keywords in fact when
// the caller does not supply one explicitly.
func DetectCategory(fact string) string {
	lower := strings.ToLower(fact)
	switch {
	case containsAny(lower, "prefer", "favorite", "like to", "dislike", "always", "never wants", "would rather"):
		return "Preferences"
	case containsAny(lower, "is a", "is an", "works at", "works on", "lives in", "uses", "born", "named", "email", "located"):
		return "Facts"
	default:
		return "Context"
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func formatEntryLine(clean string, when time.Time, tags []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s (%s)", clean, when.Format("2006-01-02"))
	for _, tag := range tags {
		b.WriteString(" #")
		b.WriteString(tag)
	}
	return b.String()
}

func dedupTags(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, t := range list {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// section is a category heading's span over a document's lines.
// EndLine is exclusive: the line index where the next level-2 heading
// begins, or len(lines) for the last section.
type section struct {
	Name        string
	HeadingLine int
	EndLine     int
}

// parseSections walks content with goldmark to find every level-2
// heading and the line range it owns. Headings inside fenced code
// blocks are correctly ignored because goldmark parses structure, not
// raw "##" prefixes.
func parseSections(content []byte) []section {
	reader := text.NewReader(content)
	doc := goldmark.DefaultParser().Parse(reader)

	type found struct {
		name string
		line int
	}
	var headings []found

	lineOf := func(offset int) int {
		return strings.Count(string(content[:offset]), "\n")
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 2 {
			return ast.WalkContinue, nil
		}
		lines := heading.Lines()
		start := 0
		if lines.Len() > 0 {
			start = lines.At(0).Start
		}
		headings = append(headings, found{name: headingText(heading, content), line: lineOf(start)})
		return ast.WalkContinue, nil
	})

	totalLines := strings.Count(string(content), "\n") + 1
	sections := make([]section, len(headings))
	for i, h := range headings {
		end := totalLines
		if i+1 < len(headings) {
			end = headings[i+1].line
		}
		sections[i] = section{Name: h.name, HeadingLine: h.line, EndLine: end}
	}
	return sections
}

func headingText(h *ast.Heading, source []byte) string {
	var b strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(b.String())
}

// AppendFact inserts a new entry for fact into the memory document at
// path, under category (auto-detected from fact if empty), tagged with
// both tags and any hashtags embedded in fact. The file and its parent
// directory are created if missing.
func AppendFact(path, fact string, tags []string, category string, when time.Time) (Entry, error) {
	clean, embedded := ExtractTags(fact)
	if clean == "" {
		return Entry{}, fmt.Errorf("memory: fact is empty after stripping tags")
	}
	allTags := dedupTags(tags, embedded)
	if category == "" {
		category = DetectCategory(clean)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Entry{}, fmt.Errorf("memory: reading %s: %w", path, err)
	}

	var lines []string
	if len(existing) == 0 {
		lines = []string{"# Memory"}
	} else {
		lines = strings.Split(strings.TrimRight(string(existing), "\n"), "\n")
	}

	entryLine := formatEntryLine(clean, when, allTags)
	sections := parseSectionLines(lines)

	var target *section
	for i := range sections {
		if strings.EqualFold(sections[i].Name, category) {
			target = &sections[i]
			break
		}
	}

	if target != nil {
		lines = insertAtSectionTail(lines, *target, entryLine)
	} else {
		lines = appendNewSection(lines, category, entryLine)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Entry{}, fmt.Errorf("memory: creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return Entry{}, fmt.Errorf("memory: writing %s: %w", path, err)
	}

	return Entry{
		Text:    clean,
		Date:    when.Format("2006-01-02"),
		Tags:    allTags,
		Section: category,
		Raw:     entryLine,
	}, nil
}

func parseSectionLines(lines []string) []section {
	return parseSections([]byte(strings.Join(lines, "\n")))
}

func insertAtSectionTail(lines []string, sec section, entryLine string) []string {
	insertAt := sec.EndLine
	for insertAt > sec.HeadingLine+1 && strings.TrimSpace(lines[insertAt-1]) == "" {
		insertAt--
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insertAt]...)
	out = append(out, entryLine)
	out = append(out, lines[insertAt:]...)
	return out
}

func appendNewSection(lines []string, category, entryLine string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return append(lines, "", "## "+category, "", entryLine)
}

// Search scans the memory document at path line by line for query,
// treated as a case-insensitive regular expression (falling back to a
// literal match if query is not a valid pattern). Each hit is returned
// with the section it falls under and its 1-indexed line number.
// A missing file yields no hits, not an error.
func Search(path, scope, query string) ([]Entry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: reading %s: %w", path, err)
	}

	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))
	}

	lines := strings.Split(string(content), "\n")
	currentSection := ""
	var hits []Entry
	for i, line := range lines {
		if name, ok := headingName(line); ok {
			currentSection = name
			continue
		}
		if !re.MatchString(line) {
			continue
		}
		entry := Entry{
			Raw:     line,
			Section: currentSection,
			Scope:   scope,
			Line:    i + 1,
		}
		if m := entryLinePattern.FindStringSubmatch(line); m != nil {
			entry.Text = m[1]
			entry.Date = m[2]
			entry.Tags = extractTagNames(m[3])
		}
		hits = append(hits, entry)
	}
	return hits, nil
}

func headingName(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "## ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")), true
}

func extractTagNames(tagSuffix string) []string {
	matches := tagPattern.FindAllString(tagSuffix, -1)
	var tags []string
	for _, m := range matches {
		tags = append(tags, strings.TrimPrefix(m, "#"))
	}
	return tags
}
