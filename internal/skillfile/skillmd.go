// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package skillfile parses SKILL.md files (spec §6's "SKILL.md
// grammar") into skills the registry can install: an optional
// YAML-ish front matter block naming the skill, followed by a body
// whose {baseDir} tokens are substituted with the skill's own
// directory at load time.
package skillfile

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// File is one parsed SKILL.md.
type File struct {
	Name        string
	Description string
	Metadata    map[string]any
	Body        string
	BaseDir     string
}

// frontMatter mirrors the documented keys (name, description,
// metadata). Because YAML 1.2 flow mappings are JSON-compatible,
// decoding the front matter block with the ordinary YAML decoder
// handles spec's "metadata (JSON on the same line)" requirement
// without a second parser: `metadata: {"k": "v"}` is valid YAML.
type frontMatter struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Metadata    map[string]any `yaml:"metadata"`
}

// Parse reads and parses the SKILL.md at path. baseDir is the skill's
// own directory, substituted into the body wherever "{baseDir}"
// appears. A file with no front matter is accepted: its name falls
// back to the enclosing directory's base name, and the whole file
// becomes the body.
func Parse(path, baseDir string, contents []byte) (File, error) {
	text := string(contents)

	front, body, hasFrontMatter := splitFrontMatter(text)

	file := File{BaseDir: baseDir, Body: strings.ReplaceAll(body, "{baseDir}", baseDir)}

	if hasFrontMatter {
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
			return File{}, fmt.Errorf("skillfile: parsing front matter in %s: %w", path, err)
		}
		file.Name = fm.Name
		file.Description = fm.Description
		file.Metadata = fm.Metadata
	}

	if file.Name == "" {
		file.Name = fallbackName(path, baseDir)
	}

	return file, nil
}

// splitFrontMatter separates a leading "---\n...\n---\n" block from the
// rest of the text. Returns hasFrontMatter=false (and the whole text as
// body) if the file does not open with the delimiter.
func splitFrontMatter(text string) (front, body string, hasFrontMatter bool) {
	trimmed := strings.TrimLeft(text, "\ufeff")
	if !strings.HasPrefix(trimmed, frontMatterDelimiter) {
		return "", text, false
	}

	afterOpen := strings.TrimPrefix(trimmed, frontMatterDelimiter)
	afterOpen = strings.TrimPrefix(afterOpen, "\n")
	afterOpen = strings.TrimPrefix(afterOpen, "\r\n")

	closeIndex := findDelimiterLine(afterOpen)
	if closeIndex < 0 {
		return "", text, false
	}

	front = afterOpen[:closeIndex]
	rest := afterOpen[closeIndex:]
	rest = strings.TrimPrefix(rest, frontMatterDelimiter)
	rest = strings.TrimPrefix(rest, "\n")
	rest = strings.TrimPrefix(rest, "\r\n")
	return front, rest, true
}

// findDelimiterLine returns the byte offset of a line that is exactly
// "---" (optionally with trailing \r), or -1 if none is found.
func findDelimiterLine(text string) int {
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmedLine := strings.TrimRight(line, "\r\n")
		if trimmedLine == frontMatterDelimiter {
			return offset
		}
		offset += len(line)
	}
	return -1
}

// fallbackName derives a skill name from the enclosing directory (the
// common case, "skills/<name>/SKILL.md") or, if baseDir is the file's
// own directory with no informative parent, the file's stem.
func fallbackName(path, baseDir string) string {
	if baseDir != "" && baseDir != "." {
		return filepath.Base(baseDir)
	}
	stem := filepath.Base(path)
	return strings.TrimSuffix(stem, filepath.Ext(stem))
}
