// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/config"
	"github.com/llamar/llamar/internal/ratelimit"
)

var errChatBackend = errors.New("chat backend unavailable")

func noRestrictions() ConfigSource {
	return func() config.Config { return config.Defaults() }
}

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	write := WriteFileSkill(noRestrictions())
	result := write.Handler(context.Background(), map[string]any{"path": path, "content": "hello"})
	if result.IsError {
		t.Fatalf("write failed: %v", result)
	}
	if !strings.Contains(result.Text(), "5 bytes") {
		t.Fatalf("write result should report byte count: %q", result.Text())
	}

	read := ReadFileSkill(noRestrictions())
	result = read.Handler(context.Background(), map[string]any{"path": path})
	if result.IsError || result.Text() != "hello" {
		t.Fatalf("unexpected read result: %v", result)
	}
}

func TestReadFileMissing(t *testing.T) {
	read := ReadFileSkill(noRestrictions())
	result := read.Handler(context.Background(), map[string]any{"path": "/nonexistent/path/x"})
	if !result.IsError {
		t.Fatal("expected error for missing file")
	}
}

func TestReadFileRespectsDeniedPaths(t *testing.T) {
	cfgSrc := func() config.Config {
		cfg := config.Defaults()
		cfg.DeniedPaths = []string{"/etc"}
		return cfg
	}
	read := ReadFileSkill(cfgSrc)
	result := read.Handler(context.Background(), map[string]any{"path": "/etc/passwd"})
	if !result.IsError || !strings.Contains(result.Text(), "restricted") {
		t.Fatalf("expected restricted path error, got: %v", result)
	}
}

func TestListFilesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	list := ListFilesSkill(noRestrictions())
	result := list.Handler(context.Background(), map[string]any{"path": dir})
	if result.IsError || result.Text() != "No files found" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestListFilesPattern(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.R"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644)

	list := ListFilesSkill(noRestrictions())
	result := list.Handler(context.Background(), map[string]any{"path": dir, "pattern": "*.R"})
	if result.IsError || result.Text() != "a.R" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestGrepFilesFindsMatch(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.R"), []byte("foo\nbar\nbaz\n"), 0o644)

	grep := GrepFilesSkill(noRestrictions())
	result := grep.Handler(context.Background(), map[string]any{"pattern": "^bar$", "path": dir})
	if result.IsError {
		t.Fatalf("grep failed: %v", result)
	}
	if !strings.Contains(result.Text(), "2: bar") {
		t.Fatalf("unexpected grep result: %q", result.Text())
	}
}

func TestBashCapturesOutput(t *testing.T) {
	bash := BashSkill()
	result := bash.Handler(context.Background(), map[string]any{"command": "echo hi"})
	if result.IsError || strings.TrimSpace(result.Text()) != "hi" {
		t.Fatalf("unexpected bash result: %v", result)
	}
}

func TestBashBlocksDangerousCommand(t *testing.T) {
	bash := BashSkill()
	result := bash.Handler(context.Background(), map[string]any{"command": "rm -rf /"})
	if !result.IsError {
		t.Fatal("expected dangerous command to be blocked")
	}
}

func TestBashFailureReturnsOkWithErrorText(t *testing.T) {
	bash := BashSkill()
	result := bash.Handler(context.Background(), map[string]any{"command": "exit 1"})
	if result.IsError {
		t.Fatal("bash failures should be Ok with error text, not an Error result")
	}
	if !strings.Contains(result.Text(), "Error:") {
		t.Fatalf("expected error text in result: %q", result.Text())
	}
}

type fakeMemoryStore struct {
	calls []string
}

func (f *fakeMemoryStore) Append(fact string, tags []string, category, scope, cwd string) error {
	f.calls = append(f.calls, scope+":"+fact)
	return nil
}

func TestMemoryStoreDelegates(t *testing.T) {
	store := &fakeMemoryStore{}
	memSkill := MemoryStoreSkill(store)
	result := memSkill.Handler(context.Background(), map[string]any{"fact": "likes Go", "scope": "global"})
	if result.IsError {
		t.Fatalf("unexpected error: %v", result)
	}
	if len(store.calls) != 1 || store.calls[0] != "global:likes Go" {
		t.Fatalf("unexpected calls: %v", store.calls)
	}
}

type fakeLLMClient struct {
	reply string
	err   error
}

func (f *fakeLLMClient) Complete(ctx context.Context, message string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestChatWithoutBackendReportsUnconfigured(t *testing.T) {
	chat := ChatSkill(nil, nil, nil)
	result := chat.Handler(context.Background(), map[string]any{"message": "hello"})
	if !result.IsError || !strings.Contains(result.Text(), "no LLM backend") {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestChatDelegatesToClient(t *testing.T) {
	chat := ChatSkill(&fakeLLMClient{reply: "hi there"}, nil, nil)
	result := chat.Handler(context.Background(), map[string]any{"message": "hello"})
	if result.IsError || result.Text() != "hi there" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestChatPropagatesClientError(t *testing.T) {
	chat := ChatSkill(&fakeLLMClient{err: errChatBackend}, nil, nil)
	result := chat.Handler(context.Background(), map[string]any{"message": "hello"})
	if !result.IsError || !strings.Contains(result.Text(), "chat backend unavailable") {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestChatRespectsRateLimit(t *testing.T) {
	limiter := ratelimit.New(map[string]ratelimit.Caps{"default": {TokensPerHour: 1}}, clock.NewFake(time.Now()))
	chat := ChatSkill(&fakeLLMClient{reply: "should not run"}, limiter, nil)
	result := chat.Handler(context.Background(), map[string]any{"message": "a fairly long message that exceeds the cap"})
	if !result.IsError || !strings.Contains(result.Text(), "Rate limit") {
		t.Fatalf("expected a rate limit rejection, got: %v", result)
	}
}
