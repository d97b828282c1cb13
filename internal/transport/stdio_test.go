// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRunStdioEchoesResponsesInOrder(t *testing.T) {
	input := strings.NewReader("one\ntwo\n\nthree\n")
	var output bytes.Buffer

	err := RunStdio(context.Background(), input, &output, func(ctx context.Context, line []byte) []byte {
		return append([]byte("echo:"), line...)
	})
	if err != nil {
		t.Fatalf("RunStdio: %v", err)
	}

	scanner := bufio.NewScanner(&output)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	want := []string{"echo:one", "echo:two", "echo:three"}
	if len(lines) != len(want) {
		t.Fatalf("got %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRunStdioSkipsNilResponses(t *testing.T) {
	input := strings.NewReader("notify\nrequest\n")
	var output bytes.Buffer

	err := RunStdio(context.Background(), input, &output, func(ctx context.Context, line []byte) []byte {
		if string(line) == "notify" {
			return nil
		}
		return []byte("response")
	})
	if err != nil {
		t.Fatalf("RunStdio: %v", err)
	}
	if strings.Count(output.String(), "\n") != 1 {
		t.Fatalf("expected exactly one response line, got %q", output.String())
	}
}
