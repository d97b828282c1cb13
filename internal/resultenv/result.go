// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package resultenv defines the Ok/Error envelope every skill handler
// returns. It mirrors the MCP tools/call content-block shape: a
// successful call carries one text block, a failed call sets isError
// and carries the failure reason in the same shape.
package resultenv

import (
	"fmt"

	"github.com/llamar/llamar/internal/toolerr"
)

// ContentBlock is a single MCP content block. Only the "text" type is
// produced by this server.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the envelope returned by every skill handler. It marshals
// directly into the content/isError shape of an MCP tools/call result.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`

	// Category and Retryable are set only when IsError is true. They
	// are not part of spec's wire envelope on their own; the jsonrpc
	// package lifts them into the response's errorInfo extension.
	Category  toolerr.Category `json:"-"`
	Retryable bool             `json:"-"`
}

// Ok wraps text in a successful result.
func Ok(text string) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// Okf formats text with fmt.Sprintf and wraps it in a successful result.
func Okf(format string, args ...any) Result {
	return Ok(fmt.Sprintf(format, args...))
}

// Error wraps reason in a failed result. The category defaults to
// internal; use Errorf to classify it.
func Error(reason string) Result {
	return Result{
		Content:   []ContentBlock{{Type: "text", Text: reason}},
		IsError:   true,
		Category:  toolerr.Internal,
		Retryable: false,
	}
}

// Errorf wraps err in a failed result, classifying it via toolerr.
// The error's message (err.Error()) becomes the reason text.
func Errorf(err error) Result {
	category, retryable := toolerr.Classify(err)
	return Result{
		Content:   []ContentBlock{{Type: "text", Text: err.Error()}},
		IsError:   true,
		Category:  category,
		Retryable: retryable,
	}
}

// Text returns the text of the first content block, or "" when there
// is none. Every Result built by this package carries exactly one
// block.
func (r Result) Text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}
