// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/llamar/llamar/internal/resultenv"
	"github.com/llamar/llamar/internal/toolerr"
)

// argsTruncateLimit and resultTruncateLimit match spec's trace entry
// truncation: args strings over 200 chars and results over 500 chars
// are cut with an ellipsis.
const (
	argsTruncateLimit   = 200
	resultTruncateLimit = 500
)

// TraceEntry is one row of a session's trace log.
type TraceEntry struct {
	Timestamp  time.Time
	Tool       string
	Args       string
	Result     string
	Success    bool
	ElapsedMs  int64
	ApprovedBy string
	// ErrorCategory mirrors the result's toolerr classification when
	// Success is false, a SPEC_FULL addition (§4 Data Model) on top of
	// spec's trace entry fields.
	ErrorCategory string
}

// Tracer appends a trace entry for a session. Implemented by
// internal/session's Store; accepted here as an interface to avoid an
// import cycle between skill and session.
type Tracer interface {
	AppendTrace(sessionID string, entry TraceEntry) error
}

// CallContext carries the per-call metadata that doesn't belong in
// args: which session (if any) issued the call, and who approved it
// if the permission engine required approval.
type CallContext struct {
	SessionID  string
	ApprovedBy string
}

// Run executes the CALLED → VALIDATE_REQUIRED → VALIDATE_TYPES →
// (dry_run?) → EXECUTE → TRACE → RETURN state machine described in
// spec §4.5. timeout bounds EXECUTE; a zero timeout means no bound.
// tracer and logger may both be nil.
func Run(ctx context.Context, s Skill, args map[string]any, call CallContext, timeout time.Duration, dryRun bool, tracer Tracer, logger *slog.Logger) resultenv.Result {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}

	// VALIDATE_REQUIRED
	if missing := missingRequired(s, args); len(missing) > 0 {
		return resultenv.Errorf(toolerr.Validationf("Missing required parameters: %s", strings.Join(missing, ", ")))
	}

	// VALIDATE_TYPES
	if badParam, reason := firstTypeViolation(s, args); badParam != "" {
		return resultenv.Errorf(toolerr.Validationf("Invalid value for parameter %q: %s", badParam, reason))
	}

	if dryRun {
		return resultenv.Ok(previewText(s, args))
	}

	start := time.Now()
	result := execute(ctx, s, args, timeout)
	elapsed := time.Since(start)

	if call.SessionID != "" && tracer != nil {
		entry := TraceEntry{
			Timestamp:  start,
			Tool:       s.Name,
			Args:       truncate(summarizeArgs(args), argsTruncateLimit),
			Result:     truncate(result.Text(), resultTruncateLimit),
			Success:    !result.IsError,
			ElapsedMs:  elapsed.Milliseconds(),
			ApprovedBy: call.ApprovedBy,
		}
		if result.IsError {
			entry.ErrorCategory = string(result.Category)
		}
		if err := tracer.AppendTrace(call.SessionID, entry); err != nil {
			logger.Warn("trace append failed", "session_id", call.SessionID, "tool", s.Name, "error", err)
		}
	}

	return result
}

// execute invokes the handler, converting a panic into an Error result
// and enforcing timeout as a wall-clock bound via ctx.
func execute(ctx context.Context, s Skill, args map[string]any, timeout time.Duration) (result resultenv.Result) {
	callCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan resultenv.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- resultenv.Error(fmt.Sprintf("%v", r))
			}
		}()
		done <- s.Handler(callCtx, args)
	}()

	select {
	case result = <-done:
		return result
	case <-callCtx.Done():
		if timeout > 0 {
			return resultenv.Errorf(toolerr.Transientf("Skill timed out after %d seconds", int(timeout.Seconds())))
		}
		return resultenv.Errorf(toolerr.Transientf("Skill call canceled"))
	}
}

func missingRequired(s Skill, args map[string]any) []string {
	var missing []string
	for _, name := range s.RequiredNames() {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// firstTypeViolation reports the first supplied arg that doesn't
// satisfy its declared param's type or enum constraint. Unknown params
// (not declared on the skill) are allowed through for forward
// compatibility.
func firstTypeViolation(s Skill, args map[string]any) (param, reason string) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		p, ok := s.paramByName(name)
		if !ok {
			continue
		}
		value := args[name]
		if !satisfiesType(p.Type, value) {
			return name, fmt.Sprintf("expected %s", p.Type)
		}
		if len(p.Enum) > 0 {
			if str, ok := value.(string); !ok || !contains(p.Enum, str) {
				return name, fmt.Sprintf("must be one of %s", strings.Join(p.Enum, ", "))
			}
		}
	}
	return "", ""
}

func satisfiesType(t ParamType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// previewText renders the "[DRY RUN]" preview string for a skill call
// that would otherwise execute.
func previewText(s Skill, args map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[DRY RUN] Would execute: %s\nArguments:\n", s.Name)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, args[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizeArgs(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(raw)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
