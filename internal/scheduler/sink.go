// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/llamar/llamar/internal/clock"
)

// ConsoleSink logs an outcome through a structured logger. It is the
// default notification_sink ("console") when a task does not name one.
type ConsoleSink struct {
	logger *slog.Logger
}

// NewConsoleSink returns a sink that logs outcomes at Info (success) or
// Warn (failure).
func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleSink{logger: logger}
}

func (c *ConsoleSink) Notify(task Task, outcome Outcome) error {
	attrs := []any{"task_id", task.ID, "task_name", task.Name, "tokens_used", outcome.TokensUsed}
	if outcome.Success {
		c.logger.Info("scheduled task completed", append(attrs, "result", outcome.Result)...)
	} else {
		c.logger.Warn("scheduled task failed", append(attrs, "error", outcome.Error)...)
	}
	return nil
}

// FileSink appends one line per outcome to a log file, guarded by a
// mutex since RecordRun's caller may run tasks from more than one
// goroutine.
type FileSink struct {
	mu    sync.Mutex
	path  string
	clock clock.Clock
}

// NewFileSink returns a sink appending to the file at path, creating it
// (and any outcome log that does not yet exist) on first write. clk may
// be nil, in which case clock.Real() is used.
func NewFileSink(path string, clk clock.Clock) *FileSink {
	if clk == nil {
		clk = clock.Real()
	}
	return &FileSink{path: path, clock: clk}
}

func (f *FileSink) Notify(task Task, outcome Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("scheduler: opening sink file %s: %w", f.path, err)
	}
	defer file.Close()

	status := "ok"
	detail := outcome.Result
	if !outcome.Success {
		status = "error"
		detail = outcome.Error
	}
	line := fmt.Sprintf("%s\ttask=%s\tid=%d\tstatus=%s\ttokens=%d\t%s\n",
		f.clock.Now().UTC().Format(time.RFC3339), task.Name, task.ID, status, outcome.TokensUsed, detail)

	_, err = io.WriteString(file, line)
	return err
}
