// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/cron"
)

// Outcome is what a RunTaskFunc reports back for one execution,
// mirroring spec §4.13 step 2's run_task(task, cfg) → {success,
// result, error, tokens_used}.
type Outcome struct {
	Success    bool
	Result     string
	Error      string
	TokensUsed int
}

// RunTaskFunc actually executes a due task, typically by driving a
// fresh conversation with the task's prompt. Supplied by the caller
// (cmd/llamar-toolserver) so this package has no dependency on the LLM
// client.
type RunTaskFunc func(ctx context.Context, task Task) Outcome

// NotificationSink routes a completed run's outcome somewhere a human
// or another system can see it, per spec §4.13 step 4's "console,
// file, messaging channel" options.
type NotificationSink interface {
	Notify(task Task, outcome Outcome) error
}

// Scheduler runs the step function described in spec §4.13 against a
// Store, using runTask to execute due tasks and sinks to route their
// outcomes by the task's configured notification_sink name.
type Scheduler struct {
	store   *Store
	runTask RunTaskFunc
	sinks   map[string]NotificationSink
	clock   clock.Clock
	logger  *slog.Logger
}

// New returns a Scheduler. sinks maps a notification_sink name (e.g.
// "console", "file") to its implementation; a task naming an
// unregistered sink is logged and otherwise ignored.
func New(store *Store, runTask RunTaskFunc, sinks map[string]NotificationSink, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{store: store, runTask: runTask, sinks: sinks, clock: clk, logger: logger}
}

// Step executes one pass of spec §4.13's step function: query due
// tasks, run each, record the run, reschedule, and notify. Returns the
// number of tasks run.
func (s *Scheduler) Step(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.store.Due(ctx, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("scheduler: querying due tasks: %w", err)
	}

	for _, task := range due {
		s.runOne(ctx, task, now)
	}
	return len(due), nil
}

func (s *Scheduler) runOne(ctx context.Context, task Task, startedAt time.Time) {
	outcome := s.runTask(ctx, task)
	finishedAt := s.clock.Now()

	status := "success"
	if !outcome.Success {
		status = "failure"
	}

	nextRun, err := s.computeNextRun(task, finishedAt)
	if err != nil {
		s.logger.Warn("scheduler: could not compute next run", "task_id", task.ID, "schedule", task.Schedule, "error", err)
	}

	run := Run{
		TaskID:     task.ID,
		StartedAt:  startedAt.UnixMilli(),
		FinishedAt: finishedAt.UnixMilli(),
		Status:     status,
		Result:     outcome.Result,
		Error:      outcome.Error,
		TokensUsed: outcome.TokensUsed,
	}
	if recordErr := s.store.RecordRun(ctx, run, nextRun, finishedAt.UnixMilli()); recordErr != nil {
		s.logger.Error("scheduler: recording run failed", "task_id", task.ID, "error", recordErr)
		return
	}

	task.LastResult, task.LastError, task.RunCount = outcome.Result, outcome.Error, task.RunCount+1
	s.notify(task, outcome)
}

// computeNextRun advances the task's cron schedule from finishedAt, or
// returns nil when the task is run-once (empty schedule).
func (s *Scheduler) computeNextRun(task Task, finishedAt time.Time) (*int64, error) {
	if task.Schedule == "" {
		return nil, nil
	}
	schedule, err := cron.Parse(task.Schedule)
	if err != nil {
		return nil, err
	}
	next, err := schedule.Next(finishedAt)
	if err != nil {
		return nil, err
	}
	ms := next.UnixMilli()
	return &ms, nil
}

func (s *Scheduler) notify(task Task, outcome Outcome) {
	sink, ok := s.sinks[task.NotificationSink]
	if !ok {
		s.logger.Warn("scheduler: no notification sink registered", "task_id", task.ID, "sink", task.NotificationSink)
		return
	}
	if err := sink.Notify(task, outcome); err != nil {
		s.logger.Error("scheduler: notification sink failed", "task_id", task.ID, "sink", task.NotificationSink, "error", err)
	}
}
