// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package scheduler persists tasks and their run history (spec §4.13)
// and drives them on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/llamar/llamar/internal/cron"
	"github.com/llamar/llamar/internal/sqlitepool"
)

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	schedule          TEXT,
	prompt            TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'active',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	last_run          INTEGER,
	next_run          INTEGER,
	run_count         INTEGER NOT NULL DEFAULT 0,
	last_result       TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT '',
	notification_sink TEXT NOT NULL DEFAULT 'console'
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run);

CREATE TABLE IF NOT EXISTS task_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id     INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	status      TEXT NOT NULL,
	result      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	tokens_used INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_id);
`

// Status values a task can hold. SetStatus clears next_run when a task
// leaves Active, and a run-once task (no schedule) has next_run cleared
// by RecordRun after its run. Create does not clear next_run: a task
// without a schedule, or created in a non-Active status, keeps any
// next_run it is given.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Task mirrors spec §3's Task record.
type Task struct {
	ID               int64
	Name             string
	Description      string
	Schedule         string // cron expression; empty means run-once/manual
	Prompt           string
	Status           string
	CreatedAt        int64 // unix milliseconds
	UpdatedAt        int64
	LastRun          *int64
	NextRun          *int64
	RunCount         int
	LastResult       string
	LastError        string
	NotificationSink string
}

// Run mirrors one row of spec §3's task_runs history.
type Run struct {
	ID         int64
	TaskID     int64
	StartedAt  int64
	FinishedAt int64
	Status     string // "success" or "failure"
	Result     string
	Error      string
	TokensUsed int
}

// Store persists tasks and runs in a SQLite database, reusing the same
// sqlitepool adapter as the memory chunk index (internal/memory).
type Store struct {
	pool *sqlitepool.Pool
}

// Open opens (creating if necessary) the task database at path.
func Open(path string) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 1,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, taskSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: opening %s: %w", path, err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// Create inserts a new task, computing its initial next_run from
// schedule if the task starts active.
func (s *Store) Create(ctx context.Context, t Task) (Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Task{}, err
	}
	defer s.pool.Put(conn)

	if t.Status == "" {
		t.Status = StatusActive
	}
	t.NotificationSink = defaultSink(t.NotificationSink)

	// A caller creating an active, scheduled task without an explicit
	// next_run gets one computed from the schedule, starting at
	// CreatedAt. A next_run the caller supplies is stored as given,
	// whatever the task's schedule and status.
	if t.Status == StatusActive && t.Schedule != "" && t.NextRun == nil {
		schedule, parseErr := cron.Parse(t.Schedule)
		if parseErr != nil {
			return Task{}, fmt.Errorf("scheduler: creating task %q: %w", t.Name, parseErr)
		}
		next, nextErr := schedule.Next(time.UnixMilli(t.CreatedAt))
		if nextErr != nil {
			return Task{}, fmt.Errorf("scheduler: creating task %q: %w", t.Name, nextErr)
		}
		ms := next.UnixMilli()
		t.NextRun = &ms
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO tasks (name, description, schedule, prompt, status, created_at, updated_at, next_run, notification_sink)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			t.Name, t.Description, nullableString(t.Schedule), t.Prompt, t.Status,
			t.CreatedAt, t.UpdatedAt, nullableInt64(t.NextRun), defaultSink(t.NotificationSink),
		}},
	)
	if err != nil {
		return Task{}, fmt.Errorf("scheduler: creating task %q: %w", t.Name, err)
	}
	t.ID = conn.LastInsertRowID()
	return t, nil
}

// Get returns the task with id, or ok=false if it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (Task, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Task{}, false, err
	}
	defer s.pool.Put(conn)

	var task Task
	var found bool
	err = sqlitex.Execute(conn, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			task = scanTask(stmt)
			return nil
		},
	})
	if err != nil {
		return Task{}, false, fmt.Errorf("scheduler: get task %d: %w", id, err)
	}
	return task, found, nil
}

// List returns every task ordered by id.
func (s *Store) List(ctx context.Context) ([]Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var tasks []Task
	err = sqlitex.Execute(conn, "SELECT "+taskColumns+" FROM tasks ORDER BY id", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tasks = append(tasks, scanTask(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: listing tasks: %w", err)
	}
	return tasks, nil
}

// Due returns active tasks whose next_run is at or before now, ordered
// ascending by next_run, per spec §4.13 step 1.
func (s *Store) Due(ctx context.Context, now int64) ([]Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var tasks []Task
	err = sqlitex.Execute(conn,
		"SELECT "+taskColumns+" FROM tasks WHERE status = ? AND next_run IS NOT NULL AND next_run <= ? ORDER BY next_run ASC",
		&sqlitex.ExecOptions{
			Args: []any{StatusActive, now},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tasks = append(tasks, scanTask(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("scheduler: querying due tasks: %w", err)
	}
	return tasks, nil
}

// SetStatus transitions a task's status, clearing next_run whenever
// the task leaves the active state and it is the caller's
// responsibility to repopulate next_run when reactivating (via
// RecordRun's nextRun argument, or by calling SetStatus followed by an
// explicit reschedule).
func (s *Store) SetStatus(ctx context.Context, id int64, status string, updatedAt int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	query := "UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?"
	args := []any{status, updatedAt, id}
	if status != StatusActive {
		query = "UPDATE tasks SET status = ?, updated_at = ?, next_run = NULL WHERE id = ?"
	}
	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("scheduler: setting task %d status: %w", id, err)
	}
	return nil
}

// RecordRun appends a task_runs row and updates the parent task's
// last_run/next_run/run_count/last_result/last_error in one
// transaction, per spec §4.13 step 3.
func (s *Store) RecordRun(ctx context.Context, run Run, nextRun *int64, updatedAt int64) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("scheduler: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn,
		`INSERT INTO task_runs (task_id, started_at, finished_at, status, result, error, tokens_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{run.TaskID, run.StartedAt, run.FinishedAt, run.Status, run.Result, run.Error, run.TokensUsed}},
	); err != nil {
		return fmt.Errorf("scheduler: recording run for task %d: %w", run.TaskID, err)
	}

	if err = sqlitex.Execute(conn,
		`UPDATE tasks SET last_run = ?, next_run = ?, run_count = run_count + 1,
		   last_result = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{run.FinishedAt, nullableInt64(nextRun), run.Result, run.Error, updatedAt, run.TaskID}},
	); err != nil {
		return fmt.Errorf("scheduler: updating task %d after run: %w", run.TaskID, err)
	}

	return nil
}

const taskColumns = "id, name, description, schedule, prompt, status, created_at, updated_at, last_run, next_run, run_count, last_result, last_error, notification_sink"

func scanTask(stmt *sqlite.Stmt) Task {
	t := Task{
		ID:               stmt.ColumnInt64(0),
		Name:             stmt.ColumnText(1),
		Description:      stmt.ColumnText(2),
		Schedule:         stmt.ColumnText(3),
		Prompt:           stmt.ColumnText(4),
		Status:           stmt.ColumnText(5),
		CreatedAt:        stmt.ColumnInt64(6),
		UpdatedAt:        stmt.ColumnInt64(7),
		RunCount:         stmt.ColumnInt(10),
		LastResult:       stmt.ColumnText(11),
		LastError:        stmt.ColumnText(12),
		NotificationSink: stmt.ColumnText(13),
	}
	if !stmt.ColumnIsNull(8) {
		v := stmt.ColumnInt64(8)
		t.LastRun = &v
	}
	if !stmt.ColumnIsNull(9) {
		v := stmt.ColumnInt64(9)
		t.NextRun = &v
	}
	return t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func defaultSink(sink string) string {
	if sink == "" {
		return "console"
	}
	return sink
}
