// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/config"
	"github.com/llamar/llamar/internal/transport"
)

// readyTimeout bounds how long Spawn waits for the child's listener to
// accept connections before giving up.
const readyTimeout = 10 * time.Second

// running is the in-memory half of a live subagent: the Record plus
// the handle needed to reap and kill it. The registry exists because
// policy checks (active_count < max_concurrent) and Kill need a live
// view that the on-disk Record alone can't give after a process crash
// without a reap.
type running struct {
	record Record
	cmd    *exec.Cmd
	client *transport.Client
	exited chan struct{}
}

// Supervisor implements spec §4.14: spawning child Tool Server
// processes, policy-checking spawns, and querying/killing/reaping them.
type Supervisor struct {
	cfgSrc   func() config.Config
	binary   string // path to the llamar-toolserver binary to re-exec
	agentDir string // parent's per-agent directory, for subagents.json
	isChild  bool   // true when this process is itself a subagent
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	live     map[string]*running
	nextPort int

	records *recordStore
}

// Options configures a new Supervisor.
type Options struct {
	ConfigSource func() config.Config
	Binary       string
	AgentDir     string
	IsChild      bool
	Clock        clock.Clock
	Logger       *slog.Logger
}

func New(opts Options) (*Supervisor, error) {
	records, err := openRecordStore(opts.AgentDir)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Supervisor{
		cfgSrc:   opts.ConfigSource,
		binary:   opts.Binary,
		agentDir: opts.AgentDir,
		isChild:  opts.IsChild,
		clock:    clk,
		logger:   logger,
		live:     make(map[string]*running),
		records:  records,
	}, nil
}

var (
	// ErrDisabled is returned by Spawn when subagents.enabled is false.
	ErrDisabled = errors.New("subagent: subagents are disabled")
	// ErrTooManyConcurrent is returned when active_count == max_concurrent.
	ErrTooManyConcurrent = errors.New("subagent: max_concurrent reached")
	// ErrNestingDenied is returned when a subagent tries to spawn its
	// own subagent and allow_nested is false.
	ErrNestingDenied = errors.New("subagent: nested subagents are not allowed")
	// ErrNotFound is returned by Query/Kill for an unknown id.
	ErrNotFound = errors.New("subagent: no such subagent")
)

func (s *Supervisor) activeCount() int {
	count := 0
	for _, r := range s.live {
		if r.record.Status != StatusCompleted {
			count++
		}
	}
	return count
}

// Spawn starts a new subagent process bound to a free port starting at
// subagents.base_port, running policy checks per spec §4.14 first.
func (s *Supervisor) Spawn(ctx context.Context, id, prompt string) (Record, error) {
	cfg := s.cfgSrc().Subagents

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		return Record{}, ErrDisabled
	}
	if s.isChild && !cfg.AllowNested {
		return Record{}, ErrNestingDenied
	}
	if cfg.MaxConcurrent > 0 && s.activeCount() >= cfg.MaxConcurrent {
		return Record{}, ErrTooManyConcurrent
	}

	port, listener, err := s.claimPort(cfg.BasePort)
	if err != nil {
		return Record{}, fmt.Errorf("subagent: finding a free port: %w", err)
	}
	listener.Close() // release it; the child binds it moments later

	now := s.clock.Now().UnixMilli()
	record := Record{
		ID:        id,
		ParentID:  s.agentDir,
		Port:      port,
		Status:    StatusStarting,
		Prompt:    prompt,
		StartedAt: now,
		LastQuery: now,
	}

	cmd := exec.CommandContext(context.Background(), s.binary,
		"--port", fmt.Sprintf("%d", port),
		"--agent-id", id,
		"--subagent",
	)
	if err := cmd.Start(); err != nil {
		return Record{}, fmt.Errorf("subagent: starting %s: %w", s.binary, err)
	}
	record.PID = cmd.Process.Pid

	exited := make(chan struct{})
	live := &running{record: record, cmd: cmd, exited: exited}
	s.live[id] = live

	go func() {
		cmd.Wait()
		close(exited)
	}()

	if err := waitForPort(ctx, port, exited, readyTimeout); err != nil {
		cmd.Process.Kill()
		<-exited
		delete(s.live, id)
		return Record{}, fmt.Errorf("subagent %s: %w", id, err)
	}

	live.client = transport.NewClient(fmt.Sprintf("127.0.0.1:%d", port))
	live.record.Status = StatusRunning
	record = live.record

	if err := s.persist(); err != nil {
		s.logger.Warn("subagent: persisting record failed", "id", id, "error", err)
	}
	return record, nil
}

// claimPort probes ports starting at base (defaulting to 8900) until it
// finds one it can bind, returning the still-open listener so the
// caller can verify the port stays free up to the point the child
// process starts.
func (s *Supervisor) claimPort(base int) (int, net.Listener, error) {
	if base <= 0 {
		base = 8900
	}
	start := base
	if s.nextPort > start {
		start = s.nextPort
	}
	for port := start; port < start+1000; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			s.nextPort = port + 1
			return port, listener, nil
		}
	}
	return 0, nil, fmt.Errorf("no free port found in [%d, %d)", start, start+1000)
}

func waitForPort(ctx context.Context, port int, died <-chan struct{}, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-died:
			return fmt.Errorf("process exited before its listener came up")
		default:
		}
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for port %d to accept connections", port)
}

// Query reaps expired subagents eagerly (spec §4.14), then connects to
// id over MCP and invokes the "chat" tool with message.
func (s *Supervisor) Query(ctx context.Context, id, message string) (string, error) {
	cfg := s.cfgSrc().Subagents

	s.mu.Lock()
	s.reapExpiredLocked(cfg.TimeoutMinutes)
	live, ok := s.live[id]
	s.mu.Unlock()

	if !ok {
		return "", ErrNotFound
	}

	text, err := live.client.Call(ctx, "chat", map[string]any{"message": message})

	s.mu.Lock()
	live.record.LastQuery = s.clock.Now().UnixMilli()
	s.persist()
	s.mu.Unlock()

	return text, err
}

// Kill marks id completed, terminates its process, and drops the local
// record.
func (s *Supervisor) Kill(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live, ok := s.live[id]
	if !ok {
		return ErrNotFound
	}
	live.record.Status = StatusCompleted
	live.record.FinishedAt = s.clock.Now().UnixMilli()
	if live.cmd.Process != nil {
		live.cmd.Process.Kill()
	}
	delete(s.live, id)
	return s.persist()
}

// Sweep is the lazy cleanup pass spec §4.14 describes, run periodically
// by a dedicated worker (per spec §5's concurrency model) rather than
// only on query.
func (s *Supervisor) Sweep() int {
	cfg := s.cfgSrc().Subagents
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reapExpiredLocked(cfg.TimeoutMinutes)
}

// reapExpiredLocked removes subagents whose lastQuery is older than
// timeoutMinutes, or whose process has already exited. Returns the
// number reaped. Callers must hold s.mu.
func (s *Supervisor) reapExpiredLocked(timeoutMinutes int) int {
	now := s.clock.Now().UnixMilli()
	var cutoff int64 = -1
	if timeoutMinutes > 0 {
		cutoff = now - int64(timeoutMinutes)*60*1000
	}

	reaped := 0
	for id, live := range s.live {
		expired := cutoff >= 0 && live.record.LastQuery < cutoff
		dead := isExited(live.exited)
		if !expired && !dead {
			continue
		}
		if live.cmd.Process != nil {
			live.cmd.Process.Kill()
		}
		delete(s.live, id)
		reaped++
	}
	if reaped > 0 {
		if err := s.persist(); err != nil {
			s.logger.Warn("subagent: persisting after sweep failed", "error", err)
		}
	}
	return reaped
}

func isExited(exited <-chan struct{}) bool {
	select {
	case <-exited:
		return true
	default:
		return false
	}
}

// List returns every live subagent's current Record.
func (s *Supervisor) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.live))
	for _, live := range s.live {
		out = append(out, live.record)
	}
	return out
}

// persist writes the in-memory registry's records to subagents.json.
// Callers must hold s.mu.
func (s *Supervisor) persist() error {
	snapshot := make(map[string]*Record, len(s.live))
	for id, live := range s.live {
		r := live.record
		snapshot[id] = &r
	}
	return s.records.withLock(func(map[string]*Record) (map[string]*Record, error) {
		return snapshot, nil
	})
}
