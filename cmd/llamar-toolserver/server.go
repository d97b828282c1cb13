// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/config"
	"github.com/llamar/llamar/internal/jsonrpc"
	"github.com/llamar/llamar/internal/memory"
	"github.com/llamar/llamar/internal/permission"
	"github.com/llamar/llamar/internal/ratelimit"
	"github.com/llamar/llamar/internal/scheduler"
	"github.com/llamar/llamar/internal/session"
	"github.com/llamar/llamar/internal/skill"
	"github.com/llamar/llamar/internal/skillfile"
	"github.com/llamar/llamar/internal/subagent"
	"github.com/llamar/llamar/internal/tools"
	"github.com/llamar/llamar/internal/transport"
)

// serverOptions are the resolved startup parameters, one per process:
// a top-level server manages the user's session directly, a subagent
// server is a child spawned by subagent.Supervisor.Spawn to run a
// scoped copy of this same binary.
type serverOptions struct {
	home, cwd, agentID string
	isSubagent         bool
	clock              clock.Clock
	logger             *slog.Logger
}

// toolServer owns every long-lived component one process needs: the
// skill registry tools/call dispatches against, the session and memory
// stores, the rate limiter and permission approver the skills consult,
// and the two background subsystems (scheduler, subagent supervisor)
// that run independently of any single connection.
type toolServer struct {
	opts     serverOptions
	cfgSrc   func() config.Config
	watcher  *config.Watcher
	registry *skill.Registry
	sessions *session.Store
	memory   *memory.Store
	limiter  *ratelimit.Limiter
	approver permission.Approver

	subagents      *subagent.Supervisor
	scheduler      *scheduler.Scheduler
	schedulerStore *scheduler.Store
}

// newServer wires every component described in SPEC_FULL.md's modules
// A through N for one process. The returned cleanup func releases
// every resource opened here, in reverse order, and must be called
// even when newServer itself returns an error (it is safe to call on a
// partially constructed server).
func newServer(opts serverOptions) (*toolServer, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	logger := opts.logger
	agentDir := filepath.Join(session.AgentsRoot(opts.home), opts.agentID)
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return nil, cleanup, fmt.Errorf("toolserver: creating agent directory: %w", err)
	}

	srv := &toolServer{
		opts:     opts,
		approver: permission.DenyApprover{},
	}

	cfgSrc := func() config.Config { return config.Load(opts.home, opts.cwd, logger) }
	if watcher, err := config.NewWatcher(opts.home, opts.cwd, logger, nil); err != nil {
		logger.Warn("config file watcher unavailable, reloading config on every access instead", "error", err)
	} else {
		srv.watcher = watcher
		cfgSrc = watcher.Current
	}
	srv.cfgSrc = cfgSrc
	startupCfg := cfgSrc()

	sessions, err := session.Open(session.AgentsRoot(opts.home), opts.agentID, opts.clock, logger)
	if err != nil {
		return srv, cleanup, fmt.Errorf("toolserver: opening session store: %w", err)
	}
	srv.sessions = sessions

	memStore, err := memory.Open(opts.home, opts.agentID, opts.clock, logger)
	if err != nil {
		return srv, cleanup, fmt.Errorf("toolserver: opening memory store: %w", err)
	}
	srv.memory = memStore
	cleanups = append(cleanups, func() { memStore.Close() })

	srv.limiter = ratelimit.New(buildCaps(startupCfg.RateLimits), opts.clock)

	// The registry is built once and frozen: ScriptInterpreters and the
	// skill trees under home/cwd are all read exactly once, at startup,
	// and Freeze makes any later Register a programming-error panic
	// instead of a silent mid-flight registry mutation.
	registry := skill.NewRegistry()
	tools.Register(registry, cfgSrc, memStore, nil, srv.limiter, startupCfg.ScriptInterpreters)
	for _, root := range []string{
		filepath.Join(opts.home, ".llamar", "skills"),
		filepath.Join(opts.cwd, ".llamar", "skills"),
	} {
		if err := skillfile.RegisterAll(registry, root); err != nil {
			logger.Warn("loading SKILL.md files failed", "root", root, "error", err)
		}
	}
	registry.Freeze()
	srv.registry = registry

	binary, err := os.Executable()
	if err != nil {
		return srv, cleanup, fmt.Errorf("toolserver: resolving own executable path: %w", err)
	}
	supervisor, err := subagent.New(subagent.Options{
		ConfigSource: cfgSrc,
		Binary:       binary,
		AgentDir:     agentDir,
		IsChild:      opts.isSubagent,
		Clock:        opts.clock,
		Logger:       logger,
	})
	if err != nil {
		return srv, cleanup, fmt.Errorf("toolserver: starting subagent supervisor: %w", err)
	}
	srv.subagents = supervisor

	schedStore, err := scheduler.Open(filepath.Join(agentDir, "tasks.sqlite"))
	if err != nil {
		return srv, cleanup, fmt.Errorf("toolserver: opening task store: %w", err)
	}
	srv.schedulerStore = schedStore
	cleanups = append(cleanups, func() { schedStore.Close() })

	srv.scheduler = scheduler.New(schedStore, srv.runScheduledTask, map[string]scheduler.NotificationSink{
		"console": scheduler.NewConsoleSink(logger),
		"file":    scheduler.NewFileSink(filepath.Join(agentDir, "task-notifications.log"), opts.clock),
	}, opts.clock, logger)

	return srv, cleanup, nil
}

// buildCaps adapts the config file's rate-limit table into the shape
// ratelimit.New expects; the two packages intentionally don't share a
// type so config stays free of the ratelimit import.
func buildCaps(limits map[string]config.RateLimit) map[string]ratelimit.Caps {
	caps := make(map[string]ratelimit.Caps, len(limits))
	for provider, limit := range limits {
		caps[provider] = ratelimit.Caps{
			TokensPerHour:     limit.TokensPerHour,
			RequestsPerMinute: limit.RequestsPerMinute,
		}
	}
	return caps
}

// runScheduledTask is the scheduler.RunTaskFunc for this process. No
// LLM client is wired into this core (spec §1 places it out of scope),
// so a due task always reports that nothing ran it, the same way
// ChatSkill does when it has no backend. An embedder wiring in a real
// client would replace this with one that drives a fresh conversation
// from task.Prompt.
func (srv *toolServer) runScheduledTask(ctx context.Context, task scheduler.Task) scheduler.Outcome {
	return scheduler.Outcome{
		Success: false,
		Error:   "scheduler: no LLM backend configured to run task prompts",
	}
}

// newLineHandler mints a fresh session and returns the transport
// handler for one connection (or, for stdio, the process's one and
// only logical connection). Subagent processes are scoped to
// config.Subagents.DefaultTools; the top-level process is unrestricted.
func (srv *toolServer) newLineHandler(_ net.Conn) transport.LineHandler {
	cfg := srv.cfgSrc()
	sess, err := srv.sessions.New(cfg.Provider, cfg.Model, srv.opts.cwd)
	if err != nil {
		srv.opts.logger.Error("toolserver: minting session failed", "error", err)
		failed := jsonrpc.New(srv.registry, srv.cfgSrc, srv.sessions, srv.opts.logger, srv.approver, "", []string{})
		return failed.HandleLine
	}

	var allowedTools []string
	if srv.opts.isSubagent {
		allowedTools = cfg.Subagents.DefaultTools
	}
	handler := jsonrpc.New(srv.registry, srv.cfgSrc, srv.sessions, srv.opts.logger, srv.approver, sess.SessionID, allowedTools)
	return handler.HandleLine
}
