// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// llamar-toolserver hosts the MCP tool server: it dispatches tools/call
// over stdio or a TCP socket, runs the scheduled-task daemon and the
// subagent supervisor's cleanup sweep as background workers, and exits
// when its context is cancelled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/transport"
)

const version = "0.1.0"

// subagentSweepInterval is how often the supervisor reaps finished or
// timed-out child processes.
const subagentSweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var port int
	var dir, home, agentID string
	var isSubagent, showVersion bool

	flagSet := pflag.NewFlagSet("llamar-toolserver", pflag.ContinueOnError)
	flagSet.IntVar(&port, "port", 0, "listen on this TCP port instead of stdio")
	flagSet.StringVar(&dir, "dir", "", "working directory (default: current directory)")
	flagSet.StringVar(&home, "home", "", "home directory override (default: $HOME)")
	flagSet.StringVar(&agentID, "agent-id", "main", "identifies this process's session and memory store")
	flagSet.BoolVar(&isSubagent, "subagent", false, "mark this process as a spawned subagent")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("llamar-toolserver " + version)
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("toolserver: resolving home directory: %w", err)
		}
		home = h
	}
	if dir == "" {
		d, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("toolserver: resolving working directory: %w", err)
		}
		dir = d
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, cleanup, err := newServer(serverOptions{
		home:       home,
		cwd:        dir,
		agentID:    agentID,
		isSubagent: isSubagent,
		clock:      clock.Real(),
		logger:     logger,
	})
	defer cleanup()
	if err != nil {
		return err
	}

	if srv.watcher != nil {
		go srv.watcher.Run(ctx)
	}
	go srv.scheduler.RunDaemon(ctx, 0)
	go runSubagentSweep(ctx, srv, subagentSweepInterval)

	if port > 0 {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		logger.Info("listening", "addr", addr, "agent_id", agentID, "subagent", isSubagent)
		return transport.NewSocketServer(addr, srv.newLineHandler, logger).Serve(ctx)
	}

	logger.Info("serving over stdio", "agent_id", agentID, "subagent", isSubagent)
	handler := srv.newLineHandler(nil)
	return transport.RunStdio(ctx, os.Stdin, os.Stdout, handler)
}

// runSubagentSweep reaps finished or timed-out child subagents on a
// fixed interval until ctx is cancelled, per spec §5's "a dedicated
// worker hosts the subagent supervisor's cleanup sweep."
func runSubagentSweep(ctx context.Context, srv *toolServer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := srv.subagents.Sweep(); n > 0 {
				srv.opts.logger.Info("subagent sweep reaped processes", "count", n)
			}
		}
	}
}
