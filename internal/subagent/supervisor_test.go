// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/llamar/llamar/internal/clock"
	"github.com/llamar/llamar/internal/config"
)

func newTestSupervisor(t *testing.T, cfg config.Subagents) (*Supervisor, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC))
	sup, err := New(Options{
		ConfigSource: func() config.Config { return config.Config{Subagents: cfg} },
		Binary:       "irrelevant-for-this-test",
		AgentDir:     t.TempDir(),
		Clock:        fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup, fake
}

func TestSpawnDisabledReturnsError(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{Enabled: false})
	if _, err := sup.Spawn(context.Background(), "sub-1", "do work"); err != ErrDisabled {
		t.Fatalf("Spawn = %v, want ErrDisabled", err)
	}
}

func TestSpawnNestingDeniedWhenParentIsChild(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	sup, err := New(Options{
		ConfigSource: func() config.Config {
			return config.Config{Subagents: config.Subagents{Enabled: true, AllowNested: false}}
		},
		Binary:   "irrelevant",
		AgentDir: t.TempDir(),
		IsChild:  true,
		Clock:    fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sup.Spawn(context.Background(), "sub-1", "do work"); err != ErrNestingDenied {
		t.Fatalf("Spawn = %v, want ErrNestingDenied", err)
	}
}

func TestSpawnRejectsWhenAtMaxConcurrent(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{Enabled: true, MaxConcurrent: 1})

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting placeholder process: %v", err)
	}
	defer cmd.Process.Kill()

	sup.live["existing"] = &running{
		record: Record{ID: "existing", Status: StatusRunning},
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	if _, err := sup.Spawn(context.Background(), "sub-1", "do work"); err != ErrTooManyConcurrent {
		t.Fatalf("Spawn = %v, want ErrTooManyConcurrent", err)
	}
}

func TestClaimPortFindsAFreePort(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{})

	port, listener, err := sup.claimPort(0)
	if err != nil {
		t.Fatalf("claimPort: %v", err)
	}
	defer listener.Close()
	if port < 8900 {
		t.Fatalf("port = %d, want >= 8900 default base", port)
	}
}

func TestClaimPortAdvancesPastPreviouslyClaimedPort(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{})

	first, firstListener, err := sup.claimPort(9500)
	if err != nil {
		t.Fatalf("claimPort: %v", err)
	}
	firstListener.Close()

	second, secondListener, err := sup.claimPort(9500)
	if err != nil {
		t.Fatalf("claimPort: %v", err)
	}
	defer secondListener.Close()

	if second <= first {
		t.Fatalf("second claim %d should advance past first claim %d", second, first)
	}
}

func TestQueryUnknownIDReturnsNotFound(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{Enabled: true})
	if _, err := sup.Query(context.Background(), "missing", "hello"); err != ErrNotFound {
		t.Fatalf("Query = %v, want ErrNotFound", err)
	}
}

func TestKillUnknownIDReturnsNotFound(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{Enabled: true})
	if err := sup.Kill("missing"); err != ErrNotFound {
		t.Fatalf("Kill = %v, want ErrNotFound", err)
	}
}

func TestKillTerminatesProcessAndRemovesRecord(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{Enabled: true})

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting placeholder process: %v", err)
	}
	sup.live["sub-1"] = &running{
		record: Record{ID: "sub-1", Status: StatusRunning},
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	if err := sup.Kill("sub-1"); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if _, ok := sup.live["sub-1"]; ok {
		t.Fatalf("Kill did not remove the in-memory record")
	}

	if err := cmd.Wait(); err == nil {
		t.Fatalf("expected the killed process to exit with an error")
	}
}

func TestReapExpiredLockedRemovesStaleSubagents(t *testing.T) {
	sup, fake := newTestSupervisor(t, config.Subagents{Enabled: true, TimeoutMinutes: 5})

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting placeholder process: %v", err)
	}
	defer cmd.Process.Kill()

	sup.live["stale"] = &running{
		record: Record{ID: "stale", Status: StatusRunning, LastQuery: fake.Now().UnixMilli()},
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	fake.Advance(10 * time.Minute)

	reaped := sup.Sweep()
	if reaped != 1 {
		t.Fatalf("Sweep reaped %d, want 1", reaped)
	}
	if _, ok := sup.live["stale"]; ok {
		t.Fatalf("stale subagent was not removed")
	}
}

func TestReapExpiredLockedKeepsFreshSubagents(t *testing.T) {
	sup, fake := newTestSupervisor(t, config.Subagents{Enabled: true, TimeoutMinutes: 5})

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting placeholder process: %v", err)
	}
	defer cmd.Process.Kill()

	sup.live["fresh"] = &running{
		record: Record{ID: "fresh", Status: StatusRunning, LastQuery: fake.Now().UnixMilli()},
		cmd:    cmd,
		exited: make(chan struct{}),
	}

	fake.Advance(time.Minute)

	if reaped := sup.Sweep(); reaped != 0 {
		t.Fatalf("Sweep reaped %d, want 0", reaped)
	}
	if _, ok := sup.live["fresh"]; !ok {
		t.Fatalf("fresh subagent was incorrectly removed")
	}
}

func TestListReturnsCurrentRecords(t *testing.T) {
	sup, _ := newTestSupervisor(t, config.Subagents{Enabled: true})

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting placeholder process: %v", err)
	}
	defer cmd.Process.Kill()

	sup.live["sub-1"] = &running{record: Record{ID: "sub-1", Status: StatusRunning}, cmd: cmd, exited: make(chan struct{})}

	records := sup.List()
	if len(records) != 1 || records[0].ID != "sub-1" {
		t.Fatalf("List = %+v", records)
	}
}

func TestRecordStoreRoundTrip(t *testing.T) {
	store, err := openRecordStore(t.TempDir())
	if err != nil {
		t.Fatalf("openRecordStore: %v", err)
	}

	want := Record{ID: "sub-1", Port: 9001, Status: StatusRunning}
	err = store.withLock(func(m map[string]*Record) (map[string]*Record, error) {
		m[want.ID] = &want
		return m, nil
	})
	if err != nil {
		t.Fatalf("withLock write: %v", err)
	}

	list, err := store.list()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "sub-1" || list[0].Port != 9001 {
		t.Fatalf("list = %+v", list)
	}
}
