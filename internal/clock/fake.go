// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// NewFake returns a Clock whose Now starts at start and only advances
// when Advance is called. After/NewTicker/Sleep all resolve against
// the fake's current time rather than the wall clock, so tests run
// instantly regardless of configured durations.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.waitersChanged.L = &f.mu
	return f
}

// Fake is a controllable Clock for tests. Safe for concurrent use.
type Fake struct {
	mu             sync.Mutex
	now            time.Time
	waiters        []waiter
	tickers        []*fakeTicker
	waitersChanged sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

type fakeTicker struct {
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	deadline := f.now.Add(d)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, waiter{deadline: deadline, ch: ch})
	f.waitersChanged.Broadcast()
	return ch
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker requires d > 0")
	}
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	ft := &fakeTicker{period: d, next: f.now.Add(d), ch: ch}
	f.tickers = append(f.tickers, ft)
	f.waitersChanged.Broadcast()
	f.mu.Unlock()

	return &Ticker{
		C: ch,
		stopFunc: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			ft.stopped = true
		},
	}
}

// Sleep advances the fake clock by d and fires any waiters/tickers
// whose deadline has passed, without actually blocking.
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

// Advance moves the fake clock forward by d, firing every pending
// After channel and ticker tick whose deadline now falls at or before
// the new time.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.deadline.After(f.now) {
			w.ch <- f.now
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining

	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(f.now) {
			select {
			case t.ch <- f.now:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

// WaitForTimers blocks until at least n timers or tickers are pending
// (registered but not yet fired or stopped). This eliminates the race
// between a goroutine registering a timer and the test advancing the
// clock before that registration happens.
//
//	go func() { sched.RunDaemon(ctx, time.Minute) }()
//	fakeClock.WaitForTimers(1)      // blocks until NewTicker registers
//	fakeClock.Advance(time.Minute)  // deterministically fires
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingCountLocked() < n {
		f.waitersChanged.Wait()
	}
}

// PendingCount returns the number of active (non-stopped, non-fired)
// pending waiters and tickers.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingCountLocked()
}

func (f *Fake) pendingCountLocked() int {
	count := len(f.waiters)
	for _, t := range f.tickers {
		if !t.stopped {
			count++
		}
	}
	return count
}
