// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit tracks per-provider token and request usage and
// rejects calls that would exceed configured caps, per spec §4.12.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/llamar/llamar/internal/clock"
)

// Caps bounds one provider's usage. A zero field means "no cap" for
// that dimension.
type Caps struct {
	TokensPerHour    int
	RequestsPerMinute int
}

// Check is the result of Limiter.Check: whether the call may proceed,
// and an optional human-readable message (a rejection reason, or a
// warning when usage is approaching the cap).
type Check struct {
	OK      bool
	Message string
	Warning string
}

// warnThreshold is the fraction of the hourly token cap at which Check
// starts returning a warning alongside ok:true, per spec §4.12 step 4.
const warnThreshold = 0.8

// providerState holds one provider's sliding-window counters. The
// requests/minute window is delegated to golang.org/x/time/rate, whose
// AllowN takes an explicit timestamp so it can be driven by a
// clock.Clock in tests instead of the wall clock; the tokens/hour
// window has no ready-made library (rate.Limiter models a single
// replenishing bucket, not an accumulating usage counter against a
// reset cap) and is tracked by hand, matching spec's literal
// window_start.hour bookkeeping.
type providerState struct {
	requestLimiter *rate.Limiter

	tokensHour   int
	hourCap      int
	hourStart    time.Time
}

// Limiter enforces per-provider rate caps. Safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	clock clock.Clock
	caps  map[string]Caps
	state map[string]*providerState
}

// New returns a Limiter that enforces caps per provider, using clk for
// all timestamping.
func New(caps map[string]Caps, clk clock.Clock) *Limiter {
	return &Limiter{
		clock: clk,
		caps:  caps,
		state: make(map[string]*providerState),
	}
}

func (l *Limiter) stateFor(provider string) *providerState {
	if s, ok := l.state[provider]; ok {
		return s
	}
	caps := l.caps[provider]
	var reqLimiter *rate.Limiter
	if caps.RequestsPerMinute > 0 {
		reqLimiter = rate.NewLimiter(rate.Limit(float64(caps.RequestsPerMinute)/60.0), caps.RequestsPerMinute)
	}
	s := &providerState{
		requestLimiter: reqLimiter,
		hourCap:        caps.TokensPerHour,
		hourStart:      l.clock.Now(),
	}
	l.state[provider] = s
	return s
}

// Check decides whether a call estimated to use estTokens tokens may
// proceed for provider, per spec §4.12 steps 1-4. It records no token
// usage, but when a requests/minute cap is set and the hourly check
// passes it consumes one request from that budget. Call Track after
// the call actually completes to record real usage.
func (l *Limiter) Check(provider string, estTokens int) Check {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stateFor(provider)
	now := l.clock.Now()
	l.rollHour(s, now)

	if s.hourCap > 0 && s.tokensHour+estTokens > s.hourCap {
		resetIn := s.hourStart.Add(time.Hour).Sub(now)
		return Check{OK: false, Message: fmt.Sprintf(
			"Rate limit exceeded: %s would exceed %d tokens/hour, try again in %s",
			provider, s.hourCap, roundDuration(resetIn))}
	}

	// AllowN both checks and consumes one request's worth of budget:
	// x/time/rate models a replenishing bucket rather than spec's
	// literal reset-every-minute counter, so "check" and "consume" are
	// the same atomic operation here. Track's requests parameter only
	// matters for calls that account for more than one request.
	if s.requestLimiter != nil && !s.requestLimiter.AllowN(now, 1) {
		return Check{OK: false, Message: fmt.Sprintf(
			"Rate limit exceeded: %s has no requests/minute budget remaining, try again shortly", provider)}
	}

	if s.hourCap > 0 && s.tokensHour+estTokens >= int(float64(s.hourCap)*warnThreshold) {
		return Check{OK: true, Warning: fmt.Sprintf(
			"Approaching token limit: %s at %d/%d tokens this hour", provider, s.tokensHour+estTokens, s.hourCap)}
	}

	return Check{OK: true}
}

// Track records actual usage for provider after a call completes.
// requests defaults to 1 when zero.
func (l *Limiter) Track(provider string, tokens int, requests int) {
	if requests == 0 {
		requests = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stateFor(provider)
	now := l.clock.Now()
	l.rollHour(s, now)

	s.tokensHour += tokens
	if s.requestLimiter != nil && requests > 1 {
		// The first request of this call was already consumed by
		// Check's AllowN; only the extra ones need accounting here.
		s.requestLimiter.AllowN(now, requests-1)
	}
}

// rollHour resets the hourly token counter once an hour has elapsed
// since hourStart, per spec §4.12 step 1.
func (l *Limiter) rollHour(s *providerState, now time.Time) {
	if now.Sub(s.hourStart) >= time.Hour {
		s.tokensHour = 0
		s.hourStart = now
	}
}

func roundDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d.Round(time.Second)
}
