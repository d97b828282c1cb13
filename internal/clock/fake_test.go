// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeNowAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if got := f.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	f.Advance(time.Hour)
	want := start.Add(time.Hour)
	if got := f.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ch := f.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}

	f.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}

	f.Advance(time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire once deadline reached")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ch := f.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFakeTickerTicksOnEachPeriod(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)
	defer ticker.Stop()

	f.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not tick after one period")
	}

	select {
	case <-ticker.C:
		t.Fatal("ticker ticked twice for one period")
	default:
	}

	f.Advance(3 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not tick after advancing past period")
	}
}

func TestFakeTickerStopSuppressesTicks(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)
	ticker.Stop()

	f.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker should not tick")
	default:
	}
}

func TestFakeSleepAdvancesTime(t *testing.T) {
	start := time.Unix(0, 0)
	f := NewFake(start)
	f.Sleep(2 * time.Second)

	want := start.Add(2 * time.Second)
	if got := f.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Sleep = %v, want %v", got, want)
	}
}

func TestFakeNewTickerPanicsOnNonPositive(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive ticker duration")
		}
	}()
	f.NewTicker(0)
}

func TestFakeWaitForTimersBlocksUntilRegistered(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	registered := make(chan struct{})
	go func() {
		f.After(time.Second)
		close(registered)
	}()

	f.WaitForTimers(1)
	<-registered // WaitForTimers returning implies the waiter is visible.
	if got := f.PendingCount(); got != 1 {
		t.Fatalf("PendingCount = %d, want 1", got)
	}
}

func TestFakeWaitForTimersIgnoresStoppedTickers(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)
	ticker.Stop()

	if got := f.PendingCount(); got != 0 {
		t.Fatalf("PendingCount after Stop = %d, want 0", got)
	}
}
