// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"time"
)

// DefaultStepInterval is how often the daemon checks for due tasks
// when no interval is configured.
const DefaultStepInterval = 30 * time.Second

// RunDaemon ticks the scheduler at interval until ctx is cancelled,
// calling Step on each tick and logging any error without stopping the
// loop. interval <= 0 falls back to DefaultStepInterval.
func (s *Scheduler) RunDaemon(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultStepInterval
	}

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler daemon started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler daemon stopping")
			return
		case <-ticker.C:
		}

		ran, err := s.Step(ctx)
		if err != nil {
			s.logger.Error("scheduler step failed", "error", err)
			continue
		}
		if ran > 0 {
			s.logger.Debug("scheduler step ran tasks", "count", ran)
		}
	}
}
