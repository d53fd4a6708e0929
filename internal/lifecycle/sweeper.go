package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs the SLA breach sweep on a fixed interval, independent of the
// ingestion path.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(manager *Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{manager: manager, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled. Intended to run in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sla sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sla sweeper stopped")
			return
		case <-ticker.C:
			breached, err := s.manager.SweepSLA(ctx)
			if err != nil {
				s.logger.Error("sla sweep failed", "error", err)
				continue
			}
			if len(breached) > 0 {
				s.logger.Info("sla sweep flagged cases", "count", len(breached))
			}
		}
	}
}
