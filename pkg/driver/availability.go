package driver

import (
	"context"
	"log/slog"
	"time"
)

const maxProbeInterval = time.Minute

// WaitForStore blocks until d answers Ping or ctx is done. The probe
// interval doubles after each failure, capped at one minute.
func WaitForStore(ctx context.Context, d GraphDriver, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}

	for attempt := 1; ; attempt++ {
		err := d.Ping(ctx)
		if err == nil {
			logger.Info("Graph store available", "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Graph store unavailable", "attempt", attempt, "retry_in", interval, "error", err)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		interval = min(interval*2, maxProbeInterval)
	}
}
