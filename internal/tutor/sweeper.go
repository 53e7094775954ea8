package tutor

import (
	"context"
	"log/slog"
	"time"
)

// DeviceJanitor purges devices that have not been seen for a long time.
type DeviceJanitor interface {
	DeleteStaleDevices(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SweeperConfig controls StartSweeper.
type SweeperConfig struct {
	Interval  time.Duration
	IdleTTL   time.Duration
	Retention time.Duration
}

const defaultSweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically evicts idle
// sessions from memory and purges stored state of devices not seen within
// the retention window. A zero Retention keeps stored state forever.
func StartSweeper(ctx context.Context, mgr *Manager, janitor DeviceJanitor, cfg SweeperConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", cfg.Interval, "idle_ttl", cfg.IdleTTL, "retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, mgr, janitor, cfg)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, mgr *Manager, janitor DeviceJanitor, cfg SweeperConfig) {
	if cfg.IdleTTL > 0 {
		if evicted := mgr.EvictIdle(cfg.IdleTTL); len(evicted) > 0 {
			slog.Info("Session sweeper evicted idle sessions", "count", len(evicted))
		}
	}

	if janitor == nil || cfg.Retention <= 0 {
		return
	}
	deleted, err := janitor.DeleteStaleDevices(ctx, cfg.Retention)
	if err != nil {
		slog.Error("Session sweeper failed to purge stale devices", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Session sweeper purged stale devices", "count", deleted)
	}
}
