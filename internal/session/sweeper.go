package session

import (
	"context"
	"log/slog"
	"time"
)

// ExpireCallback is invoked for every session removed by the sweeper.
type ExpireCallback func(sessionID string)

// Retainer prunes conversation messages older than a cutoff.
type Retainer interface {
	DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error)
}

// SweeperConfig controls the background sweeper.
type SweeperConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// StartSweeper runs a background goroutine that periodically removes expired
// sessions and applies message retention.
func StartSweeper(ctx context.Context, reg *Registry, log Retainer, cfg SweeperConfig, onExpire ExpireCallback) {
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", cfg.Interval, "ttl", reg.ttl, "retention", cfg.Retention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, reg, log, cfg.Retention, onExpire)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, reg *Registry, log Retainer, retention time.Duration, onExpire ExpireCallback) {
	expired, err := reg.Sweep(ctx)
	if err != nil {
		slog.Error("Session sweeper failed to remove expired sessions", "error", err)
	}

	if len(expired) > 0 {
		slog.Info("Session sweeper removed expired sessions", "count", len(expired))
		if onExpire != nil {
			for _, id := range expired {
				onExpire(id)
			}
		}
	}

	if log == nil || retention <= 0 {
		return
	}
	if deleted, err := log.DeleteMessagesBefore(ctx, reg.now().Add(-retention)); err != nil {
		slog.Error("Session sweeper failed to apply message retention", "error", err)
	} else if deleted > 0 {
		slog.Info("Session sweeper pruned old messages", "count", deleted)
	}
}
