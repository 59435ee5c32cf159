package workers

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotTarget is what the snapshotter needs from the room manager.
type SnapshotTarget interface {
	SnapshotAll(ctx context.Context)
}

// Snapshotter periodically persists every live room. Save failures are
// logged inside SnapshotAll and simply retried on the next tick; a broken
// persistence adapter never blocks live editing.
type Snapshotter struct {
	log      *slog.Logger
	target   SnapshotTarget
	interval time.Duration
}

func NewSnapshotter(log *slog.Logger, target SnapshotTarget, interval time.Duration) *Snapshotter {
	return &Snapshotter{log: log, target: target, interval: interval}
}

func (w *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final pass so a graceful shutdown loses nothing.
			flushCtx, cancel := context.WithTimeout(context.Background(), w.interval)
			w.target.SnapshotAll(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			w.target.SnapshotAll(ctx)
		}
	}
}
