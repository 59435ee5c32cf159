// Package sink holds in-process consumers of the side-lane event stream.
package sink

import (
	"context"
	"log/slog"
	"time"

	"boardsync/domain/event"
)

// LatencySink reports how far the side lane lags behind acceptance and
// warns when the lag crosses the configured threshold.
type LatencySink struct {
	log       *slog.Logger
	threshold time.Duration
}

func NewLatencySink(log *slog.Logger, threshold time.Duration) *LatencySink {
	return &LatencySink{log: log, threshold: threshold}
}

func (s *LatencySink) Consume(_ context.Context, e event.CanvasEvent) error {
	accepted, ok := e.(event.OperationAccepted)
	if !ok {
		return nil
	}
	lag := time.Since(accepted.AcceptedAt)
	s.log.Debug("telemetry: fanout lag",
		"canvas", accepted.Op.CanvasID,
		"sequence", accepted.Op.Sequence,
		"lag_ms", lag.Milliseconds(),
	)
	if lag > s.threshold {
		s.log.Warn("high fanout lag detected", "lag", lag)
	}
	return nil
}
