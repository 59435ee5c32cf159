package workers

import (
	"context"
	"log/slog"
	"time"

	"boardsync/contract"
	"boardsync/domain/event"
)

// EventFanout broadcasts side-lane canvas events to external consumers
// (Kafka stream, telemetry).
//
// It provides best-effort fan-out with no guarantees regarding delivery,
// durability, or retries; the durable per-room broadcast order lives in
// the rooms, not here. A slow sink is cut off by the per-sink timeout so
// it cannot stall the lane for the others.
type EventFanout struct {
	log     *slog.Logger
	events  <-chan event.CanvasEvent
	sinks   []contract.EventSink
	timeout time.Duration
}

func NewEventFanout(log *slog.Logger, events <-chan event.CanvasEvent,
	timeout time.Duration, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, events: events, sinks: sinks, timeout: timeout}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		case evt := <-w.events:
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout delivers one event to every sink under the per-sink timeout.
func (w *EventFanout) Fanout(ctx context.Context, evt event.CanvasEvent) {
	for _, sink := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.timeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			w.log.Debug("Sink rejected event", "canvas", evt.Canvas(), "error", err)
		}
		cancel()
	}
}
