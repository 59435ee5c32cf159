//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"boardsync/domain"
	"boardsync/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself; the supervisor recovers its panics.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker
// interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// SessionSink is the push side of one connected session. DeliverOperation
// is the ordered lane: implementations must preserve call order, and a
// returned error marks the session as too slow to keep in sync (the room
// responds with DeliverResync and drops it). The presence and notice lanes
// are best-effort.
type SessionSink interface {
	DeliverOperation(op domain.Operation) error
	DeliverPresence(p domain.PresenceEvent)
	DeliverNotice(n domain.OverrideNotice)
	DeliverResync(canvasID string)
}

// EventSink consumes side-lane canvas events (Kafka stream, telemetry).
type EventSink interface {
	Consume(ctx context.Context, e event.CanvasEvent) error
}

// SnapshotStore is the durable persistence collaborator. LoadLatestSnapshot
// returns errors.ErrSnapshotNotFound for a canvas that was never saved.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	LoadLatestSnapshot(ctx context.Context, canvasID string) (domain.Snapshot, error)
}
