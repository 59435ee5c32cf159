// Package event defines the side-lane events fanned out to external sinks.
// These are observability and integration signals, not part of the durable
// per-room broadcast order.
package event

import (
	"time"

	"boardsync/domain"
)

type CanvasEvent interface {
	Canvas() string
}

// OperationAccepted is emitted once per accepted operation, after the room
// has applied it and acknowledged the submitter.
type OperationAccepted struct {
	Op         domain.Operation
	AcceptedAt time.Time
}

func (e OperationAccepted) Canvas() string { return e.Op.CanvasID }

// RoomEvicted is emitted when an idle room is snapshotted and destroyed.
type RoomEvicted struct {
	CanvasID string
	Sequence uint64
	At       time.Time
}

func (e RoomEvicted) Canvas() string { return e.CanvasID }
