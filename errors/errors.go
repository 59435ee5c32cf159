package errors

import "fmt"

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrShapeNotFound    = fmt.Errorf("shape not found")
	ErrDuplicateShape   = fmt.Errorf("duplicate shape id")
	ErrTargetDeleted    = fmt.Errorf("target shape deleted")
	ErrResyncRequired   = fmt.Errorf("resync required")
	ErrRoomClosed       = fmt.Errorf("room closed")
	ErrRoomUnavailable  = fmt.Errorf("room coordinator unavailable")
	ErrSnapshotNotFound = fmt.Errorf("snapshot not found")
	ErrSequenceGap      = fmt.Errorf("sequence gap in operation log")
	ErrQueueFull        = fmt.Errorf("publish queue full")
)

// RejectReason is the wire-level classification of a refused operation.
// Validation reasons are permanent, conflict reasons are expected under
// concurrency, Transient must be retried with the same client operation id.
type RejectReason string

const (
	ReasonNotFound       RejectReason = "NotFound"
	ReasonDuplicateID    RejectReason = "DuplicateId"
	ReasonSuperseded     RejectReason = "Superseded"
	ReasonTargetDeleted  RejectReason = "TargetDeleted"
	ReasonResyncRequired RejectReason = "ResyncRequired"
	ReasonTransient      RejectReason = "Transient"
)
