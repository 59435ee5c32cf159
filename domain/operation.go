package domain

import (
	bserrors "boardsync/errors"
)

type OpType string

const (
	OpCreate    OpType = "create"
	OpUpdate    OpType = "update"
	OpDelete    OpType = "delete"
	OpBatchMove OpType = "batch-move"
)

// ShapeMove is one entry of a batch-move payload.
type ShapeMove struct {
	ShapeID string  `json:"shapeId"`
	DX      float64 `json:"dx"`
	DY      float64 `json:"dy"`
}

// Payload carries the new or changed fields of an operation. Nil pointers
// mean "field group untouched", which is what makes per-group merging
// possible: a style-only update carries no geometry and vice versa.
type Payload struct {
	Kind     ShapeKind   `json:"kind,omitempty"`
	Geometry *Geometry   `json:"geometry,omitempty"`
	ZIndex   *int        `json:"zIndex,omitempty"`
	Style    *Style      `json:"style,omitempty"`
	Moves    []ShapeMove `json:"moves,omitempty"`
}

// TouchesGeometry reports whether applying the payload writes the geometry
// field group.
func (p Payload) TouchesGeometry() bool {
	return p.Geometry != nil || p.ZIndex != nil || len(p.Moves) > 0
}

func (p Payload) TouchesStyle() bool {
	return p.Style != nil
}

// Operation is an immutable, server-sequenced edit. Sequence is zero until
// the coordinator accepts the operation; ClientOpID is the client-assigned
// idempotency key echoed back on the acknowledgment.
type Operation struct {
	CanvasID    string  `json:"canvasId"`
	Sequence    uint64  `json:"sequence"`
	Origin      string  `json:"origin"`
	ClientOpID  string  `json:"clientOpId"`
	ClientClock uint64  `json:"clientClock"`
	Type        OpType  `json:"type"`
	ShapeID     string  `json:"shapeId,omitempty"`
	BaseVersion uint64  `json:"baseVersion,omitempty"`
	Payload     Payload `json:"payload"`
}

// Ack acknowledges an accepted operation back to its submitter.
type Ack struct {
	CanvasID   string `json:"canvasId"`
	ClientOpID string `json:"clientOpId"`
	Sequence   uint64 `json:"sequence"`
	Version    uint64 `json:"version,omitempty"`
}

// Reject refuses an operation. Winning carries the authoritative shape state
// for conflict reasons so the client can reconcile locally.
type Reject struct {
	Reason  bserrors.RejectReason `json:"reason"`
	Winning *Shape                `json:"winning,omitempty"`
}

// OverrideNotice informs the previous writer of a field group that a later,
// higher-sequence concurrent write to the same group superseded theirs.
type OverrideNotice struct {
	CanvasID        string     `json:"canvasId"`
	ShapeID         string     `json:"shapeId"`
	Group           FieldGroup `json:"group"`
	PreviousWriter  string     `json:"previousWriter"`
	WinningSequence uint64     `json:"winningSequence"`
	Winning         Shape      `json:"winning"`
}
