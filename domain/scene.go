package domain

import (
	"sort"

	bserrors "boardsync/errors"
)

// Scene is the authoritative in-memory state of one canvas: shapes by id,
// tombstones for deleted ids, and the canvas-wide sequence counter.
//
// Scene is not safe for concurrent use. A scene is exclusively owned by its
// room coordinator, which serializes every mutation; tests and replay own
// their scenes outright.
type Scene struct {
	CanvasID   string
	Sequence   uint64
	Shapes     map[string]*Shape
	Tombstones map[string]uint64
}

func NewScene(canvasID string) *Scene {
	return &Scene{
		CanvasID:   canvasID,
		Shapes:     make(map[string]*Shape),
		Tombstones: make(map[string]uint64),
	}
}

// Apply validates op against the scene and, if accepted, assigns the next
// sequence number and mutates the scene. It returns the stamped operation,
// any override notices for writers whose field-group state was superseded,
// or a rejection.
//
// Apply is deterministic: replaying the same accepted operations in sequence
// order over the same starting scene reproduces identical state. All merge
// policy lives here so it is testable without any networking.
func (s *Scene) Apply(op Operation) (Operation, []OverrideNotice, *Reject) {
	switch op.Type {
	case OpCreate:
		return s.applyCreate(op)
	case OpUpdate:
		return s.applyUpdate(op)
	case OpDelete:
		return s.applyDelete(op)
	case OpBatchMove:
		return s.applyBatchMove(op)
	default:
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonNotFound}
	}
}

func (s *Scene) applyCreate(op Operation) (Operation, []OverrideNotice, *Reject) {
	// Delete-wins: a create that races a delete of the same id loses.
	if _, dead := s.Tombstones[op.ShapeID]; dead {
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonTargetDeleted}
	}
	if existing, ok := s.Shapes[op.ShapeID]; ok {
		winning := existing.Clone()
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonDuplicateID, Winning: &winning}
	}

	shape := &Shape{
		ID:              op.ShapeID,
		Kind:            op.Payload.Kind,
		LastWriter:      op.Origin,
		Version:         1,
		GeometryVersion: 1,
		GeometryWriter:  op.Origin,
		StyleVersion:    1,
		StyleWriter:     op.Origin,
	}
	if op.Payload.Geometry != nil {
		shape.Geometry = *op.Payload.Geometry
	}
	if op.Payload.Style != nil {
		shape.Style = *op.Payload.Style
	}
	if op.Payload.ZIndex != nil {
		shape.ZIndex = *op.Payload.ZIndex
	}
	s.Shapes[op.ShapeID] = shape

	s.Sequence++
	op.Sequence = s.Sequence
	return op, nil, nil
}

func (s *Scene) applyUpdate(op Operation) (Operation, []OverrideNotice, *Reject) {
	if _, dead := s.Tombstones[op.ShapeID]; dead {
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonTargetDeleted}
	}
	shape, ok := s.Shapes[op.ShapeID]
	if !ok {
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonNotFound}
	}

	s.Sequence++
	op.Sequence = s.Sequence
	shape.Version++

	var notices []OverrideNotice
	if op.Payload.TouchesGeometry() {
		if shape.GeometryVersion > op.BaseVersion && shape.GeometryWriter != op.Origin {
			notices = append(notices, s.notice(shape, GroupGeometry, shape.GeometryWriter, op.Sequence))
		}
		if op.Payload.Geometry != nil {
			shape.Geometry = *op.Payload.Geometry
		}
		if op.Payload.ZIndex != nil {
			shape.ZIndex = *op.Payload.ZIndex
		}
		shape.GeometryVersion = shape.Version
		shape.GeometryWriter = op.Origin
	}
	if op.Payload.TouchesStyle() {
		if shape.StyleVersion > op.BaseVersion && shape.StyleWriter != op.Origin {
			notices = append(notices, s.notice(shape, GroupStyle, shape.StyleWriter, op.Sequence))
		}
		shape.Style = *op.Payload.Style
		shape.StyleVersion = shape.Version
		shape.StyleWriter = op.Origin
	}
	shape.LastWriter = op.Origin

	// Notices carry the post-merge state so the superseded client converges.
	for i := range notices {
		notices[i].Winning = shape.Clone()
	}
	return op, notices, nil
}

func (s *Scene) applyDelete(op Operation) (Operation, []OverrideNotice, *Reject) {
	if _, dead := s.Tombstones[op.ShapeID]; dead {
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonTargetDeleted}
	}
	shape, ok := s.Shapes[op.ShapeID]
	if !ok {
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonNotFound}
	}

	// Deletes never conflict: they win over any concurrent update.
	s.Tombstones[op.ShapeID] = shape.Version + 1
	delete(s.Shapes, op.ShapeID)

	s.Sequence++
	op.Sequence = s.Sequence
	return op, nil, nil
}

func (s *Scene) applyBatchMove(op Operation) (Operation, []OverrideNotice, *Reject) {
	moved := 0
	for _, mv := range op.Payload.Moves {
		shape, ok := s.Shapes[mv.ShapeID]
		if !ok {
			// Shapes deleted or unknown mid-drag are skipped, the rest of
			// the batch still lands.
			continue
		}
		shape.Translate(mv.DX, mv.DY)
		shape.Version++
		shape.GeometryVersion = shape.Version
		shape.GeometryWriter = op.Origin
		shape.LastWriter = op.Origin
		moved++
	}
	if moved == 0 {
		return Operation{}, nil, &Reject{Reason: bserrors.ReasonNotFound}
	}

	s.Sequence++
	op.Sequence = s.Sequence
	return op, nil, nil
}

func (s *Scene) notice(shape *Shape, group FieldGroup, previousWriter string, winningSeq uint64) OverrideNotice {
	return OverrideNotice{
		CanvasID:        s.CanvasID,
		ShapeID:         shape.ID,
		Group:           group,
		PreviousWriter:  previousWriter,
		WinningSequence: winningSeq,
	}
}

// Clone deep-copies the scene for copy-on-read snapshots and join replies,
// so a slow reader never observes in-flight mutation.
func (s *Scene) Clone() *Scene {
	c := NewScene(s.CanvasID)
	c.Sequence = s.Sequence
	for id, shape := range s.Shapes {
		cp := shape.Clone()
		c.Shapes[id] = &cp
	}
	for id, v := range s.Tombstones {
		c.Tombstones[id] = v
	}
	return c
}

// ShapesByID returns the shapes in id order, the canonical order used for
// snapshot serialization.
func (s *Scene) ShapesByID() []Shape {
	out := make([]Shape, 0, len(s.Shapes))
	for _, shape := range s.Shapes {
		out = append(out, shape.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShapesByStacking returns the shapes ordered for rendering: by z-index,
// ties broken by id so the order is stable.
func (s *Scene) ShapesByStacking() []Shape {
	out := make([]Shape, 0, len(s.Shapes))
	for _, shape := range s.Shapes {
		out = append(out, shape.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}
