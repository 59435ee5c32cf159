package domain

import (
	"encoding/json"
	"time"
)

// Snapshot is the persisted full copy of a canvas at a given sequence
// number. Shapes are sorted by id so two snapshots of identical scenes
// marshal to identical bytes.
type Snapshot struct {
	CanvasID   string            `json:"canvasId"`
	Sequence   uint64            `json:"sequence"`
	Shapes     []Shape           `json:"shapes"`
	Tombstones map[string]uint64 `json:"tombstones,omitempty"`
	TakenAt    time.Time         `json:"takenAt"`
}

// TakeSnapshot copies the scene into a serializable snapshot.
func TakeSnapshot(s *Scene, now time.Time) Snapshot {
	snap := Snapshot{
		CanvasID: s.CanvasID,
		Sequence: s.Sequence,
		Shapes:   s.ShapesByID(),
		TakenAt:  now.UTC(),
	}
	if len(s.Tombstones) > 0 {
		snap.Tombstones = make(map[string]uint64, len(s.Tombstones))
		for id, v := range s.Tombstones {
			snap.Tombstones[id] = v
		}
	}
	return snap
}

// RestoreScene rebuilds the authoritative scene a snapshot was taken from.
func RestoreScene(snap Snapshot) *Scene {
	s := NewScene(snap.CanvasID)
	s.Sequence = snap.Sequence
	for _, shape := range snap.Shapes {
		cp := shape.Clone()
		s.Shapes[shape.ID] = &cp
	}
	for id, v := range snap.Tombstones {
		s.Tombstones[id] = v
	}
	return s
}

func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var snap Snapshot
	err := json.Unmarshal(b, &snap)
	return snap, err
}
