// Package domain contains the core concepts of the canvas engine.
// This file defines Participant identity and ephemeral presence state.
package domain

import "time"

// Participant identifies one connected editor of a canvas. Identity is
// issued by the external auth collaborator; the engine only carries it.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Cursor is the last known pointer position of a participant. Ephemeral:
// never logged, never persisted, last value wins.
type Cursor struct {
	X  float64   `json:"x"`
	Y  float64   `json:"y"`
	At time.Time `json:"at"`
}

// PresenceEvent is broadcast on the best-effort presence lane.
// Departed events have a nil cursor.
type PresenceEvent struct {
	CanvasID    string      `json:"canvasId"`
	Participant Participant `json:"participant"`
	Cursor      *Cursor     `json:"cursor,omitempty"`
	Departed    bool        `json:"departed,omitempty"`
}
