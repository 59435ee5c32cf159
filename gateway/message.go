package gateway

import (
	"boardsync/domain"
	bserrors "boardsync/errors"
)

// ClientMessage is the single inbound frame shape; Type selects which
// fields are meaningful. Mirrors the flat submit protocol of the editor
// clients.
type ClientMessage struct {
	Type     string `json:"type" validate:"required,oneof=join submit presence heartbeat catchup leave"`
	CanvasID string `json:"canvasId" validate:"required"`

	// submit
	ClientOpID  string         `json:"clientOpId,omitempty" validate:"required_if=Type submit"`
	ClientClock uint64         `json:"clientClock,omitempty"`
	OpType      domain.OpType  `json:"opType,omitempty" validate:"required_if=Type submit,omitempty,oneof=create update delete batch-move"`
	ShapeID     string         `json:"shapeId,omitempty"`
	BaseVersion uint64         `json:"baseVersion,omitempty"`
	Payload     domain.Payload `json:"payload,omitempty"`

	// presence
	Cursor *domain.Cursor `json:"cursor,omitempty"`

	// heartbeat
	LastAcked uint64 `json:"lastAcked,omitempty"`

	// catchup
	Since uint64 `json:"since,omitempty"`
}

// Operation builds the domain operation a submit frame describes,
// stamping the authenticated origin.
func (m ClientMessage) Operation(origin string) domain.Operation {
	return domain.Operation{
		CanvasID:    m.CanvasID,
		Origin:      origin,
		ClientOpID:  m.ClientOpID,
		ClientClock: m.ClientClock,
		Type:        m.OpType,
		ShapeID:     m.ShapeID,
		BaseVersion: m.BaseVersion,
		Payload:     m.Payload,
	}
}

// OutboundMessage is anything the write loop can serialize to the client.
type OutboundMessage interface {
	MessageType() string
}

type WelcomeMessage struct {
	Type        string             `json:"type"`
	Participant domain.Participant `json:"participant"`
}

type JoinedMessage struct {
	Type     string         `json:"type"`
	CanvasID string         `json:"canvasId"`
	Sequence uint64         `json:"sequence"`
	Shapes   []domain.Shape `json:"shapes"`
}

type AckMessage struct {
	Type string     `json:"type"`
	Ack  domain.Ack `json:"ack"`
}

type RejectMessage struct {
	Type       string                `json:"type"`
	CanvasID   string                `json:"canvasId"`
	ClientOpID string                `json:"clientOpId,omitempty"`
	Reason     bserrors.RejectReason `json:"reason"`
	Winning    *domain.Shape         `json:"winning,omitempty"`
}

type OpMessage struct {
	Type string           `json:"type"`
	Op   domain.Operation `json:"op"`
}

type PresenceMessage struct {
	Type  string               `json:"type"`
	Event domain.PresenceEvent `json:"event"`
}

type NoticeMessage struct {
	Type   string                `json:"type"`
	Notice domain.OverrideNotice `json:"notice"`
}

type CatchUpMessage struct {
	Type     string             `json:"type"`
	CanvasID string             `json:"canvasId"`
	Ops      []domain.Operation `json:"ops"`
}

type ResyncMessage struct {
	Type     string `json:"type"`
	CanvasID string `json:"canvasId"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (m WelcomeMessage) MessageType() string  { return m.Type }
func (m JoinedMessage) MessageType() string   { return m.Type }
func (m AckMessage) MessageType() string      { return m.Type }
func (m RejectMessage) MessageType() string   { return m.Type }
func (m OpMessage) MessageType() string       { return m.Type }
func (m PresenceMessage) MessageType() string { return m.Type }
func (m NoticeMessage) MessageType() string   { return m.Type }
func (m CatchUpMessage) MessageType() string  { return m.Type }
func (m ResyncMessage) MessageType() string   { return m.Type }
func (m ErrorMessage) MessageType() string    { return m.Type }
