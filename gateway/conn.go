package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"boardsync/domain"
	bserrors "boardsync/errors"
	"boardsync/runtime"
)

// Conn wraps one websocket session. The read loop turns frames into room
// calls; the write loop drains the buffered send channel. Conn implements
// contract.SessionSink so the room can push directly at it.
type Conn struct {
	ws          *websocket.Conn
	log         *slog.Logger
	manager     *runtime.Manager
	validate    *validator.Validate
	participant domain.Participant

	room     *runtime.Room
	canvasID string

	// mu guards send against the room pushing at a connection that is
	// shutting down. The room goroutine may still hold this sink after the
	// leave command is enqueued; a send on a closed channel would panic
	// inside the room loop.
	mu          sync.Mutex
	closed      bool
	send        chan OutboundMessage
	callTimeout time.Duration
}

func NewConn(ws *websocket.Conn, log *slog.Logger, manager *runtime.Manager,
	validate *validator.Validate, participant domain.Participant,
	sendBuffer int, callTimeout time.Duration) *Conn {
	return &Conn{
		ws:          ws,
		log:         log.With("participant", participant.ID),
		manager:     manager,
		validate:    validate,
		participant: participant,
		send:        make(chan OutboundMessage, sendBuffer),
		callTimeout: callTimeout,
	}
}

// --- contract.SessionSink ----------------------------------------------

// DeliverOperation feeds the ordered lane. A full send buffer or a closed
// connection means the client cannot stay consistent; the error makes the
// room drop the session and force a resync.
func (c *Conn) DeliverOperation(op domain.Operation) error {
	if !c.trySend(OpMessage{Type: "op", Op: op}) {
		return fmt.Errorf("send buffer full for %s", c.participant.ID)
	}
	return nil
}

// DeliverPresence is best-effort: a dropped cursor is superseded by the
// next tick anyway.
func (c *Conn) DeliverPresence(e domain.PresenceEvent) {
	c.trySend(PresenceMessage{Type: "presence", Event: e})
}

func (c *Conn) DeliverNotice(n domain.OverrideNotice) {
	c.trySend(NoticeMessage{Type: "superseded", Notice: n})
}

func (c *Conn) DeliverResync(canvasID string) {
	c.trySend(ResyncMessage{Type: "resyncRequired", CanvasID: canvasID})
}

// trySend enqueues without blocking. Safe to call from the room goroutine
// at any point of the connection's life, including after shutdown.
func (c *Conn) trySend(msg OutboundMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// shutdown closes the send lane exactly once. Only the guarded trySend
// writes to the channel, so the write loop drains and exits cleanly while
// late room pushes are refused instead of panicking.
func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// --- loops --------------------------------------------------------------

func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			c.log.Debug("write failed, abandoning connection", "error", err)
			return
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.shutdown()
	defer c.leaveCurrentRoom()

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.log.Debug("read loop ended", "error", err)
			return
		}
		if err := c.validate.Struct(msg); err != nil {
			c.enqueue(ErrorMessage{Type: "error", Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}

		switch msg.Type {
		case "join":
			c.handleJoin(ctx, msg)
		case "submit":
			c.handleSubmit(ctx, msg)
		case "presence":
			if c.room != nil && msg.Cursor != nil {
				c.room.UpdatePresence(c.participant.ID, *msg.Cursor)
			}
		case "heartbeat":
			if c.room != nil {
				callCtx, cancel := c.callContext(ctx)
				_ = c.room.Heartbeat(callCtx, c.participant.ID, msg.LastAcked)
				cancel()
			}
		case "catchup":
			c.handleCatchUp(ctx, msg)
		case "leave":
			c.leaveCurrentRoom()
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	// Joining a different canvas implies leaving the current one first.
	if c.room != nil && c.canvasID != msg.CanvasID {
		c.leaveCurrentRoom()
	}

	room := c.manager.Room(ctx, msg.CanvasID)
	callCtx, cancel := c.callContext(ctx)
	scene, sequence, err := room.Join(callCtx, c.participant, c)
	cancel()
	if errors.Is(err, bserrors.ErrRoomClosed) {
		// Raced an eviction; the manager recreates the room on re-join.
		c.roomGone(msg.CanvasID)
		return
	}
	if err != nil {
		c.enqueue(RejectMessage{Type: "reject", CanvasID: msg.CanvasID, Reason: bserrors.ReasonTransient})
		return
	}
	c.room = room
	c.canvasID = msg.CanvasID
	c.enqueue(JoinedMessage{
		Type:     "joined",
		CanvasID: msg.CanvasID,
		Sequence: sequence,
		Shapes:   scene.ShapesByStacking(),
	})
}

func (c *Conn) handleSubmit(ctx context.Context, msg ClientMessage) {
	if c.room == nil || c.canvasID != msg.CanvasID {
		c.enqueue(RejectMessage{Type: "reject", CanvasID: msg.CanvasID,
			ClientOpID: msg.ClientOpID, Reason: bserrors.ReasonResyncRequired})
		return
	}

	callCtx, cancel := c.callContext(ctx)
	ack, reject, err := c.room.Submit(callCtx, msg.Operation(c.participant.ID))
	cancel()
	switch {
	case errors.Is(err, bserrors.ErrRoomClosed):
		// The room was evicted or shut down for good: retrying against it
		// can never succeed, the client must re-join.
		c.roomGone(msg.CanvasID)
	case err != nil:
		// Coordinator unreachable in time: the client retries with the
		// same clientOpId and dedupe makes the retry safe.
		c.enqueue(RejectMessage{Type: "reject", CanvasID: msg.CanvasID,
			ClientOpID: msg.ClientOpID, Reason: bserrors.ReasonTransient})
	case reject != nil:
		c.enqueue(RejectMessage{Type: "reject", CanvasID: msg.CanvasID,
			ClientOpID: msg.ClientOpID, Reason: reject.Reason, Winning: reject.Winning})
	default:
		c.enqueue(AckMessage{Type: "ack", Ack: ack})
	}
}

func (c *Conn) handleCatchUp(ctx context.Context, msg ClientMessage) {
	if c.room == nil {
		c.enqueue(ResyncMessage{Type: "resyncRequired", CanvasID: msg.CanvasID})
		return
	}
	callCtx, cancel := c.callContext(ctx)
	ops, err := c.room.CatchUp(callCtx, msg.Since)
	cancel()
	if errors.Is(err, bserrors.ErrRoomClosed) {
		c.roomGone(msg.CanvasID)
		return
	}
	if errors.Is(err, bserrors.ErrResyncRequired) {
		c.enqueue(ResyncMessage{Type: "resyncRequired", CanvasID: msg.CanvasID})
		return
	}
	if err != nil {
		c.enqueue(ErrorMessage{Type: "error", Content: err.Error()})
		return
	}
	c.enqueue(CatchUpMessage{Type: "catchup", CanvasID: msg.CanvasID, Ops: ops})
}

func (c *Conn) leaveCurrentRoom() {
	if c.room == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	// Pass this conn as the sink so a stale connection's cleanup never
	// removes the session of a newer connection with the same participant.
	_ = c.room.Leave(ctx, c.participant.ID, c)
	cancel()
	c.room = nil
	c.canvasID = ""
}

// roomGone drops the dead room reference and tells the client to re-join.
func (c *Conn) roomGone(canvasID string) {
	c.room = nil
	c.canvasID = ""
	c.enqueue(ResyncMessage{Type: "resyncRequired", CanvasID: canvasID})
}

func (c *Conn) enqueue(msg OutboundMessage) {
	// Queue full: the client is stalled, replies can be dropped.
	c.trySend(msg)
}

func (c *Conn) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}
