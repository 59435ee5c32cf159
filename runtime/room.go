package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boardsync/contract"
	"boardsync/domain"
	"boardsync/domain/event"
	bserrors "boardsync/errors"
)

// RoomConfig bounds one room's resources.
type RoomConfig struct {
	OplogRetention int
	CommandBuffer  int
	PresenceTick   time.Duration
	LivenessWindow time.Duration
}

// Room is the per-canvas coordinator: a single goroutine owning the scene,
// the operation log and the session registry. Every mutation of the canvas
// is funneled through its command channel and processed strictly in arrival
// order, which removes the need for any locking of room state. Rooms for
// different canvases run fully in parallel and share nothing.
//
// Room implements contract.Worker and runs under the supervisor: a panic in
// the command loop tears the room state down and the restarted loop
// rehydrates from the latest snapshot, leaving other rooms unaffected.
type Room struct {
	canvasID string
	log      *slog.Logger
	cfg      RoomConfig
	store    contract.SnapshotStore
	events   chan<- event.CanvasEvent

	scene    *domain.Scene
	oplog    *OpLog
	registry *Registry

	commands     chan roomCommand
	stop         chan struct{}
	lastActivity time.Time
}

type roomCommand interface{}

type joinCmd struct {
	participant domain.Participant
	sink        contract.SessionSink
	reply       chan joinReply
}

type joinReply struct {
	scene    *domain.Scene
	sequence uint64
}

type submitCmd struct {
	op    domain.Operation
	reply chan submitReply
}

type submitReply struct {
	ack    domain.Ack
	reject *domain.Reject
}

type presenceCmd struct {
	participantID string
	cursor        domain.Cursor
}

type heartbeatCmd struct {
	participantID string
	lastAcked     uint64
}

type leaveCmd struct {
	participantID string
	sink          contract.SessionSink
}

type snapshotCmd struct{ reply chan domain.Snapshot }

type catchUpCmd struct {
	since uint64
	reply chan catchUpReply
}

type catchUpReply struct {
	ops []domain.Operation
	err error
}

type infoCmd struct{ reply chan RoomInfo }

// RoomInfo is the manager's view of a room, used for eviction decisions.
type RoomInfo struct {
	CanvasID string
	Sessions int
	Sequence uint64
	IdleFor  time.Duration
}

func NewRoom(canvasID string, log *slog.Logger, store contract.SnapshotStore,
	events chan<- event.CanvasEvent, cfg RoomConfig) *Room {
	return &Room{
		canvasID:     canvasID,
		log:          log.With("canvas", canvasID),
		cfg:          cfg,
		store:        store,
		events:       events,
		commands:     make(chan roomCommand, cfg.CommandBuffer),
		stop:         make(chan struct{}),
		lastActivity: time.Now(),
	}
}

// Run drains the command channel until the context is canceled or the room
// is stopped. Returning nil tells the supervisor the room finished for
// good; a panic surfaces as ErrWorkerPanic and triggers a supervised
// restart, which rehydrates from the last snapshot.
func (r *Room) Run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("room state corrupted, tearing down", "panic", rec)
			r.teardown()
			err = fmt.Errorf("%w: %v", bserrors.ErrWorkerPanic, rec)
		}
	}()

	if r.scene == nil {
		if err := r.rehydrate(ctx); err != nil {
			return err
		}
	}

	presence := time.NewTicker(r.cfg.PresenceTick)
	defer presence.Stop()
	liveness := time.NewTicker(r.livenessSweepInterval())
	defer liveness.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Stopping room")
			return ctx.Err()
		case <-r.stop:
			return nil
		case cmd, ok := <-r.commands:
			if !ok {
				return nil
			}
			r.handle(cmd)
		case <-presence.C:
			r.broadcastCursors()
		case <-liveness.C:
			r.sweepStale()
		}
	}
}

// Stop ends the room loop without error so the supervisor does not restart
// it. Used by the manager during idle eviction and shutdown.
func (r *Room) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// rehydrate loads the latest durable snapshot into a fresh scene. A canvas
// that was never snapshotted starts empty.
func (r *Room) rehydrate(ctx context.Context) error {
	snap, err := r.store.LoadLatestSnapshot(ctx, r.canvasID)
	switch {
	case err == nil:
		r.scene = domain.RestoreScene(snap)
		r.log.Info("Room rehydrated from snapshot", "sequence", snap.Sequence)
	case errors.Is(err, bserrors.ErrSnapshotNotFound):
		r.scene = domain.NewScene(r.canvasID)
	default:
		return fmt.Errorf("rehydrate canvas %s: %w", r.canvasID, err)
	}
	r.oplog = NewOpLog(r.cfg.OplogRetention)
	r.registry = NewRegistry(r.cfg.LivenessWindow)
	return nil
}

// teardown discards all room state after corruption. Connected sessions are
// told to resync; they re-join the restarted room.
func (r *Room) teardown() {
	if r.registry != nil {
		for _, sink := range r.registry.Sinks("") {
			sink.DeliverResync(r.canvasID)
		}
	}
	r.scene = nil
	r.oplog = nil
	r.registry = nil
}

func (r *Room) handle(cmd roomCommand) {
	switch c := cmd.(type) {
	case joinCmd:
		r.handleJoin(c)
	case submitCmd:
		r.handleSubmit(c)
	case presenceCmd:
		r.registry.SetCursor(c.participantID, c.cursor, time.Now())
	case heartbeatCmd:
		now := time.Now()
		r.registry.Touch(c.participantID, now)
		if s, ok := r.registry.Get(c.participantID); ok && c.lastAcked > s.LastAcked {
			s.LastAcked = c.lastAcked
		}
	case leaveCmd:
		if s := r.registry.Remove(c.participantID, c.sink); s != nil {
			r.broadcastDeparture(s)
		}
		r.lastActivity = time.Now()
	case snapshotCmd:
		// TakeSnapshot copies synchronously inside the loop; the slow part,
		// the durable write, happens on the caller's goroutine against the
		// copy and never blocks submits.
		c.reply <- domain.TakeSnapshot(r.scene, time.Now())
	case catchUpCmd:
		c.reply <- r.handleCatchUp(c.since)
	case infoCmd:
		c.reply <- RoomInfo{
			CanvasID: r.canvasID,
			Sessions: r.registry.Len(),
			Sequence: r.scene.Sequence,
			IdleFor:  time.Since(r.lastActivity),
		}
	}
}

func (r *Room) handleJoin(c joinCmd) {
	now := time.Now()
	// A reconnect replaces the previous session; the superseded socket,
	// if still alive, is told to resync rather than left dangling.
	if prev, ok := r.registry.Get(c.participant.ID); ok && prev.Sink != c.sink {
		prev.Sink.DeliverResync(r.canvasID)
	}
	session := r.registry.Add(c.participant, c.sink, now)
	r.lastActivity = now

	for _, sink := range r.registry.Sinks(c.participant.ID) {
		sink.DeliverPresence(domain.PresenceEvent{
			CanvasID:    r.canvasID,
			Participant: session.Participant,
		})
	}
	c.reply <- joinReply{scene: r.scene.Clone(), sequence: r.scene.Sequence}
}

func (r *Room) handleSubmit(c submitCmd) {
	now := time.Now()
	op := c.op
	r.registry.Touch(op.Origin, now)
	r.lastActivity = now

	// Idempotent retry: a client op id already inside the retained window
	// was applied exactly once; acknowledge with the original sequence.
	if seq, ok := r.oplog.Seen(op.ClientOpID); ok {
		c.reply <- submitReply{ack: domain.Ack{
			CanvasID:   r.canvasID,
			ClientOpID: op.ClientOpID,
			Sequence:   seq,
		}}
		return
	}

	applied, notices, reject := r.scene.Apply(op)
	if reject != nil {
		c.reply <- submitReply{reject: reject}
		return
	}
	if err := r.oplog.Append(applied); err != nil {
		// Scene and log disagree: unrecoverable for this room.
		panic(err)
	}

	ack := domain.Ack{
		CanvasID:   r.canvasID,
		ClientOpID: applied.ClientOpID,
		Sequence:   applied.Sequence,
	}
	if shape, ok := r.scene.Shapes[applied.ShapeID]; ok {
		ack.Version = shape.Version
	}
	c.reply <- submitReply{ack: ack}

	r.broadcast(applied)
	for _, n := range notices {
		if s, ok := r.registry.Get(n.PreviousWriter); ok {
			s.Sink.DeliverNotice(n)
		}
	}
	select {
	case r.events <- event.OperationAccepted{Op: applied, AcceptedAt: now}:
	default:
		r.log.Debug("Side-lane event lost, channel full", "sequence", applied.Sequence)
	}
}

// broadcast delivers an accepted operation, in acceptance order, to every
// session except the originator (which already holds the ack). A session
// whose sink cannot keep up is told to resync and dropped.
func (r *Room) broadcast(op domain.Operation) {
	var stalled []string
	for id, s := range r.registry.sessions {
		if id == op.Origin {
			continue
		}
		if err := s.Sink.DeliverOperation(op); err != nil {
			r.log.Warn("Session cannot keep up, forcing resync", "participant", id, "error", err)
			stalled = append(stalled, id)
		}
	}
	for _, id := range stalled {
		if s := r.registry.Remove(id, nil); s != nil {
			s.Sink.DeliverResync(r.canvasID)
			r.broadcastDeparture(s)
		}
	}
}

func (r *Room) handleCatchUp(since uint64) catchUpReply {
	if since > r.scene.Sequence {
		return catchUpReply{err: bserrors.ErrResyncRequired}
	}
	ops, err := r.oplog.GetSince(since)
	if err != nil {
		return catchUpReply{err: err}
	}
	// An empty log cannot prove the client missed nothing; anything older
	// than the current sequence needs a fresh join.
	if len(ops) == 0 && since < r.scene.Sequence {
		return catchUpReply{err: bserrors.ErrResyncRequired}
	}
	return catchUpReply{ops: ops}
}

func (r *Room) broadcastCursors() {
	for _, evt := range r.registry.FlushCursors(r.canvasID) {
		for _, sink := range r.registry.Sinks(evt.Participant.ID) {
			sink.DeliverPresence(evt)
		}
	}
}

func (r *Room) sweepStale() {
	for _, s := range r.registry.ExpireStale(time.Now()) {
		r.log.Info("Session expired without heartbeat", "participant", s.Participant.ID)
		r.broadcastDeparture(s)
	}
}

func (r *Room) broadcastDeparture(s *Session) {
	evt := domain.PresenceEvent{
		CanvasID:    r.canvasID,
		Participant: s.Participant,
		Departed:    true,
	}
	for _, sink := range r.registry.Sinks(s.Participant.ID) {
		sink.DeliverPresence(evt)
	}
}

func (r *Room) livenessSweepInterval() time.Duration {
	interval := r.cfg.LivenessWindow / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	return interval
}

// --- calling side -----------------------------------------------------

// Join registers a session and returns the full scene plus the current
// sequence number so the client can request anything it missed later.
func (r *Room) Join(ctx context.Context, p domain.Participant, sink contract.SessionSink) (*domain.Scene, uint64, error) {
	reply := make(chan joinReply, 1)
	if err := r.send(ctx, joinCmd{participant: p, sink: sink, reply: reply}); err != nil {
		return nil, 0, err
	}
	select {
	case jr := <-reply:
		return jr.scene, jr.sequence, nil
	case <-ctx.Done():
		return nil, 0, r.transient(ctx.Err())
	}
}

// Submit hands an operation to the coordinator and waits for the verdict.
// A timeout reaching the room is transient: the caller retries with the
// same client op id and deduplication guarantees a single application.
func (r *Room) Submit(ctx context.Context, op domain.Operation) (domain.Ack, *domain.Reject, error) {
	reply := make(chan submitReply, 1)
	if err := r.send(ctx, submitCmd{op: op, reply: reply}); err != nil {
		return domain.Ack{}, nil, err
	}
	select {
	case sr := <-reply:
		return sr.ack, sr.reject, nil
	case <-ctx.Done():
		return domain.Ack{}, nil, r.transient(ctx.Err())
	}
}

// UpdatePresence forwards a cursor position. Best-effort: if the room is
// saturated the update is dropped, a fresher one follows shortly.
func (r *Room) UpdatePresence(participantID string, c domain.Cursor) {
	select {
	case r.commands <- presenceCmd{participantID: participantID, cursor: c}:
	case <-r.stop:
	default:
	}
}

func (r *Room) Heartbeat(ctx context.Context, participantID string, lastAcked uint64) error {
	return r.send(ctx, heartbeatCmd{participantID: participantID, lastAcked: lastAcked})
}

// Leave removes the participant's session. A non-nil sink restricts the
// removal to the session registered with that exact sink, so a dying
// connection cannot log out the participant's newer connection.
func (r *Room) Leave(ctx context.Context, participantID string, sink contract.SessionSink) error {
	return r.send(ctx, leaveCmd{participantID: participantID, sink: sink})
}

// Snapshot returns a consistent copy of the scene for the persistence
// adapter.
func (r *Room) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	reply := make(chan domain.Snapshot, 1)
	if err := r.send(ctx, snapshotCmd{reply: reply}); err != nil {
		return domain.Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return domain.Snapshot{}, r.transient(ctx.Err())
	}
}

// CatchUp returns the retained operations after the given sequence number,
// or ErrResyncRequired when the window no longer covers it.
func (r *Room) CatchUp(ctx context.Context, since uint64) ([]domain.Operation, error) {
	reply := make(chan catchUpReply, 1)
	if err := r.send(ctx, catchUpCmd{since: since, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case cr := <-reply:
		return cr.ops, cr.err
	case <-ctx.Done():
		return nil, r.transient(ctx.Err())
	}
}

func (r *Room) Info(ctx context.Context) (RoomInfo, error) {
	reply := make(chan RoomInfo, 1)
	if err := r.send(ctx, infoCmd{reply: reply}); err != nil {
		return RoomInfo{}, err
	}
	select {
	case info := <-reply:
		return info, nil
	case <-ctx.Done():
		return RoomInfo{}, r.transient(ctx.Err())
	}
}

func (r *Room) send(ctx context.Context, cmd roomCommand) error {
	select {
	case r.commands <- cmd:
		return nil
	case <-r.stop:
		return bserrors.ErrRoomClosed
	case <-ctx.Done():
		return r.transient(ctx.Err())
	}
}

func (r *Room) transient(cause error) error {
	return fmt.Errorf("%w: %v", bserrors.ErrRoomUnavailable, cause)
}
