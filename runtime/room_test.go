package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"boardsync/domain"
	"boardsync/domain/event"
	bserrors "boardsync/errors"
)

// stubSink records deliveries; failOps makes the ordered lane report a
// stalled session.
type stubSink struct {
	mu       sync.Mutex
	failOps  bool
	ops      []domain.Operation
	presence []domain.PresenceEvent
	notices  []domain.OverrideNotice
	resyncs  int
}

func (s *stubSink) DeliverOperation(op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOps {
		return bserrors.ErrQueueFull
	}
	s.ops = append(s.ops, op)
	return nil
}

func (s *stubSink) DeliverPresence(p domain.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, p)
}

func (s *stubSink) DeliverNotice(n domain.OverrideNotice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
}

func (s *stubSink) DeliverResync(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs++
}

func (s *stubSink) opCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *stubSink) resyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncs
}

func (s *stubSink) departures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.presence {
		if p.Departed {
			n++
		}
	}
	return n
}

func (s *stubSink) cursorEvents() []domain.PresenceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PresenceEvent
	for _, p := range s.presence {
		if p.Cursor != nil {
			out = append(out, p)
		}
	}
	return out
}

// stubStore is an in-memory SnapshotStore.
type stubStore struct {
	mu    sync.Mutex
	snaps map[string]domain.Snapshot
}

func newStubStore() *stubStore {
	return &stubStore{snaps: make(map[string]domain.Snapshot)}
}

func (s *stubStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.CanvasID] = snap
	return nil
}

func (s *stubStore) LoadLatestSnapshot(_ context.Context, canvasID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[canvasID]
	if !ok {
		return domain.Snapshot{}, bserrors.ErrSnapshotNotFound
	}
	return snap, nil
}

func testRoomConfig() RoomConfig {
	return RoomConfig{
		OplogRetention: 100,
		CommandBuffer:  32,
		PresenceTick:   20 * time.Millisecond,
		LivenessWindow: 200 * time.Millisecond,
	}
}

func startRoom(t *testing.T, store *stubStore, cfg RoomConfig) *Room {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	events := make(chan event.CanvasEvent, 64)
	room := NewRoom("canvas-1", log, store, events, cfg)
	go func() { _ = room.Run(context.Background()) }()
	t.Cleanup(room.Stop)
	return room
}

func submitCreate(t *testing.T, room *Room, shapeID, origin, clientOpID string) domain.Ack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ack, reject, err := room.Submit(ctx, domain.Operation{
		CanvasID:   "canvas-1",
		Origin:     origin,
		ClientOpID: clientOpID,
		Type:       domain.OpCreate,
		ShapeID:    shapeID,
		Payload:    rectPayload(),
	})
	require.NoError(t, err)
	require.Nil(t, reject)
	return ack
}

func rectPayload() domain.Payload {
	return domain.Payload{
		Kind:     domain.KindRectangle,
		Geometry: &domain.Geometry{X: 1, Y: 1, Width: 10, Height: 10},
	}
}

func TestRoom_JoinReturnsSceneCopy(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	sink := &stubSink{}
	scene, seq, err := room.Join(ctx, domain.Participant{ID: "alice"}, sink)
	require.NoError(t, err)
	require.Equal(t, uint64(0), seq)
	require.Empty(t, scene.Shapes)

	submitCreate(t, room, "s1", "alice", "c1")

	// The copy handed out at join time must not see later edits.
	require.Empty(t, scene.Shapes)
}

func TestRoom_SubmitAcksAndBroadcastsToOthers(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	alice := &stubSink{}
	bob := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, alice)
	require.NoError(t, err)
	_, _, err = room.Join(ctx, domain.Participant{ID: "bob"}, bob)
	require.NoError(t, err)

	ack := submitCreate(t, room, "s1", "alice", "c1")
	require.Equal(t, uint64(1), ack.Sequence)
	require.Equal(t, uint64(1), ack.Version)

	require.Eventually(t, func() bool { return bob.opCount() == 1 },
		time.Second, 5*time.Millisecond)
	// The originator already holds the ack, no echo.
	require.Zero(t, alice.opCount())
}

func TestRoom_ResubmitIsIdempotent(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	sink := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, sink)
	require.NoError(t, err)

	first := submitCreate(t, room, "s1", "alice", "retry-me")
	second := submitCreate(t, room, "s1", "alice", "retry-me")

	require.Equal(t, first.Sequence, second.Sequence)

	info, err := room.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.Sequence, "duplicate must not advance the sequence")
}

func TestRoom_OverrideNoticeRoutedToPreviousWriter(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	alice := &stubSink{}
	bob := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, alice)
	require.NoError(t, err)
	_, _, err = room.Join(ctx, domain.Participant{ID: "bob"}, bob)
	require.NoError(t, err)

	submitCreate(t, room, "s1", "alice", "c1")

	_, reject, err := room.Submit(ctx, domain.Operation{
		CanvasID: "canvas-1", Origin: "alice", ClientOpID: "c2",
		Type: domain.OpUpdate, ShapeID: "s1", BaseVersion: 1,
		Payload: domain.Payload{Geometry: &domain.Geometry{X: 5, Y: 5}},
	})
	require.NoError(t, err)
	require.Nil(t, reject)

	_, reject, err = room.Submit(ctx, domain.Operation{
		CanvasID: "canvas-1", Origin: "bob", ClientOpID: "c3",
		Type: domain.OpUpdate, ShapeID: "s1", BaseVersion: 1,
		Payload: domain.Payload{Geometry: &domain.Geometry{X: 9, Y: 9}},
	})
	require.NoError(t, err)
	require.Nil(t, reject, "the later write wins, it is not rejected")

	require.Eventually(t, func() bool {
		alice.mu.Lock()
		defer alice.mu.Unlock()
		return len(alice.notices) == 1
	}, time.Second, 5*time.Millisecond)

	alice.mu.Lock()
	notice := alice.notices[0]
	alice.mu.Unlock()
	require.Equal(t, "alice", notice.PreviousWriter)
	require.Equal(t, domain.GroupGeometry, notice.Group)
	require.Equal(t, float64(9), notice.Winning.Geometry.X)
}

func TestRoom_DeleteWinsAgainstLaterUpdate(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	sink := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, sink)
	require.NoError(t, err)

	submitCreate(t, room, "s1", "alice", "c1")

	_, reject, err := room.Submit(ctx, domain.Operation{
		CanvasID: "canvas-1", Origin: "alice", ClientOpID: "c2",
		Type: domain.OpDelete, ShapeID: "s1",
	})
	require.NoError(t, err)
	require.Nil(t, reject)

	_, reject, err = room.Submit(ctx, domain.Operation{
		CanvasID: "canvas-1", Origin: "bob", ClientOpID: "c3",
		Type: domain.OpUpdate, ShapeID: "s1", BaseVersion: 1,
		Payload: domain.Payload{Style: &domain.Style{FillColor: "#fff"}},
	})
	require.NoError(t, err)
	require.NotNil(t, reject)
	require.Equal(t, bserrors.ReasonTargetDeleted, reject.Reason)
}

func TestRoom_StalledSinkIsDroppedWithResync(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	alice := &stubSink{}
	slow := &stubSink{failOps: true}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, alice)
	require.NoError(t, err)
	_, _, err = room.Join(ctx, domain.Participant{ID: "slow"}, slow)
	require.NoError(t, err)

	submitCreate(t, room, "s1", "alice", "c1")

	require.Eventually(t, func() bool { return slow.resyncCount() == 1 },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return alice.departures() == 1 },
		time.Second, 5*time.Millisecond)

	info, err := room.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, info.Sessions)
}

func TestRoom_CursorUpdatesAreCoalescedPerTick(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	alice := &stubSink{}
	bob := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, alice)
	require.NoError(t, err)
	_, _, err = room.Join(ctx, domain.Participant{ID: "bob"}, bob)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		room.UpdatePresence("alice", domain.Cursor{X: float64(i), Y: float64(i)})
	}

	require.Eventually(t, func() bool {
		events := bob.cursorEvents()
		return len(events) > 0 && events[len(events)-1].Cursor.X == 49
	}, time.Second, 5*time.Millisecond)
	require.Less(t, len(bob.cursorEvents()), 50,
		"bursts between ticks collapse to the latest position")
}

func TestRoom_HeartbeatExpiryBroadcastsDeparture(t *testing.T) {
	cfg := testRoomConfig()
	cfg.LivenessWindow = 150 * time.Millisecond
	room := startRoom(t, newStubStore(), cfg)
	ctx := context.Background()

	alice := &stubSink{}
	bob := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, alice)
	require.NoError(t, err)
	_, _, err = room.Join(ctx, domain.Participant{ID: "bob"}, bob)
	require.NoError(t, err)

	// Alice keeps heartbeating, bob goes silent.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, room.Heartbeat(ctx, "alice", 0))
		if alice.departures() > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	require.Equal(t, 1, alice.departures())
	info, err := room.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, info.Sessions)
}

func TestRoom_CatchUpServesRetainedWindow(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	sink := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, sink)
	require.NoError(t, err)

	submitCreate(t, room, "s1", "alice", "c1")
	submitCreate(t, room, "s2", "alice", "c2")
	submitCreate(t, room, "s3", "alice", "c3")

	ops, err := room.CatchUp(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.Equal(t, uint64(2), ops[0].Sequence)
	require.Equal(t, uint64(3), ops[1].Sequence)

	// A client claiming to be ahead of the room must resync.
	_, err = room.CatchUp(ctx, 10)
	require.ErrorIs(t, err, bserrors.ErrResyncRequired)
}

func TestRoom_CatchUpOutsideWindowRequiresResync(t *testing.T) {
	cfg := testRoomConfig()
	cfg.OplogRetention = 2
	room := startRoom(t, newStubStore(), cfg)
	ctx := context.Background()

	sink := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, sink)
	require.NoError(t, err)

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		submitCreate(t, room, id, "alice", "c"+id)
	}

	_, err = room.CatchUp(ctx, 1)
	require.ErrorIs(t, err, bserrors.ErrResyncRequired)
}

func TestRoom_RehydratesFromSnapshot(t *testing.T) {
	store := newStubStore()
	scene := domain.NewScene("canvas-1")
	_, _, reject := scene.Apply(domain.Operation{
		Type: domain.OpCreate, ShapeID: "persisted", Origin: "alice",
		Payload: domain.Payload{Kind: domain.KindSticky, Geometry: &domain.Geometry{X: 3}},
	})
	require.Nil(t, reject)
	require.NoError(t, store.SaveSnapshot(context.Background(), domain.TakeSnapshot(scene, time.Now())))

	room := startRoom(t, store, testRoomConfig())

	sink := &stubSink{}
	joined, seq, err := room.Join(context.Background(), domain.Participant{ID: "bob"}, sink)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	require.Contains(t, joined.Shapes, "persisted")
}

func TestRoom_SnapshotMatchesScene(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	ctx := context.Background()

	sink := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, sink)
	require.NoError(t, err)
	submitCreate(t, room, "s1", "alice", "c1")

	snap, err := room.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "canvas-1", snap.CanvasID)
	require.Equal(t, uint64(1), snap.Sequence)
	require.Len(t, snap.Shapes, 1)
}

func TestRoom_StoppedRoomRefusesCalls(t *testing.T) {
	room := startRoom(t, newStubStore(), testRoomConfig())
	room.Stop()

	// A buffered command may still be enqueued while the loop winds down,
	// in which case the caller times out as transient instead. Either way
	// the submit must not hang or succeed.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := room.Submit(ctx, domain.Operation{
		Type: domain.OpCreate, ShapeID: "s1", Origin: "alice",
		Payload: rectPayload(),
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, bserrors.ErrRoomClosed) || errors.Is(err, bserrors.ErrRoomUnavailable))
}

func TestRoom_ReconnectSurvivesStaleLeave(t *testing.T) {
	cfg := testRoomConfig()
	cfg.LivenessWindow = 10 * time.Second
	room := startRoom(t, newStubStore(), cfg)
	ctx := context.Background()

	stale := &stubSink{}
	fresh := &stubSink{}
	bob := &stubSink{}
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, stale)
	require.NoError(t, err)
	_, _, err = room.Join(ctx, domain.Participant{ID: "bob"}, bob)
	require.NoError(t, err)

	// Reconnect: a second join replaces the session and nudges the
	// superseded socket to resync.
	_, _, err = room.Join(ctx, domain.Participant{ID: "alice"}, fresh)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stale.resyncCount() == 1 },
		time.Second, 10*time.Millisecond)

	// The stale connection's teardown lags behind the reconnect; it must
	// not log out the participant's new session.
	require.NoError(t, room.Leave(ctx, "alice", stale))
	info, err := room.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, info.Sessions)
	require.Zero(t, bob.departures(), "no spurious departure broadcast")

	// Ops keep flowing to the fresh connection.
	submitCreate(t, room, "s1", "bob", "c1")
	require.Eventually(t, func() bool { return fresh.opCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, room.Leave(ctx, "alice", fresh))
	require.Eventually(t, func() bool { return bob.departures() == 1 },
		time.Second, 10*time.Millisecond)
}
