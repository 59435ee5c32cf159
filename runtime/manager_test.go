package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"boardsync/contract"
	"boardsync/domain"
	"boardsync/domain/event"
)

// directSupervisor runs each worker in a plain goroutine, no restarts.
type directSupervisor struct {
	wg sync.WaitGroup
}

func (s *directSupervisor) Add(...contract.Worker) contract.ISupervisor { return s }
func (s *directSupervisor) Run(context.Context)                        {}
func (s *directSupervisor) Stop()                                      { s.wg.Wait() }

func (s *directSupervisor) Start(ctx context.Context, w contract.Worker) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = w.Run(ctx)
	}()
}

func newTestManager(t *testing.T, store *stubStore, idle time.Duration) *Manager {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelError)
	m := NewManager(log, store, &directSupervisor{}, ManagerConfig{
		Room:         testRoomConfig(),
		IdleEviction: idle,
	}, 64)
	t.Cleanup(m.Stop)
	return m
}

func TestManager_RoomIsSingletonPerCanvas(t *testing.T) {
	m := newTestManager(t, newStubStore(), time.Minute)
	ctx := context.Background()

	a := m.Room(ctx, "canvas-1")
	b := m.Room(ctx, "canvas-1")
	c := m.Room(ctx, "canvas-2")

	require.Same(t, a, b)
	require.NotSame(t, a, c)
}

func TestManager_RoomRehydratesFromStore(t *testing.T) {
	store := newStubStore()
	scene := domain.NewScene("canvas-1")
	_, _, reject := scene.Apply(domain.Operation{
		Type: domain.OpCreate, ShapeID: "kept", Origin: "alice",
		Payload: rectPayload(),
	})
	require.Nil(t, reject)
	require.NoError(t, store.SaveSnapshot(context.Background(), domain.TakeSnapshot(scene, time.Now())))

	m := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	room := m.Room(ctx, "canvas-1")
	joined, seq, err := room.Join(ctx, domain.Participant{ID: "bob"}, &stubSink{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
	require.Contains(t, joined.Shapes, "kept")
}

func TestManager_SnapshotAllPersistsEveryRoom(t *testing.T) {
	store := newStubStore()
	m := newTestManager(t, store, time.Minute)
	ctx := context.Background()

	for _, canvas := range []string{"canvas-1", "canvas-2"} {
		room := m.Room(ctx, canvas)
		_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, &stubSink{})
		require.NoError(t, err)
		_, reject, err := room.Submit(ctx, domain.Operation{
			CanvasID: canvas, Origin: "alice", ClientOpID: "c-" + canvas,
			Type: domain.OpCreate, ShapeID: "s1", Payload: rectPayload(),
		})
		require.NoError(t, err)
		require.Nil(t, reject)
	}

	m.SnapshotAll(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.snaps, 2)
	require.Equal(t, uint64(1), store.snaps["canvas-1"].Sequence)
}

func TestManager_EvictsIdleRoomAfterSnapshot(t *testing.T) {
	store := newStubStore()
	m := newTestManager(t, store, 150*time.Millisecond)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(runCtx) }()

	ctx := context.Background()
	room := m.Room(ctx, "canvas-1")
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, &stubSink{})
	require.NoError(t, err)
	_, reject, err := room.Submit(ctx, domain.Operation{
		CanvasID: "canvas-1", Origin: "alice", ClientOpID: "c1",
		Type: domain.OpCreate, ShapeID: "s1", Payload: rectPayload(),
	})
	require.NoError(t, err)
	require.Nil(t, reject)
	require.NoError(t, room.Leave(ctx, "alice", nil))

	// Once empty and idle past the threshold the sweep snapshots the room
	// and destroys it; the side lane carries the eviction event.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, ok := store.snaps["canvas-1"]
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		select {
		case e := <-m.Events():
			_, ok := e.(event.RoomEvicted)
			return ok
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)

	// A later access creates a fresh room that remembers the shape.
	fresh := m.Room(ctx, "canvas-1")
	require.NotSame(t, room, fresh)
	joined, _, err := fresh.Join(ctx, domain.Participant{ID: "bob"}, &stubSink{})
	require.NoError(t, err)
	require.Contains(t, joined.Shapes, "s1")
}

func TestManager_OccupiedRoomIsNotEvicted(t *testing.T) {
	store := newStubStore()
	m := newTestManager(t, store, 150*time.Millisecond)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(runCtx) }()

	ctx := context.Background()
	room := m.Room(ctx, "canvas-1")
	_, _, err := room.Join(ctx, domain.Participant{ID: "alice"}, &stubSink{})
	require.NoError(t, err)

	// Keep the session alive across several sweep intervals.
	for i := 0; i < 10; i++ {
		require.NoError(t, room.Heartbeat(ctx, "alice", 0))
		time.Sleep(50 * time.Millisecond)
	}

	require.Same(t, room, m.Room(ctx, "canvas-1"))
}
