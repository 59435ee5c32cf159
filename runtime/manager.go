package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"boardsync/contract"
	"boardsync/domain/event"
	bserrors "boardsync/errors"
)

// ManagerConfig bounds room lifecycle behavior.
type ManagerConfig struct {
	Room         RoomConfig
	IdleEviction time.Duration
}

// Manager owns the set of live rooms. It guarantees at most one live
// coordinator per canvas id within this process; placement of a canvas on
// exactly one process is an external guarantee (see DESIGN.md), the engine
// adds no leasing layer.
//
// Manager implements contract.Worker: its Run loop evicts rooms that sat
// without sessions beyond the idle threshold, snapshotting before destroy
// so memory stays bounded without losing edits.
type Manager struct {
	mu    sync.Mutex
	log   *slog.Logger
	cfg   ManagerConfig
	store contract.SnapshotStore
	sup   contract.ISupervisor

	rooms   map[string]*Room
	events  chan event.CanvasEvent
	baseCtx context.Context
}

func NewManager(log *slog.Logger, store contract.SnapshotStore, sup contract.ISupervisor,
	cfg ManagerConfig, eventBuffer int) *Manager {
	return &Manager{
		log:    log,
		cfg:    cfg,
		store:  store,
		sup:    sup,
		rooms:  make(map[string]*Room),
		events: make(chan event.CanvasEvent, eventBuffer),
	}
}

// Events is the side lane consumed by the fanout worker.
func (m *Manager) Events() chan event.CanvasEvent { return m.events }

// Room returns the live coordinator for a canvas, starting one under the
// supervisor on first access. The new room rehydrates itself from the
// latest snapshot inside its own loop.
func (m *Manager) Room(ctx context.Context, canvasID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room, ok := m.rooms[canvasID]; ok {
		return room
	}
	room := NewRoom(canvasID, m.log, m.store, m.events, m.cfg.Room)
	m.rooms[canvasID] = room
	// Rooms outlive the request that created them: anchor them to the
	// manager's own lifecycle, not the caller's.
	base := m.baseCtx
	if base == nil {
		// Not running yet: Background still lets Manager.Stop end the
		// room cleanly via its stop channel.
		base = context.Background()
	}
	m.sup.Start(base, room)
	m.log.Info("Room started", "canvas", canvasID)
	return room
}

// Run sweeps for idle rooms until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	interval := m.cfg.IdleEviction / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.evictIdle(ctx)
		}
	}
}

func (m *Manager) evictIdle(ctx context.Context) {
	for _, room := range m.snapshotRoomList() {
		info, err := room.Info(ctx)
		if err != nil {
			continue
		}
		if info.Sessions > 0 || info.IdleFor < m.cfg.IdleEviction {
			continue
		}
		if err := m.evict(ctx, room, info); err != nil {
			m.log.Warn("Idle room eviction failed, keeping room", "canvas", info.CanvasID, "error", err)
		}
	}
}

// evict snapshots then destroys one idle room. The room is only removed
// once its state is durable; a failed save keeps it alive for the next
// sweep.
func (m *Manager) evict(ctx context.Context, room *Room, info RoomInfo) error {
	snap, err := room.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := m.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	room.Stop()

	m.mu.Lock()
	delete(m.rooms, info.CanvasID)
	m.mu.Unlock()

	select {
	case m.events <- event.RoomEvicted{CanvasID: info.CanvasID, Sequence: info.Sequence, At: time.Now()}:
	default:
	}
	m.log.Info("Idle room evicted", "canvas", info.CanvasID, "sequence", info.Sequence)
	return nil
}

// SnapshotAll persists the current state of every live room. Failures are
// reported per room and retried on the next interval; live editing is
// never blocked.
func (m *Manager) SnapshotAll(ctx context.Context) {
	for _, room := range m.snapshotRoomList() {
		snap, err := room.Snapshot(ctx)
		if err != nil {
			if !errors.Is(err, bserrors.ErrRoomClosed) {
				m.log.Warn("Snapshot read failed", "error", err)
			}
			continue
		}
		if err := m.store.SaveSnapshot(ctx, snap); err != nil {
			m.log.Warn("Snapshot write failed, will retry next interval",
				"canvas", snap.CanvasID, "sequence", snap.Sequence, "error", err)
		}
	}
}

// Stop ends every room loop; pending snapshots are the snapshotter's job.
func (m *Manager) Stop() {
	for _, room := range m.snapshotRoomList() {
		room.Stop()
	}
}

func (m *Manager) snapshotRoomList() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, room)
	}
	return out
}
