package runtime

import (
	"time"

	"boardsync/contract"
	"boardsync/domain"
)

// Session is the ephemeral state of one connected participant: identity,
// transport sink, presence, liveness deadline. Created on join, destroyed
// on leave or heartbeat expiry, never persisted.
type Session struct {
	Participant domain.Participant
	Sink        contract.SessionSink
	JoinedAt    time.Time
	LastAcked   uint64

	deadline    time.Time
	cursor      domain.Cursor
	cursorDirty bool
}

// Registry tracks the live sessions of one room. Like the scene and the
// operation log it is exclusively owned by the room coordinator, so it
// needs no locking: every access is funneled through the room's command
// loop.
type Registry struct {
	sessions       map[string]*Session
	livenessWindow time.Duration
}

func NewRegistry(livenessWindow time.Duration) *Registry {
	return &Registry{
		sessions:       make(map[string]*Session),
		livenessWindow: livenessWindow,
	}
}

func (r *Registry) Add(p domain.Participant, sink contract.SessionSink, now time.Time) *Session {
	s := &Session{
		Participant: p,
		Sink:        sink,
		JoinedAt:    now,
		deadline:    now.Add(r.livenessWindow),
	}
	r.sessions[p.ID] = s
	return s
}

// Remove deletes the session. A non-nil sink makes removal conditional on
// sink identity: after a reconnect the participant id maps to the fresh
// session, and the stale connection's cleanup must not tear that one down.
func (r *Registry) Remove(participantID string, sink contract.SessionSink) *Session {
	s, ok := r.sessions[participantID]
	if !ok {
		return nil
	}
	if sink != nil && s.Sink != sink {
		return nil
	}
	delete(r.sessions, participantID)
	return s
}

func (r *Registry) Get(participantID string) (*Session, bool) {
	s, ok := r.sessions[participantID]
	return s, ok
}

// Touch extends the liveness deadline. Any operation or heartbeat from the
// participant counts as liveness.
func (r *Registry) Touch(participantID string, now time.Time) {
	if s, ok := r.sessions[participantID]; ok {
		s.deadline = now.Add(r.livenessWindow)
	}
}

// SetCursor coalesces presence updates: positions arriving between two
// broadcast ticks overwrite each other, only the latest is kept.
func (r *Registry) SetCursor(participantID string, c domain.Cursor, now time.Time) {
	s, ok := r.sessions[participantID]
	if !ok {
		return
	}
	s.cursor = c
	s.cursorDirty = true
	s.deadline = now.Add(r.livenessWindow)
}

// FlushCursors drains the pending cursor updates as presence events and
// clears the dirty marks.
func (r *Registry) FlushCursors(canvasID string) []domain.PresenceEvent {
	var out []domain.PresenceEvent
	for _, s := range r.sessions {
		if !s.cursorDirty {
			continue
		}
		s.cursorDirty = false
		cursor := s.cursor
		out = append(out, domain.PresenceEvent{
			CanvasID:    canvasID,
			Participant: s.Participant,
			Cursor:      &cursor,
		})
	}
	return out
}

// ExpireStale removes every session whose liveness deadline has passed and
// returns them so the room can broadcast their departure.
func (r *Registry) ExpireStale(now time.Time) []*Session {
	var expired []*Session
	for id, s := range r.sessions {
		if now.After(s.deadline) {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	return expired
}

// Sinks returns the sinks of every session except the named participant.
// Pass an empty id to address everyone.
func (r *Registry) Sinks(except string) []contract.SessionSink {
	var out []contract.SessionSink
	for id, s := range r.sessions {
		if id == except {
			continue
		}
		out = append(out, s.Sink)
	}
	return out
}

func (r *Registry) Len() int { return len(r.sessions) }
