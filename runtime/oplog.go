// Package runtime hosts the per-canvas coordination machinery: the
// operation log, the session registry, the room actors and their manager.
// It orchestrates the domain without containing merge rules itself.
package runtime

import (
	"fmt"

	"boardsync/domain"
	bserrors "boardsync/errors"
)

// OpLog retains the most recent accepted operations of one canvas in a
// bounded window and indexes them by client operation id for idempotent
// retries. It is exclusively owned by the room coordinator; no locking.
type OpLog struct {
	retention int
	ops       []domain.Operation
	byClient  map[string]uint64
}

func NewOpLog(retention int) *OpLog {
	if retention < 1 {
		retention = 1
	}
	return &OpLog{
		retention: retention,
		byClient:  make(map[string]uint64),
	}
}

// Append records an accepted operation. Sequence numbers must be gap-free;
// a gap means the coordinator and its scene diverged, which is fatal for
// the room.
func (l *OpLog) Append(op domain.Operation) error {
	if last, ok := l.lastSequence(); ok && op.Sequence != last+1 {
		return fmt.Errorf("%w: got %d after %d", bserrors.ErrSequenceGap, op.Sequence, last)
	}
	l.ops = append(l.ops, op)
	if op.ClientOpID != "" {
		l.byClient[op.ClientOpID] = op.Sequence
	}
	if len(l.ops) > l.retention {
		evicted := l.ops[0]
		l.ops = l.ops[1:]
		if evicted.ClientOpID != "" {
			delete(l.byClient, evicted.ClientOpID)
		}
	}
	return nil
}

// Seen reports the sequence number already assigned to a client operation
// id, if it is still inside the retained window.
func (l *OpLog) Seen(clientOpID string) (uint64, bool) {
	if clientOpID == "" {
		return 0, false
	}
	seq, ok := l.byClient[clientOpID]
	return seq, ok
}

// GetSince returns, in order, every retained operation with a sequence
// number strictly greater than since. If the requested point predates the
// retained window the caller must resync with a fresh join.
func (l *OpLog) GetSince(since uint64) ([]domain.Operation, error) {
	if len(l.ops) == 0 {
		return nil, nil
	}
	first := l.ops[0].Sequence
	if since+1 < first {
		return nil, bserrors.ErrResyncRequired
	}
	var out []domain.Operation
	for _, op := range l.ops {
		if op.Sequence > since {
			out = append(out, op)
		}
	}
	return out, nil
}

func (l *OpLog) lastSequence() (uint64, bool) {
	if len(l.ops) == 0 {
		return 0, false
	}
	return l.ops[len(l.ops)-1].Sequence, true
}

func (l *OpLog) Len() int { return len(l.ops) }
