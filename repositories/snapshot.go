//go:generate go run go.uber.org/mock/mockgen -source=snapshot.go -destination=../mocks/mock_snapshot_repository.go -package=mocks
package repositories

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"boardsync/domain"
	bserrors "boardsync/errors"
)

type ISnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) error
	LoadLatestSnapshot(ctx context.Context, canvasID string) (domain.Snapshot, error)
}

// SnapshotRepository persists canvas snapshots in BadgerDB.
// The key is formatted as "snap:{canvas_id}:{sequence_padded}" to:
//  1. Ensure sequence ordering using 19-digit zero padding
//     (lexicographical order).
//  2. Let the latest snapshot be found with a single reverse prefix seek.
type SnapshotRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSnapshotRepository(db *badger.DB, log *slog.Logger) SnapshotRepository {
	return SnapshotRepository{db: db, log: log}
}

func snapshotKey(canvasID string, sequence uint64) []byte {
	return []byte(fmt.Sprintf("snap:%s:%019d", canvasID, sequence))
}

func (r SnapshotRepository) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := snap.Marshal()
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.CanvasID, snap.Sequence), value)
	})
}

// LoadLatestSnapshot seeks the highest retained sequence for the canvas.
// Thanks to the padded sequence in the key, a reverse iterator lands on
// the newest snapshot first.
func (r SnapshotRepository) LoadLatestSnapshot(ctx context.Context, canvasID string) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	var raw []byte
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("snap:%s:", canvasID))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return bserrors.ErrSnapshotNotFound
		}
		return it.Item().Value(func(value []byte) error {
			raw = append([]byte{}, value...)
			return nil
		})
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap, err := domain.UnmarshalSnapshot(raw)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("corrupt snapshot for canvas %s: %w", canvasID, err)
	}
	return snap, nil
}
