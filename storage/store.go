package storage

import (
	"context"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
)

// Unit is every command of one block together with the cursor to persist after it.
type Unit struct {
	Point    indexer.Point
	Undo     bool
	Cursor   indexer.Point
	Commands []crdt.Command
}

// ShouldApply reports whether the unit is still missing on top of cursor. Forward units
// apply only past the cursor, undo units only up to it, so a replayed unit is a no-op.
func (u Unit) ShouldApply(cursor *indexer.Point) bool {
	if u.Undo {
		return cursor != nil && !cursor.IsOrigin() && u.Point.Slot <= cursor.Slot
	}

	return cursor == nil || cursor.IsOrigin() || u.Point.Slot > cursor.Slot
}

// Store applies batches of units transactionally: the commands of every unit and the
// cursor of the last one are committed together or not at all.
type Store interface {
	indexer.CursorReader
	ApplyBatch(ctx context.Context, units []Unit) error
	Close() error
}

// Reader reads the projected values back. Set members are sorted.
type Reader interface {
	GrowOnlySet(ctx context.Context, key string) ([]string, error)
	TwoPhaseSet(ctx context.Context, key string) ([]string, error)
	LastWriteWins(ctx context.Context, key string) (value []byte, timestamp uint64, err error)
	Counter(ctx context.Context, key string) (int64, error)
	SortedSet(ctx context.Context, key string) (map[string]int64, error)
	AnyWriteWins(ctx context.Context, key string) ([]byte, error)
}

type ProjectionStore interface {
	Store
	Reader
}
