package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-hclog"
	"go.etcd.io/bbolt"
)

var (
	cursorBucket        = []byte("Cursor")
	growOnlySetBucket   = []byte("GrowOnlySets")
	liveSetBucket       = []byte("TwoPhaseSetsLive")
	tombstoneSetBucket  = []byte("TwoPhaseSetsTombstones")
	lastWriteWinsBucket = []byte("LastWriteWins")
	counterBucket       = []byte("Counters")
	sortedSetBucket     = []byte("SortedSets")
	anyWriteWinsBucket  = []byte("AnyWriteWins")

	defaultKey = []byte("default")

	allBuckets = [][]byte{
		cursorBucket, growOnlySetBucket, liveSetBucket, tombstoneSetBucket,
		lastWriteWinsBucket, counterBucket, sortedSetBucket, anyWriteWinsBucket,
	}
)

type timestampedValue struct {
	Timestamp uint64 `cbor:"1,keyasint"`
	Value     []byte `cbor:"2,keyasint"`
}

// BBoltStore keeps the projection in an embedded bbolt database.
type BBoltStore struct {
	db     *bbolt.DB
	logger hclog.Logger
}

var _ ProjectionStore = (*BBoltStore)(nil)

func NewBBoltStore(filePath string, logger hclog.Logger) (*BBoltStore, error) {
	db, err := bbolt.Open(filePath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bn := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bn); err != nil {
				return fmt.Errorf("could not create bucket: %s, err: %w", string(bn), err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &BBoltStore{
		db:     db,
		logger: logger,
	}, nil
}

func (bs *BBoltStore) Close() error {
	return bs.db.Close()
}

func (bs *BBoltStore) ReadCursor() (result *indexer.Point, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		result, err = readCursor(tx)

		return err
	})

	return result, err
}

func (bs *BBoltStore) ApplyBatch(_ context.Context, units []Unit) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		cursor, err := readCursor(tx)
		if err != nil {
			return err
		}

		for _, unit := range units {
			if !unit.ShouldApply(cursor) {
				bs.logger.Debug("Unit already applied", "point", unit.Point, "undo", unit.Undo, "cursor", cursor)

				continue
			}

			for _, cmd := range unit.Commands {
				if err := applyBBoltCommand(tx, cmd); err != nil {
					return fmt.Errorf("could not apply %s: %w", cmd, err)
				}
			}

			point := unit.Cursor
			cursor = &point
		}

		if cursor == nil {
			return nil
		}

		data, err := cbor.Marshal(cursor)
		if err != nil {
			return fmt.Errorf("could not marshal cursor: %w", err)
		}

		return tx.Bucket(cursorBucket).Put(defaultKey, data)
	})
}

func applyBBoltCommand(tx *bbolt.Tx, cmd crdt.Command) error {
	switch cmd.Kind {
	case crdt.GrowOnlySetAdd:
		return tx.Bucket(growOnlySetBucket).Put(memberKey(cmd.Key, cmd.Member), []byte{1})
	case crdt.TwoPhaseSetAdd:
		return tx.Bucket(liveSetBucket).Put(memberKey(cmd.Key, cmd.Member), []byte{1})
	case crdt.TwoPhaseSetRemove:
		return tx.Bucket(tombstoneSetBucket).Put(memberKey(cmd.Key, cmd.Member), []byte{1})
	case crdt.LastWriteWins:
		bucket := tx.Bucket(lastWriteWinsBucket)

		if data := bucket.Get([]byte(cmd.Key)); len(data) > 0 {
			var stored timestampedValue

			if err := cbor.Unmarshal(data, &stored); err != nil {
				return err
			}

			if cmd.Timestamp < stored.Timestamp {
				return nil
			}
		}

		data, err := cbor.Marshal(timestampedValue{Timestamp: cmd.Timestamp, Value: cmd.Value})
		if err != nil {
			return err
		}

		return bucket.Put([]byte(cmd.Key), data)
	case crdt.PNCounter:
		return addToInt64(tx.Bucket(counterBucket), []byte(cmd.Key), cmd.Delta)
	case crdt.SortedSetAdd, crdt.SortedSetRemove:
		return addToInt64(tx.Bucket(sortedSetBucket), memberKey(cmd.Key, cmd.Member), cmd.ScoreDelta())
	case crdt.AnyWriteWins:
		return tx.Bucket(anyWriteWinsBucket).Put([]byte(cmd.Key), cmd.Value)
	default:
		return fmt.Errorf("unknown command kind: %d", cmd.Kind)
	}
}

// GrowOnlySet returns the members of the grow only set at key, sorted.
func (bs *BBoltStore) GrowOnlySet(_ context.Context, key string) (result []string, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		result = members(tx.Bucket(growOnlySetBucket), key)

		return nil
	})

	return result, err
}

// TwoPhaseSet returns the live members of the two phase set at key, sorted.
func (bs *BBoltStore) TwoPhaseSet(_ context.Context, key string) (result []string, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		tombstones := tx.Bucket(tombstoneSetBucket)

		for _, member := range members(tx.Bucket(liveSetBucket), key) {
			if tombstones.Get(memberKey(key, member)) == nil {
				result = append(result, member)
			}
		}

		return nil
	})

	return result, err
}

// LastWriteWins returns the value at key and its timestamp, nil if never written.
func (bs *BBoltStore) LastWriteWins(_ context.Context, key string) (value []byte, timestamp uint64, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(lastWriteWinsBucket).Get([]byte(key))
		if len(data) == 0 {
			return nil
		}

		var stored timestampedValue

		if err := cbor.Unmarshal(data, &stored); err != nil {
			return err
		}

		value, timestamp = stored.Value, stored.Timestamp

		return nil
	})

	return value, timestamp, err
}

func (bs *BBoltStore) Counter(_ context.Context, key string) (result int64, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		result = readInt64(tx.Bucket(counterBucket).Get([]byte(key)))

		return nil
	})

	return result, err
}

// SortedSet returns member scores of the sorted set at key.
func (bs *BBoltStore) SortedSet(_ context.Context, key string) (result map[string]int64, err error) {
	result = map[string]int64{}

	err = bs.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sortedSetBucket)

		for _, member := range members(bucket, key) {
			result[member] = readInt64(bucket.Get(memberKey(key, member)))
		}

		return nil
	})

	return result, err
}

func (bs *BBoltStore) AnyWriteWins(_ context.Context, key string) (result []byte, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(anyWriteWinsBucket).Get([]byte(key)); data != nil {
			result = append([]byte{}, data...)
		}

		return nil
	})

	return result, err
}

func readCursor(tx *bbolt.Tx) (*indexer.Point, error) {
	data := tx.Bucket(cursorBucket).Get(defaultKey)
	if len(data) == 0 {
		return nil, nil
	}

	var point indexer.Point

	if err := cbor.Unmarshal(data, &point); err != nil {
		return nil, fmt.Errorf("could not unmarshal cursor: %w", err)
	}

	return &point, nil
}

// memberKey joins set key and member with a zero byte, keys never contain one.
func memberKey(key, member string) []byte {
	result := make([]byte, 0, len(key)+len(member)+1)
	result = append(result, key...)
	result = append(result, 0)

	return append(result, member...)
}

func members(bucket *bbolt.Bucket, key string) (result []string) {
	prefix := memberKey(key, "")
	cursor := bucket.Cursor()

	for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
		result = append(result, string(k[len(prefix):]))
	}

	sort.Strings(result)

	return result
}

func addToInt64(bucket *bbolt.Bucket, key []byte, delta int64) error {
	value := readInt64(bucket.Get(key)) + delta
	data := make([]byte, 8)

	binary.BigEndian.PutUint64(data, uint64(value)) //nolint:gosec

	return bucket.Put(key, data)
}

func readInt64(data []byte) int64 {
	if len(data) != 8 {
		return 0
	}

	return int64(binary.BigEndian.Uint64(data)) //nolint:gosec
}
