package blockstore

import (
	"errors"
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-hclog"
	"go.etcd.io/bbolt"
)

var (
	blocksBucket = []byte("Blocks")
	metaBucket   = []byte("Meta")

	countKey = []byte("count")

	errInvalidRetention = errors.New("retention must be greater than zero")
)

// BlockStore is the historical store of released raw blocks keyed by slot.
// At most retention records are kept, the oldest ones are evicted first.
type BlockStore struct {
	db        *bbolt.DB
	retention uint64
	logger    hclog.Logger
}

func NewBlockStore(filePath string, retention uint64, logger hclog.Logger) (*BlockStore, error) {
	if retention == 0 {
		return nil, errInvalidRetention
	}

	db, err := bbolt.Open(filePath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open block store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bn := range [][]byte{blocksBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bn); err != nil {
				return fmt.Errorf("could not create bucket: %s, err: %w", string(bn), err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &BlockStore{
		db:        db,
		retention: retention,
		logger:    logger,
	}, nil
}

func (bs *BlockStore) Close() error {
	return bs.db.Close()
}

// Insert persists block and returns the points evicted by retention trimming, oldest first.
// A block stored again at the same slot replaces the previous record.
func (bs *BlockStore) Insert(block indexer.RawBlock) (evicted []indexer.Point, err error) {
	bytes, err := cbor.Marshal(block)
	if err != nil {
		return nil, fmt.Errorf("could not marshal block: %w", err)
	}

	err = bs.db.Update(func(tx *bbolt.Tx) error {
		evicted = nil

		bucket := tx.Bucket(blocksBucket)
		key := indexer.SlotNumberToKey(block.Point.Slot)
		count := getCount(tx)

		if bucket.Get(key) == nil {
			count++
		}

		if err := bucket.Put(key, bytes); err != nil {
			return fmt.Errorf("block write error: %w", err)
		}

		cursor := bucket.Cursor()

		for k, v := cursor.First(); k != nil && count > bs.retention; k, v = cursor.First() {
			var old indexer.RawBlock

			if err := cbor.Unmarshal(v, &old); err != nil {
				return fmt.Errorf("could not unmarshal block: %w", err)
			}

			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("block delete error: %w", err)
			}

			evicted = append(evicted, old.Point)
			count--
		}

		return putCount(tx, count)
	})
	if err != nil {
		return nil, err
	}

	if len(evicted) > 0 {
		bs.logger.Debug("Blocks evicted", "cnt", len(evicted), "last", evicted[len(evicted)-1])
	}

	return evicted, nil
}

// Get returns the block stored at point's slot or nil when there is none or its hash differs.
func (bs *BlockStore) Get(point indexer.Point) (result *indexer.RawBlock, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(blocksBucket).Get(indexer.SlotNumberToKey(point.Slot))
		if len(data) == 0 {
			return nil
		}

		var block indexer.RawBlock

		if err := cbor.Unmarshal(data, &block); err != nil {
			return fmt.Errorf("could not unmarshal block: %w", err)
		}

		if block.Point.Equal(point) {
			result = &block
		}

		return nil
	})

	return result, err
}

// UndoRange removes and returns every block with slot >= point's slot, most recent first.
// If nothing is stored at point's slot the range is empty and the store is left untouched.
func (bs *BlockStore) UndoRange(point indexer.Point) (result []indexer.RawBlock, err error) {
	err = bs.db.Update(func(tx *bbolt.Tx) error {
		result = nil

		bucket := tx.Bucket(blocksBucket)
		fromKey := indexer.SlotNumberToKey(point.Slot)

		if bucket.Get(fromKey) == nil {
			return nil
		}

		cursor := bucket.Cursor()

		for k, v := cursor.Last(); k != nil && indexer.KeyToSlotNumber(k) >= point.Slot; k, v = cursor.Last() {
			var block indexer.RawBlock

			if err := cbor.Unmarshal(v, &block); err != nil {
				return fmt.Errorf("could not unmarshal block: %w", err)
			}

			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("block delete error: %w", err)
			}

			result = append(result, block)
		}

		count := getCount(tx)
		if count >= uint64(len(result)) {
			count -= uint64(len(result))
		} else {
			count = 0
		}

		return putCount(tx, count)
	})
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		bs.logger.Warn("Nothing to undo within retention window", "point", point)
	}

	return result, nil
}

// Latest returns the most recent stored block or nil if the store is empty.
func (bs *BlockStore) Latest() (result *indexer.RawBlock, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(blocksBucket).Cursor().Last()
		if v == nil {
			return nil
		}

		var block indexer.RawBlock

		if err := cbor.Unmarshal(v, &block); err != nil {
			return fmt.Errorf("could not unmarshal block: %w", err)
		}

		result = &block

		return nil
	})

	return result, err
}

func (bs *BlockStore) Len() (count uint64, err error) {
	err = bs.db.View(func(tx *bbolt.Tx) error {
		count = getCount(tx)

		return nil
	})

	return count, err
}

func getCount(tx *bbolt.Tx) uint64 {
	if data := tx.Bucket(metaBucket).Get(countKey); len(data) == 8 {
		return indexer.KeyToSlotNumber(data)
	}

	return 0
}

func putCount(tx *bbolt.Tx, count uint64) error {
	if err := tx.Bucket(metaBucket).Put(countKey, indexer.SlotNumberToKey(count)); err != nil {
		return fmt.Errorf("count write error: %w", err)
	}

	return nil
}
