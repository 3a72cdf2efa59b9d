package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

type BadgerBackend struct {
	db *badger.DB
}

var _ Backend = (*BadgerBackend)(nil)

// NewBadgerBackend opens a badger database at dirPath. An empty path keeps everything in memory.
func NewBadgerBackend(dirPath string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dirPath).WithLogger(nil)
	if dirPath == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}

	return &BadgerBackend{db: db}, nil
}

func (bb *BadgerBackend) MultiGet(_ context.Context, keys [][]byte) ([][]byte, error) {
	result := make([][]byte, len(keys))

	err := bb.db.View(func(txn *badger.Txn) error {
		for i, key := range keys {
			item, err := txn.Get(key)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}

				return err
			}

			if result[i], err = item.ValueCopy(nil); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (bb *BadgerBackend) Write(_ context.Context, puts []KeyValue, deletes [][]byte) error {
	return bb.db.Update(func(txn *badger.Txn) error {
		for _, kv := range puts {
			if err := txn.Set(kv.Key, kv.Value); err != nil {
				return fmt.Errorf("put error: %w", err)
			}
		}

		for _, key := range deletes {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete error: %w", err)
			}
		}

		return nil
	})
}

func (bb *BadgerBackend) Close() error {
	return bb.db.Close()
}
