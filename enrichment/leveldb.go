package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type LevelDBBackend struct {
	db *leveldb.DB
}

var _ Backend = (*LevelDBBackend)(nil)

func NewLevelDBBackend(filePath string) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(filePath, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}

	return &LevelDBBackend{db: db}, nil
}

func (lb *LevelDBBackend) MultiGet(_ context.Context, keys [][]byte) ([][]byte, error) {
	snapshot, err := lb.db.GetSnapshot()
	if err != nil {
		return nil, err
	}

	defer snapshot.Release()

	result := make([][]byte, len(keys))

	for i, key := range keys {
		value, err := snapshot.Get(key, nil)
		if err != nil {
			if errors.Is(err, leveldb.ErrNotFound) {
				continue
			}

			return nil, err
		}

		result[i] = value
	}

	return result, nil
}

func (lb *LevelDBBackend) Write(_ context.Context, puts []KeyValue, deletes [][]byte) error {
	batch := new(leveldb.Batch)

	for _, kv := range puts {
		batch.Put(kv.Key, kv.Value)
	}

	for _, key := range deletes {
		batch.Delete(key)
	}

	return lb.db.Write(batch, &opt.WriteOptions{
		NoWriteMerge: false,
		Sync:         true,
	})
}

func (lb *LevelDBBackend) Close() error {
	return lb.db.Close()
}
