package enrichment

import (
	"context"
)

// KeyValue is a single put of a backend write.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Backend is the key value store behind the cache. MultiGet returns one value per key,
// nil for missing keys. Write applies every put and delete atomically.
type Backend interface {
	MultiGet(ctx context.Context, keys [][]byte) ([][]byte, error)
	Write(ctx context.Context, puts []KeyValue, deletes [][]byte) error
	Close() error
}
