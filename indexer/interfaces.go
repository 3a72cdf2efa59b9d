package indexer

type Closable interface {
	Close() error
}

type Service interface {
	Closable
	Start()
}

type BlockSyncer interface {
	Closable
	Sync() error
	ErrorCh() <-chan error
}

// BlockSyncerHandler receives the chain-sync callbacks of a source.
type BlockSyncerHandler interface {
	RollBackward(point Point) error
	RollForward(block RawBlock) error
	// Reset is called after the source (re)connects and returns the point to sync from
	Reset() (Point, error)
}

// BlockDecoder turns raw block bytes into the structured block model.
type BlockDecoder interface {
	Decode(raw *RawBlock) (*Block, error)
}

// CursorReader returns the last committed point or nil when nothing was committed yet.
type CursorReader interface {
	ReadCursor() (*Point, error)
}
