package indexer

import (
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

type SourceRunnerConfig struct {
	// point used when nothing was committed yet, origin when nil
	StartingPoint *Point
}

// SourceRunner adapts source callbacks to the pipeline input port. Sends block
// while the port is full, which is how the pipeline slows the source down.
type SourceRunner struct {
	config       *SourceRunnerConfig
	cursorReader CursorReader
	outputCh     chan<- ChainEvent
	isClosed     uint32
	closeCh      chan struct{}
	logger       hclog.Logger
}

var (
	_ BlockSyncerHandler = (*SourceRunner)(nil)
	_ Closable           = (*SourceRunner)(nil)
)

func NewSourceRunner(
	config *SourceRunnerConfig, cursorReader CursorReader, outputCh chan<- ChainEvent, logger hclog.Logger,
) *SourceRunner {
	return &SourceRunner{
		config:       config,
		cursorReader: cursorReader,
		outputCh:     outputCh,
		closeCh:      make(chan struct{}),
		logger:       logger,
	}
}

func (sr *SourceRunner) Close() error {
	if atomic.CompareAndSwapUint32(&sr.isClosed, 0, 1) {
		sr.logger.Info("Closing source runner")

		close(sr.closeCh)
	}

	return nil
}

func (sr *SourceRunner) RollForward(block RawBlock) error {
	sr.push(ChainEvent{Kind: ChainEventRollForward, Point: block.Point, Block: &block})

	return nil
}

func (sr *SourceRunner) RollBackward(point Point) error {
	sr.push(ChainEvent{Kind: ChainEventRollBackward, Point: point})

	return nil
}

// Reset returns the point to resume from: the committed cursor, else the configured
// starting point, else the origin. The pipeline is told to drop its unconfirmed state.
func (sr *SourceRunner) Reset() (Point, error) {
	cursor, err := sr.cursorReader.ReadCursor()
	if err != nil {
		return Point{}, NewStorageError(err)
	}

	if cursor == nil {
		cursor = sr.config.StartingPoint
	}

	if cursor == nil {
		cursor = &Point{}
	}

	sr.logger.Info("Source reset", "point", cursor)

	sr.push(ChainEvent{Kind: ChainEventReset, Point: *cursor})

	return *cursor, nil
}

func (sr *SourceRunner) push(event ChainEvent) {
	select {
	case sr.outputCh <- event:
	case <-sr.closeCh:
		sr.logger.Debug("Event dropped, runner closed", "event", event)
	}
}
