package storage

import (
	"context"
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/hashicorp/go-hclog"
)

const defaultBatchSize = 1000

// Sink groups the command stream into fully bounded units and commits them in batches.
// Units stay pending until a flush succeeds so a failed flush can be repeated.
type Sink struct {
	store     Store
	batchSize int
	logger    hclog.Logger

	current         *Unit
	pending         []Unit
	pendingCommands int
}

func NewSink(store Store, batchSize int, logger hclog.Logger) *Sink {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &Sink{
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Process consumes one message of the command stream.
func (s *Sink) Process(msg crdt.Message) error {
	switch msg.Kind {
	case crdt.MessageBlockStarting:
		if s.current != nil {
			return fmt.Errorf("block %s started before block %s finished", msg.Point, s.current.Point)
		}

		s.current = &Unit{Point: msg.Point, Undo: msg.Undo}
	case crdt.MessageCommand:
		if s.current == nil || !s.current.Point.Equal(msg.Point) {
			return fmt.Errorf("command outside of block %s", msg.Point)
		}

		if err := msg.Command.Validate(); err != nil {
			return err
		}

		s.current.Commands = append(s.current.Commands, msg.Command)
	case crdt.MessageBlockFinished:
		if s.current == nil || !s.current.Point.Equal(msg.Point) {
			return fmt.Errorf("block %s finished without being started", msg.Point)
		}

		s.current.Cursor = msg.Cursor
		s.pending = append(s.pending, *s.current)
		s.pendingCommands += len(s.current.Commands)
		s.current = nil
	default:
		return fmt.Errorf("unknown message kind: %d", msg.Kind)
	}

	return nil
}

// ShouldFlush reports whether the completed units reached the batch size.
func (s *Sink) ShouldFlush() bool {
	return len(s.pending) > 0 && s.pendingCommands >= s.batchSize
}

// HasPending reports whether there is at least one completed unit waiting for commit.
func (s *Sink) HasPending() bool {
	return len(s.pending) > 0
}

// Flush commits every completed unit as one batch.
func (s *Sink) Flush(ctx context.Context) (units []Unit, err error) {
	if len(s.pending) == 0 {
		return nil, nil
	}

	if err := s.store.ApplyBatch(ctx, s.pending); err != nil {
		return nil, err
	}

	units = s.pending

	s.logger.Debug("Batch committed", "units", len(units), "commands", s.pendingCommands,
		"cursor", units[len(units)-1].Cursor)

	s.pending = nil
	s.pendingCommands = 0

	return units, nil
}

// Discard drops every completed unit and returns how many were dropped.
func (s *Sink) Discard() int {
	cnt := len(s.pending)

	s.pending = nil
	s.pendingCommands = 0

	return cnt
}
