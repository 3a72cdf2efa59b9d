package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/Ethernal-Tech/cardano-projector/reducers"
	"github.com/Ethernal-Tech/cardano-projector/storage"
)

// confirmLoop owns the confirmation buffer and the historical block store.
func (p *Pipeline) confirmLoop(ctx context.Context, stage *Stage) error {
	for {
		event, ok := receive(ctx, stage, p.inputCh)
		if !ok {
			return nil
		}

		stage.logger.Debug("Chain event", "event", event)

		var err error

		switch event.Kind {
		case indexer.ChainEventRollForward:
			err = p.rollForward(ctx, stage, *event.Block)
		case indexer.ChainEventRollBackward:
			scope := p.buffer.ObserveBackward(event.Point)

			p.deps.Metrics.ObserveRollback(scope.String())

			if scope == indexer.RollbackOutOfScope {
				err = p.undoTo(ctx, stage, event.Point)
			}
		case indexer.ChainEventReset:
			// candidates are delivered again after the source resumes from event.Point
			p.buffer.Reset(event.Point)
		default:
			err = fmt.Errorf("unknown chain event: %s", event)
		}

		if err != nil {
			return err
		}
	}
}

func (p *Pipeline) rollForward(ctx context.Context, stage *Stage, block indexer.RawBlock) error {
	for _, released := range p.buffer.ObserveForward(block) {
		evicted, err := withRetry(ctx, p, stage, func(context.Context) ([]indexer.Point, error) {
			evicted, err := p.deps.BlockStore.Insert(released)
			if err != nil {
				return nil, indexer.NewStorageError(err)
			}

			return evicted, nil
		})
		if err != nil {
			if _, err := p.handle(stage, err, "Failed to store released block", "block", released); err != nil {
				return err
			}
		}

		item := releasedBlock{block: released, cursor: released.Point, evicted: evicted}
		if !send(ctx, stage, p.releasedCh, item) {
			return ctx.Err()
		}

		p.deps.Metrics.ObserveBlock(stageConfirm, false)
	}

	return nil
}

// undoTo sends every released block after point downstream to be undone, most recent first.
func (p *Pipeline) undoTo(ctx context.Context, stage *Stage, point indexer.Point) error {
	defer p.buffer.Reset(point)

	latest, err := withRetry(ctx, p, stage, func(context.Context) (*indexer.RawBlock, error) {
		latest, err := p.deps.BlockStore.Latest()
		if err != nil {
			return nil, indexer.NewStorageError(err)
		}

		return latest, nil
	})
	if err != nil {
		_, err = p.handle(stage, err, "Failed to read latest stored block", "point", point)

		return err
	}

	if latest == nil || latest.Point.Equal(point) || latest.Point.Slot < point.Slot {
		stage.logger.Debug("Nothing to undo", "point", point)

		return nil
	}

	blocks, err := withRetry(ctx, p, stage, func(context.Context) ([]indexer.RawBlock, error) {
		blocks, err := p.deps.BlockStore.UndoRange(point)
		if err != nil {
			return nil, indexer.NewStorageError(err)
		}

		return blocks, nil
	})
	if err != nil {
		_, err = p.handle(stage, err, "Failed to read undo range", "point", point)

		return err
	}

	if len(blocks) == 0 {
		_, err = p.handle(stage, indexer.NewMissingDataError(
			fmt.Errorf("rollback to %s is beyond the retained blocks", point)),
			"Rollback can not be undone", "point", point, "latest", latest.Point)

		return err
	}

	// the rollback target stays on the chain, only blocks after it are undone
	if last := blocks[len(blocks)-1]; last.Point.Equal(point) {
		blocks = blocks[:len(blocks)-1]

		if _, err := withRetry(ctx, p, stage, func(context.Context) ([]indexer.Point, error) {
			if _, err := p.deps.BlockStore.Insert(last); err != nil {
				return nil, indexer.NewStorageError(err)
			}

			return nil, nil
		}); err != nil {
			if _, err := p.handle(stage, err, "Failed to restore rollback target", "point", point); err != nil {
				return err
			}
		}
	}

	stage.logger.Info("Undoing released blocks", "point", point, "cnt", len(blocks))

	for i, block := range blocks {
		cursor := point
		if i+1 < len(blocks) {
			cursor = blocks[i+1].Point
		}

		if !send(ctx, stage, p.releasedCh, releasedBlock{block: block, undo: true, cursor: cursor}) {
			return ctx.Err()
		}

		p.deps.Metrics.ObserveBlock(stageConfirm, true)
	}

	return nil
}

// enrichLoop owns the enrichment cache.
func (p *Pipeline) enrichLoop(ctx context.Context, stage *Stage) error {
	for {
		item, ok := receive(ctx, stage, p.releasedCh)
		if !ok {
			return nil
		}

		if len(item.evicted) > 0 {
			if _, err := withRetry(ctx, p, stage, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, p.deps.Cache.Forget(ctx, item.evicted)
			}); err != nil {
				if _, err := p.handle(stage, err, "Failed to forget evicted blocks", "cnt", len(item.evicted)); err != nil {
					return err
				}
			}
		}

		enriched, err := p.enrich(ctx, stage, item)
		if err != nil {
			return err
		}

		if !send(ctx, stage, p.enrichedCh, enriched) {
			return nil
		}

		p.deps.Metrics.ObserveBlock(stageEnrich, item.undo)
	}
}

func (p *Pipeline) enrich(ctx context.Context, stage *Stage, item releasedBlock) (enrichedBlock, error) {
	result := enrichedBlock{point: item.block.Point, undo: item.undo, cursor: item.cursor}

	block, err := p.deps.Decoder.Decode(&item.block)
	if err != nil {
		if indexer.ClassOf(err) == indexer.ErrorClassUnknown {
			err = indexer.NewDecodeError(err)
		}

		_, err = p.handle(stage, err, "Failed to decode block", "block", item.block)

		return result, err
	}

	bc, err := withRetry(ctx, p, stage, func(ctx context.Context) (*indexer.BlockContext, error) {
		if item.undo {
			return p.deps.Cache.Undo(ctx, block)
		}

		return p.deps.Cache.Apply(ctx, block)
	})
	if err != nil {
		if _, err := p.handle(stage, err, "Failed to enrich block", "block", block.Point, "undo", item.undo); err != nil {
			return result, err
		}

		bc = indexer.NewBlockContext()
	}

	p.deps.Metrics.ObserveLookups(bc.Hits(), len(bc.Misses()))

	if misses := bc.Misses(); len(misses) > 0 {
		missErr := indexer.NewMissingDataError(fmt.Errorf("%d of %d inputs not resolved", len(misses), bc.Hits()+len(misses)))

		if _, err := p.handle(stage, missErr, "Unresolved inputs", "block", block.Point, "first", misses[0]); err != nil {
			return result, err
		}
	}

	result.block = block
	result.context = bc

	return result, nil
}

// reduceLoop turns enriched blocks into framed command messages.
func (p *Pipeline) reduceLoop(ctx context.Context, stage *Stage) error {
	for {
		item, ok := receive(ctx, stage, p.enrichedCh)
		if !ok {
			return nil
		}

		var commands []crdt.Command

		if item.block != nil {
			var err error

			commands, err = reducers.ReduceAll(p.deps.Reducers, item.block, item.context, item.undo)
			if err != nil {
				if indexer.ClassOf(err) == indexer.ErrorClassUnknown {
					err = indexer.NewDomainError(err)
				}

				if _, err := p.handle(stage, err, "Failed to reduce block", "block", item.point); err != nil {
					return err
				}

				commands = nil
			}
		}

		messages := make([]crdt.Message, 0, len(commands)+2)
		messages = append(messages, crdt.NewBlockStarting(item.point, item.undo))

		for _, cmd := range commands {
			messages = append(messages, crdt.NewCommandMessage(item.point, item.undo, cmd))
		}

		messages = append(messages, crdt.NewBlockFinished(item.point, item.undo, item.cursor))

		for _, msg := range messages {
			if !send(ctx, stage, p.commandCh, msg) {
				return nil
			}
		}

		p.deps.Metrics.ObserveBlock(stageReduce, item.undo)
	}
}

// storageLoop commits complete blocks when the batch is full or nothing else is waiting.
func (p *Pipeline) storageLoop(ctx context.Context, stage *Stage) error {
	for {
		msg, ok := receive(ctx, stage, p.commandCh)
		if !ok {
			return nil
		}

		if err := p.sink.Process(msg); err != nil {
			return errors.Join(indexer.ErrFatal, err)
		}

		if !p.sink.ShouldFlush() && (len(p.commandCh) > 0 || !p.sink.HasPending()) {
			continue
		}

		if err := p.flush(ctx, stage); err != nil {
			return err
		}
	}
}

func (p *Pipeline) flush(ctx context.Context, stage *Stage) error {
	started := time.Now()

	units, err := withRetry(ctx, p, stage, func(ctx context.Context) ([]storage.Unit, error) {
		units, err := p.sink.Flush(ctx)
		if err != nil {
			return nil, indexer.NewStorageError(err)
		}

		return units, nil
	})
	if err != nil {
		p.deps.Metrics.ObserveCommit(err, started, 0)

		if _, err := p.handle(stage, err, "Failed to commit batch"); err != nil {
			return err
		}

		stage.logger.Warn("Dropping uncommitted blocks", "cnt", p.sink.Discard())

		return nil
	}

	cursor := units[len(units)-1].Cursor

	p.deps.Metrics.ObserveCommit(nil, started, cursor.Slot)

	stage.logger.Debug("Committed", "units", len(units), "cursor", cursor)

	return nil
}
