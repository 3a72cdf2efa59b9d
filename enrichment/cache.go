package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

const (
	outputKeyPrefix  = 'u'
	journalKeyPrefix = 'j'

	defaultConcurrency = 4
	defaultChunkSize   = 256
)

type CacheConfig struct {
	// max number of concurrent lookups against the backend
	Concurrency int `yaml:"concurrency"`
	// max number of keys in one lookup
	ChunkSize int `yaml:"chunkSize"`
}

// cacheEntry is the stored form of a produced output.
type cacheEntry struct {
	Era  uint8  `cbor:"1,keyasint"`
	Body []byte `cbor:"2,keyasint"`
}

// journal holds the entries a block consumed so the block can be undone or re-delivered.
type journal struct {
	Hash    indexer.Hash   `cbor:"1,keyasint"`
	Entries []journalEntry `cbor:"2,keyasint"`
}

type journalEntry struct {
	Input indexer.TxInput `cbor:"1,keyasint"`
	Entry cacheEntry      `cbor:"2,keyasint"`
}

// Cache resolves block inputs against the outputs produced by recently processed blocks.
type Cache struct {
	backend Backend
	config  CacheConfig
	logger  hclog.Logger
}

func NewCache(backend Backend, config CacheConfig, logger hclog.Logger) *Cache {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}

	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}

	return &Cache{
		backend: backend,
		config:  config,
		logger:  logger,
	}
}

func (c *Cache) Close() error {
	return c.backend.Close()
}

// Apply runs index, resolve and remove for block in that order.
func (c *Cache) Apply(ctx context.Context, block *indexer.Block) (*indexer.BlockContext, error) {
	if err := c.IndexProduced(ctx, block); err != nil {
		return nil, err
	}

	bc, err := c.ResolveReferenced(ctx, block)
	if err != nil {
		return nil, err
	}

	if err := c.RemoveConsumed(ctx, block, bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// IndexProduced stores every output produced by block.
func (c *Cache) IndexProduced(ctx context.Context, block *indexer.Block) error {
	var puts []KeyValue

	for _, tx := range block.Txs {
		for idx, output := range tx.Outputs {
			if output == nil {
				continue
			}

			value, err := encodeEntry(block.Era, output)
			if err != nil {
				return err
			}

			puts = append(puts, KeyValue{
				Key:   outputKey(indexer.TxInput{Hash: tx.Hash, Index: uint32(idx)}), //nolint:gosec
				Value: value,
			})
		}
	}

	if len(puts) == 0 {
		return nil
	}

	if err := c.backend.Write(ctx, puts, nil); err != nil {
		return indexer.NewStorageError(fmt.Errorf("could not index produced outputs: %w", err))
	}

	return nil
}

// ResolveReferenced looks up every input of block. Inputs not found in the cache are
// looked up in the journal of a previous attempt of the same block and then counted as misses.
func (c *Cache) ResolveReferenced(ctx context.Context, block *indexer.Block) (*indexer.BlockContext, error) {
	inputs := blockInputs(block)
	bc := indexer.NewBlockContext()

	if len(inputs) == 0 {
		return bc, nil
	}

	keys := make([][]byte, len(inputs))
	for i, input := range inputs {
		keys[i] = outputKey(input)
	}

	values, err := c.multiGet(ctx, keys)
	if err != nil {
		return nil, indexer.NewStorageError(fmt.Errorf("could not resolve inputs: %w", err))
	}

	var previous map[indexer.TxInput]cacheEntry

	for i, input := range inputs {
		if values[i] != nil {
			var entry cacheEntry

			if err := cbor.Unmarshal(values[i], &entry); err != nil {
				return nil, indexer.NewDecodeError(fmt.Errorf("could not decode cache entry %s: %w", input, err))
			}

			if err := addResolved(bc, input, entry); err != nil {
				return nil, err
			}

			continue
		}

		if previous == nil {
			if previous, err = c.readJournal(ctx, block.Point); err != nil {
				return nil, err
			}
		}

		if entry, exists := previous[input]; exists {
			if err := addResolved(bc, input, entry); err != nil {
				return nil, err
			}

			continue
		}

		bc.AddMiss(input)
	}

	if len(bc.Misses()) > 0 {
		c.logger.Debug("Unresolved inputs", "block", block.Point, "hits", bc.Hits(), "misses", len(bc.Misses()))
	}

	return bc, nil
}

// RemoveConsumed deletes every entry spent by block. The resolved entries are journaled
// under the block slot in the same write.
func (c *Cache) RemoveConsumed(ctx context.Context, block *indexer.Block, bc *indexer.BlockContext) error {
	inputs := blockInputs(block)
	if len(inputs) == 0 {
		return nil
	}

	jrnl := journal{Hash: block.Point.Hash}
	deletes := make([][]byte, 0, len(inputs))

	for _, input := range inputs {
		deletes = append(deletes, outputKey(input))

		if resolved, exists := bc.Get(input); exists {
			value, err := cbor.Marshal(resolved.Output)
			if err != nil {
				return fmt.Errorf("could not marshal output: %w", err)
			}

			jrnl.Entries = append(jrnl.Entries, journalEntry{
				Input: input,
				Entry: cacheEntry{Era: resolved.Era, Body: value},
			})
		}
	}

	jrnlBytes, err := cbor.Marshal(jrnl)
	if err != nil {
		return fmt.Errorf("could not marshal journal: %w", err)
	}

	puts := []KeyValue{{Key: journalKey(block.Point.Slot), Value: jrnlBytes}}

	if err := c.backend.Write(ctx, puts, deletes); err != nil {
		return indexer.NewStorageError(fmt.Errorf("could not remove consumed outputs: %w", err))
	}

	return nil
}

// Undo reverts Apply for block: consumed entries are restored from the journal and the
// outputs block produced are removed. The returned context holds what block had consumed.
func (c *Cache) Undo(ctx context.Context, block *indexer.Block) (*indexer.BlockContext, error) {
	consumed, err := c.readJournal(ctx, block.Point)
	if err != nil {
		return nil, err
	}

	bc := indexer.NewBlockContext()
	produced := map[string]bool{}
	deletes := [][]byte{journalKey(block.Point.Slot)}

	for _, tx := range block.Txs {
		for idx, output := range tx.Outputs {
			if output == nil {
				continue
			}

			key := outputKey(indexer.TxInput{Hash: tx.Hash, Index: uint32(idx)}) //nolint:gosec
			produced[string(key)] = true
			deletes = append(deletes, key)
		}
	}

	var puts []KeyValue

	for _, input := range blockInputs(block) {
		entry, exists := consumed[input]
		if !exists {
			bc.AddMiss(input)

			continue
		}

		if err := addResolved(bc, input, entry); err != nil {
			return nil, err
		}

		key := outputKey(input)
		if produced[string(key)] {
			// chained inside the block, it must not outlive the undo
			continue
		}

		value, err := cbor.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("could not marshal cache entry: %w", err)
		}

		puts = append(puts, KeyValue{Key: key, Value: value})
	}

	if err := c.backend.Write(ctx, puts, deletes); err != nil {
		return nil, indexer.NewStorageError(fmt.Errorf("could not undo block: %w", err))
	}

	c.logger.Debug("Block undone", "block", block.Point, "restored", len(puts), "removed", len(deletes)-1)

	return bc, nil
}

// Forget drops the undo journals of blocks that can not be undone anymore.
func (c *Cache) Forget(ctx context.Context, points []indexer.Point) error {
	if len(points) == 0 {
		return nil
	}

	deletes := make([][]byte, len(points))
	for i, point := range points {
		deletes[i] = journalKey(point.Slot)
	}

	if err := c.backend.Write(ctx, nil, deletes); err != nil {
		return indexer.NewStorageError(fmt.Errorf("could not forget journals: %w", err))
	}

	return nil
}

func (c *Cache) readJournal(ctx context.Context, point indexer.Point) (map[indexer.TxInput]cacheEntry, error) {
	result := map[indexer.TxInput]cacheEntry{}

	values, err := c.backend.MultiGet(ctx, [][]byte{journalKey(point.Slot)})
	if err != nil {
		return nil, indexer.NewStorageError(fmt.Errorf("could not read journal: %w", err))
	}

	if len(values) == 0 || values[0] == nil {
		return result, nil
	}

	var jrnl journal

	if err := cbor.Unmarshal(values[0], &jrnl); err != nil {
		return nil, indexer.NewDecodeError(fmt.Errorf("could not decode journal of %s: %w", point, err))
	}

	// journal of a block from another fork at the same slot
	if jrnl.Hash != point.Hash {
		return result, nil
	}

	for _, je := range jrnl.Entries {
		result[je.Input] = je.Entry
	}

	return result, nil
}

// multiGet splits keys into chunks and looks them up concurrently.
func (c *Cache) multiGet(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if len(keys) <= c.config.ChunkSize {
		return c.backend.MultiGet(ctx, keys)
	}

	result := make([][]byte, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for start := 0; start < len(keys); start += c.config.ChunkSize {
		end := min(start+c.config.ChunkSize, len(keys))

		g.Go(func() error {
			values, err := c.backend.MultiGet(gctx, keys[start:end])
			if err != nil {
				return err
			}

			if len(values) != end-start {
				return errors.New("backend returned wrong number of values")
			}

			copy(result[start:end], values)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

func addResolved(bc *indexer.BlockContext, input indexer.TxInput, entry cacheEntry) error {
	var output indexer.TxOutput

	if err := cbor.Unmarshal(entry.Body, &output); err != nil {
		return indexer.NewDecodeError(fmt.Errorf("could not decode output %s: %w", input, err))
	}

	bc.AddResolved(input, indexer.ResolvedOutput{Era: entry.Era, Output: &output})

	return nil
}

func encodeEntry(era uint8, output *indexer.TxOutput) ([]byte, error) {
	body, err := cbor.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("could not marshal output: %w", err)
	}

	value, err := cbor.Marshal(cacheEntry{Era: era, Body: body})
	if err != nil {
		return nil, fmt.Errorf("could not marshal cache entry: %w", err)
	}

	return value, nil
}

// blockInputs returns the inputs of every tx of block, deduplicated, in tx order.
func blockInputs(block *indexer.Block) []indexer.TxInput {
	var (
		result []indexer.TxInput
		seen   = map[indexer.TxInput]bool{}
	)

	for _, tx := range block.Txs {
		for _, input := range tx.Inputs {
			if !seen[input] {
				seen[input] = true
				result = append(result, input)
			}
		}
	}

	return result
}

func outputKey(input indexer.TxInput) []byte {
	return append([]byte{outputKeyPrefix}, input.Key()...)
}

func journalKey(slot uint64) []byte {
	return append([]byte{journalKeyPrefix}, indexer.SlotNumberToKey(slot)...)
}
