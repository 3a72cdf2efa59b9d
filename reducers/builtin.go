package reducers

import (
	"fmt"
	"math"
	"sort"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
)

// UtxoByAddress keeps the unspent output references of every address in a two phase set.
// Spent references stay tombstoned after an undo.
type UtxoByAddress struct {
	baseReducer
}

func (r *UtxoByAddress) Reduce(block *indexer.Block, bc *indexer.BlockContext, undo bool) ([]crdt.Command, error) {
	var result []crdt.Command

	for _, tx := range block.Txs {
		if err := validateTx(tx); err != nil {
			return nil, err
		}

		if !undo {
			for _, spent := range resolvedInputs(tx, bc) {
				if r.isTracked(spent.output.Address) {
					result = append(result, crdt.NewTwoPhaseSetRemove(r.key(spent.output.Address), spent.input.String()))
				}
			}
		}

		for idx, output := range tx.Outputs {
			if output == nil || !r.isTracked(output.Address) {
				continue
			}

			ref := indexer.TxInput{Hash: tx.Hash, Index: uint32(idx)}.String() //nolint:gosec
			if undo {
				result = append(result, crdt.NewTwoPhaseSetRemove(r.key(output.Address), ref))
			} else {
				result = append(result, crdt.NewTwoPhaseSetAdd(r.key(output.Address), ref))
			}
		}
	}

	return result, nil
}

// BalanceByAddress accumulates lovelace per address.
type BalanceByAddress struct {
	baseReducer
}

func (r *BalanceByAddress) Reduce(block *indexer.Block, bc *indexer.BlockContext, undo bool) ([]crdt.Command, error) {
	deltas := map[string]int64{}

	for _, tx := range block.Txs {
		if err := validateTx(tx); err != nil {
			return nil, err
		}

		for _, output := range tx.Outputs {
			if output == nil {
				continue
			}

			if err := addDelta(deltas, output.Address, output.Amount, 1); err != nil {
				return nil, err
			}
		}

		for _, spent := range resolvedInputs(tx, bc) {
			if err := addDelta(deltas, spent.output.Address, spent.output.Amount, -1); err != nil {
				return nil, err
			}
		}
	}

	result := make([]crdt.Command, 0, len(deltas))

	for _, address := range sortedKeys(deltas) {
		delta := deltas[address]
		if delta == 0 || !r.isTracked(address) {
			continue
		}

		if undo {
			delta = -delta
		}

		result = append(result, crdt.NewPNCounter(r.key(address), delta))
	}

	return result, nil
}

// TxCountByAddress ranks addresses by the number of txs they took part in.
type TxCountByAddress struct {
	baseReducer
}

func (r *TxCountByAddress) Reduce(block *indexer.Block, bc *indexer.BlockContext, undo bool) ([]crdt.Command, error) {
	counts := map[string]int64{}

	for _, tx := range block.Txs {
		if err := validateTx(tx); err != nil {
			return nil, err
		}

		involved := map[string]bool{}

		for _, output := range tx.Outputs {
			if output != nil {
				involved[output.Address] = true
			}
		}

		for _, spent := range resolvedInputs(tx, bc) {
			involved[spent.output.Address] = true
		}

		for address := range involved {
			counts[address]++
		}
	}

	result := make([]crdt.Command, 0, len(counts))

	for _, address := range sortedKeys(counts) {
		if !r.isTracked(address) {
			continue
		}

		if undo {
			result = append(result, crdt.NewSortedSetRemove(r.key(), address, counts[address]))
		} else {
			result = append(result, crdt.NewSortedSetAdd(r.key(), address, counts[address]))
		}
	}

	return result, nil
}

// PointByTx records the block point every tx was included in.
type PointByTx struct {
	baseReducer
}

func (r *PointByTx) Reduce(block *indexer.Block, _ *indexer.BlockContext, undo bool) ([]crdt.Command, error) {
	if undo {
		return nil, nil
	}

	result := make([]crdt.Command, 0, len(block.Txs))

	for _, tx := range block.Txs {
		result = append(result, crdt.NewAnyWriteWins(r.key(tx.Hash.String()), []byte(block.Point.String())))
	}

	return result, nil
}

// ChainTip keeps the latest reduced point. Undo emits nothing: the write is stamped
// with the slot, so no older point can replace it. After a rollback the tip keeps
// naming the undone block until a block past its slot is reduced.
type ChainTip struct {
	baseReducer
}

func (r *ChainTip) Reduce(block *indexer.Block, _ *indexer.BlockContext, undo bool) ([]crdt.Command, error) {
	if undo {
		return nil, nil
	}

	return []crdt.Command{
		crdt.NewLastWriteWins(r.key(), []byte(block.Point.String()), block.Point.Slot),
	}, nil
}

// AddressesSeen collects every address that ever received an output.
type AddressesSeen struct {
	baseReducer
}

func (r *AddressesSeen) Reduce(block *indexer.Block, _ *indexer.BlockContext, undo bool) ([]crdt.Command, error) {
	if undo {
		return nil, nil
	}

	seen := map[string]bool{}

	for _, tx := range block.Txs {
		if err := validateTx(tx); err != nil {
			return nil, err
		}

		for _, output := range tx.Outputs {
			if output != nil && r.isTracked(output.Address) {
				seen[output.Address] = true
			}
		}
	}

	result := make([]crdt.Command, 0, len(seen))

	for _, address := range sortedKeys(seen) {
		result = append(result, crdt.NewGrowOnlySetAdd(r.key(), address))
	}

	return result, nil
}

func addDelta(deltas map[string]int64, address string, amount uint64, sign int64) error {
	if amount > math.MaxInt64 {
		return indexer.NewDomainError(fmt.Errorf("amount overflow for %s: %d", address, amount))
	}

	deltas[address] += sign * int64(amount)

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
