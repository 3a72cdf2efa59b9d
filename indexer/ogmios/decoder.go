package ogmios

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/Ethernal-Tech/cardano-projector/indexer"
)

// BlockDecoder parses the ogmios json block the syncer stored in the raw block.
type BlockDecoder struct{}

var _ indexer.BlockDecoder = BlockDecoder{}

func NewBlockDecoder() BlockDecoder {
	return BlockDecoder{}
}

func (BlockDecoder) Decode(raw *indexer.RawBlock) (*indexer.Block, error) {
	var ogmiosBlock ogmiosBlock

	if err := json.Unmarshal(raw.Bytes, &ogmiosBlock); err != nil {
		return nil, indexer.NewDecodeError(fmt.Errorf("block %s: %w", raw.Point, err))
	}

	block := &indexer.Block{
		Point:  raw.Point,
		Number: raw.Number,
		Era:    raw.Era,
		Txs:    make([]*indexer.Tx, len(ogmiosBlock.Transactions)),
	}

	for i, otx := range ogmiosBlock.Transactions {
		tx, err := createTx(otx, uint32(i)) //nolint:gosec
		if err != nil {
			return nil, indexer.NewDecodeError(fmt.Errorf("block %s, tx %d: %w", raw.Point, i, err))
		}

		block.Txs[i] = tx
	}

	return block, nil
}

// createTx maps an ogmios transaction. A transaction that spends its collaterals
// produces only the collateral return, indexed right after the regular outputs.
func createTx(otx *ogmiosTransaction, indx uint32) (*indexer.Tx, error) {
	hash, err := indexer.ParseHash(otx.Hash)
	if err != nil {
		return nil, fmt.Errorf("tx id: %w", err)
	}

	tx := &indexer.Tx{
		Index: indx,
		Hash:  hash,
		Fee:   otx.Fee.lovelace(),
		Valid: otx.Spends != spendsCollateral,
	}

	if otx.Metadata != nil {
		tx.Metadata = otx.Metadata.Labels
	}

	inputs := otx.Inputs
	if !tx.Valid {
		inputs = otx.Collaterals
	}

	tx.Inputs = make([]indexer.TxInput, len(inputs))
	for j, inp := range inputs {
		inputHash, err := indexer.ParseHash(inp.Transaction.Hash)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", j, err)
		}

		tx.Inputs[j] = indexer.TxInput{
			Hash:  inputHash,
			Index: inp.Index,
		}
	}

	if !tx.Valid {
		if otx.CollateralReturn != nil {
			output, err := createTxOutput(otx.CollateralReturn)
			if err != nil {
				return nil, err
			}

			tx.Outputs = make([]*indexer.TxOutput, len(otx.Outputs)+1)
			tx.Outputs[len(tx.Outputs)-1] = output
		}

		return tx, nil
	}

	tx.Outputs = make([]*indexer.TxOutput, len(otx.Outputs))

	for j, out := range otx.Outputs {
		output, err := createTxOutput(out)
		if err != nil {
			return nil, err
		}

		tx.Outputs[j] = output
	}

	return tx, nil
}

func createTxOutput(out *ogmiosTxOutput) (*indexer.TxOutput, error) {
	var tokens []indexer.TokenAmount

	datum, err := hex.DecodeString(out.Datum)
	if err != nil {
		return nil, fmt.Errorf("invalid datum: %w", err)
	}

	if len(out.Value) > 1 {
		tokens = make([]indexer.TokenAmount, 0, len(out.Value)-1)

		for _, policyID := range slices.Sorted(maps.Keys(out.Value)) {
			if policyID == adaPolicyID {
				continue
			}

			assets := out.Value[policyID]

			for _, name := range slices.Sorted(maps.Keys(assets)) {
				tokens = append(tokens, indexer.TokenAmount{
					PolicyID: policyID,
					Name:     name,
					Amount:   assets[name],
				})
			}
		}
	}

	output := &indexer.TxOutput{
		Address: out.Address,
		Amount:  out.Value.lovelace(),
		Tokens:  tokens,
	}

	if len(datum) > 0 {
		output.Datum = datum
	}

	if out.DatumHash != "" {
		output.DatumHash, err = indexer.ParseHash(out.DatumHash)
		if err != nil {
			return nil, fmt.Errorf("datum hash: %w", err)
		}
	}

	return output, nil
}
