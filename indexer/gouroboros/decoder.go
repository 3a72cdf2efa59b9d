package gouroboros

import (
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/blinklabs-io/gouroboros/ledger"
	"github.com/blinklabs-io/gouroboros/ledger/common"
)

// BlockDecoder parses block cbor fetched by the block syncer.
type BlockDecoder struct{}

var _ indexer.BlockDecoder = BlockDecoder{}

func NewBlockDecoder() BlockDecoder {
	return BlockDecoder{}
}

func (BlockDecoder) Decode(raw *indexer.RawBlock) (*indexer.Block, error) {
	ledgerBlock, err := ledger.NewBlockFromCbor(raw.Type, raw.Bytes)
	if err != nil {
		return nil, indexer.NewDecodeError(fmt.Errorf("block %s: %w", raw.Point, err))
	}

	ledgerTxs := ledgerBlock.Transactions()
	block := &indexer.Block{
		Point:  raw.Point,
		Number: raw.Number,
		Era:    raw.Era,
		Txs:    make([]*indexer.Tx, len(ledgerTxs)),
	}

	for i, ledgerTx := range ledgerTxs {
		block.Txs[i] = createTx(ledgerTx, uint32(i)) //nolint:gosec
	}

	return block, nil
}

// createTx maps a ledger transaction. A phase-2 invalid transaction consumes its
// collateral and produces only the collateral return output.
func createTx(ledgerTx ledger.Transaction, indx uint32) *indexer.Tx {
	tx := &indexer.Tx{
		Index: indx,
		Hash:  indexer.NewHashFromHexString(ledgerTx.Hash()),
		Fee:   ledgerTx.Fee(),
		Valid: ledgerTx.IsValid(),
	}

	if metadata := ledgerTx.Metadata(); metadata != nil {
		tx.Metadata = metadata.Cbor()
	}

	inputs := ledgerTx.Inputs()
	if !tx.Valid {
		inputs = ledgerTx.Collateral()
	}

	tx.Inputs = make([]indexer.TxInput, len(inputs))
	for j, inp := range inputs {
		tx.Inputs[j] = indexer.TxInput{
			Hash:  indexer.Hash(inp.Id()),
			Index: inp.Index(),
		}
	}

	if !tx.Valid {
		// collateral return is indexed right after the regular outputs
		if collateralReturn := ledgerTx.CollateralReturn(); collateralReturn != nil {
			tx.Outputs = make([]*indexer.TxOutput, len(ledgerTx.Outputs())+1)
			tx.Outputs[len(tx.Outputs)-1] = createTxOutput(collateralReturn)
		}

		return tx
	}

	outputs := ledgerTx.Outputs()
	tx.Outputs = make([]*indexer.TxOutput, len(outputs))

	for j, out := range outputs {
		tx.Outputs[j] = createTxOutput(out)
	}

	return tx
}

func createTxOutput(txOut common.TransactionOutput) *indexer.TxOutput {
	var tokens []indexer.TokenAmount

	if assets := txOut.Assets(); assets != nil {
		policies := assets.Policies()
		tokens = make([]indexer.TokenAmount, 0, len(policies))

		for _, policyIDRaw := range policies {
			policyID := policyIDRaw.String()

			for _, asset := range assets.Assets(policyIDRaw) {
				tokens = append(tokens, indexer.TokenAmount{
					PolicyID: policyID,
					Name:     string(asset),
					Amount:   assets.Asset(policyIDRaw, asset),
				})
			}
		}
	}

	var (
		datum     []byte
		datumHash indexer.Hash
	)

	if tmp := txOut.Datum(); tmp != nil {
		datum = tmp.Cbor()
	}

	if tmp := txOut.DatumHash(); tmp != nil {
		datumHash = indexer.Hash(tmp.Bytes())
	}

	return &indexer.TxOutput{
		Address:   txOut.Address().String(),
		Amount:    txOut.Amount(),
		Tokens:    tokens,
		Datum:     datum,
		DatumHash: datumHash,
	}
}
