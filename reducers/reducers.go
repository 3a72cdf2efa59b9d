package reducers

import (
	"errors"
	"fmt"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/hashicorp/go-hclog"
)

type Type string

const (
	TypeUtxoByAddress    Type = "utxo_by_address"
	TypeBalanceByAddress Type = "balance_by_address"
	TypeTxCountByAddress Type = "tx_count_by_address"
	TypePointByTx        Type = "point_by_tx"
	TypeChainTip         Type = "chain_tip"
	TypeAddressesSeen    Type = "addresses_seen"
)

// Reducer turns a block and the outputs its inputs spent into convergent commands.
// With undo set it returns the commands that compensate an earlier Reduce of the same block.
type Reducer interface {
	Name() string
	Reduce(block *indexer.Block, bc *indexer.BlockContext, undo bool) ([]crdt.Command, error)
}

// Config is one reducer entry of the configuration, Type selects the implementation.
type Config struct {
	Type Type `yaml:"type"`
	// prefix of every key the reducer writes, defaults to the type name
	KeyPrefix string `yaml:"keyPrefix"`
	// when not empty only these addresses are reduced
	Addresses []string `yaml:"addresses"`
}

func (c Config) Validate() error {
	if _, exists := factories[c.Type]; !exists {
		return fmt.Errorf("unknown reducer type: %s", c.Type)
	}

	return nil
}

type factory func(base baseReducer) Reducer

var factories = map[Type]factory{
	TypeUtxoByAddress:    func(base baseReducer) Reducer { return &UtxoByAddress{baseReducer: base} },
	TypeBalanceByAddress: func(base baseReducer) Reducer { return &BalanceByAddress{baseReducer: base} },
	TypeTxCountByAddress: func(base baseReducer) Reducer { return &TxCountByAddress{baseReducer: base} },
	TypePointByTx:        func(base baseReducer) Reducer { return &PointByTx{baseReducer: base} },
	TypeChainTip:         func(base baseReducer) Reducer { return &ChainTip{baseReducer: base} },
	TypeAddressesSeen:    func(base baseReducer) Reducer { return &AddressesSeen{baseReducer: base} },
}

// Build resolves every configured reducer. Key prefixes must be unique.
func Build(configs []Config, logger hclog.Logger) ([]Reducer, error) {
	if len(configs) == 0 {
		return nil, errors.New("no reducers configured")
	}

	result := make([]Reducer, 0, len(configs))
	prefixes := map[string]bool{}

	for _, config := range configs {
		if err := config.Validate(); err != nil {
			return nil, err
		}

		prefix := config.KeyPrefix
		if prefix == "" {
			prefix = string(config.Type)
		}

		if prefixes[prefix] {
			return nil, fmt.Errorf("duplicate reducer key prefix: %s", prefix)
		}

		prefixes[prefix] = true

		var addresses map[string]bool

		if len(config.Addresses) > 0 {
			addresses = make(map[string]bool, len(config.Addresses))
			for _, addr := range config.Addresses {
				addresses[addr] = true
			}
		}

		reducer := factories[config.Type](baseReducer{
			prefix:    prefix,
			addresses: addresses,
		})

		logger.Debug("Reducer registered", "type", config.Type, "prefix", prefix)

		result = append(result, reducer)
	}

	return result, nil
}

// ReduceAll runs every reducer over the block and concatenates their commands in reducer order.
func ReduceAll(
	reducers []Reducer, block *indexer.Block, bc *indexer.BlockContext, undo bool,
) ([]crdt.Command, error) {
	var result []crdt.Command

	for _, reducer := range reducers {
		commands, err := reducer.Reduce(block, bc, undo)
		if err != nil {
			return nil, fmt.Errorf("reducer %s failed for block %s: %w", reducer.Name(), block.Point, err)
		}

		result = append(result, commands...)
	}

	return result, nil
}

type baseReducer struct {
	prefix    string
	addresses map[string]bool
}

func (br baseReducer) Name() string {
	return br.prefix
}

func (br baseReducer) key(parts ...string) string {
	key := br.prefix
	for _, part := range parts {
		key += "." + part
	}

	return key
}

func (br baseReducer) isTracked(address string) bool {
	return br.addresses == nil || br.addresses[address]
}

// spentOutput is a resolved output consumed by a tx input.
type spentOutput struct {
	input  indexer.TxInput
	output *indexer.TxOutput
}

func resolvedInputs(tx *indexer.Tx, bc *indexer.BlockContext) (result []spentOutput) {
	for _, input := range tx.Inputs {
		if output, exists := bc.Find(input); exists {
			result = append(result, spentOutput{input: input, output: output})
		}
	}

	return result
}

// validateTx rejects outputs without an address. Nil outputs are slots a failed
// transaction did not produce.
func validateTx(tx *indexer.Tx) error {
	for idx, output := range tx.Outputs {
		if output != nil && output.Address == "" {
			return indexer.NewDomainError(fmt.Errorf("tx %s has invalid output at %d", tx.Hash, idx))
		}
	}

	return nil
}
