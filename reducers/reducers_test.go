package reducers

import (
	"testing"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

var (
	testSpent = indexer.TxInput{Hash: indexer.Hash{1}, Index: 0}
	testMiss  = indexer.TxInput{Hash: indexer.Hash{2}, Index: 5}
)

func newTestBlockWithContext() (*indexer.Block, *indexer.BlockContext) {
	tx := &indexer.Tx{
		Hash:   indexer.Hash{3},
		Valid:  true,
		Inputs: []indexer.TxInput{testSpent, testMiss},
		Outputs: []*indexer.TxOutput{
			{Address: "addr_b", Amount: 60},
			{Address: "addr_a", Amount: 30},
		},
	}

	bc := indexer.NewBlockContext()
	bc.AddResolved(testSpent, indexer.ResolvedOutput{Era: 6, Output: &indexer.TxOutput{Address: "addr_a", Amount: 100}})
	bc.AddMiss(testMiss)

	return &indexer.Block{
		Point: indexer.NewPoint(50, indexer.Hash{50}),
		Era:   6,
		Txs:   []*indexer.Tx{tx},
	}, bc
}

func TestBuild(t *testing.T) {
	t.Parallel()

	reducers, err := Build([]Config{
		{Type: TypeUtxoByAddress},
		{Type: TypeBalanceByAddress, KeyPrefix: "bal"},
	}, hclog.NewNullLogger())
	require.NoError(t, err)
	require.Len(t, reducers, 2)
	require.Equal(t, "utxo_by_address", reducers[0].Name())
	require.Equal(t, "bal", reducers[1].Name())
	require.IsType(t, &BalanceByAddress{}, reducers[1])

	_, err = Build(nil, hclog.NewNullLogger())
	require.Error(t, err)

	_, err = Build([]Config{{Type: "unknown"}}, hclog.NewNullLogger())
	require.ErrorContains(t, err, "unknown reducer type")

	_, err = Build([]Config{{Type: TypeChainTip, KeyPrefix: "x"}, {Type: TypePointByTx, KeyPrefix: "x"}}, hclog.NewNullLogger())
	require.ErrorContains(t, err, "duplicate")
}

func TestUtxoByAddress(t *testing.T) {
	t.Parallel()

	block, bc := newTestBlockWithContext()
	reducers, err := Build([]Config{{Type: TypeUtxoByAddress, KeyPrefix: "utxo"}}, hclog.NewNullLogger())
	require.NoError(t, err)

	commands, err := reducers[0].Reduce(block, bc, false)
	require.NoError(t, err)
	require.Equal(t, []crdt.Command{
		crdt.NewTwoPhaseSetRemove("utxo.addr_a", testSpent.String()),
		crdt.NewTwoPhaseSetAdd("utxo.addr_b", block.Txs[0].Hash.String()+"#0"),
		crdt.NewTwoPhaseSetAdd("utxo.addr_a", block.Txs[0].Hash.String()+"#1"),
	}, commands)

	commands, err = reducers[0].Reduce(block, bc, true)
	require.NoError(t, err)
	require.Equal(t, []crdt.Command{
		crdt.NewTwoPhaseSetRemove("utxo.addr_b", block.Txs[0].Hash.String()+"#0"),
		crdt.NewTwoPhaseSetRemove("utxo.addr_a", block.Txs[0].Hash.String()+"#1"),
	}, commands)
}

func TestBalanceByAddress(t *testing.T) {
	t.Parallel()

	block, bc := newTestBlockWithContext()
	reducers, err := Build([]Config{{Type: TypeBalanceByAddress, KeyPrefix: "bal"}}, hclog.NewNullLogger())
	require.NoError(t, err)

	commands, err := reducers[0].Reduce(block, bc, false)
	require.NoError(t, err)
	require.Equal(t, []crdt.Command{
		crdt.NewPNCounter("bal.addr_a", -70),
		crdt.NewPNCounter("bal.addr_b", 60),
	}, commands)

	commands, err = reducers[0].Reduce(block, bc, true)
	require.NoError(t, err)
	require.Equal(t, []crdt.Command{
		crdt.NewPNCounter("bal.addr_a", 70),
		crdt.NewPNCounter("bal.addr_b", -60),
	}, commands)
}

func TestTxCountByAddress_Filtered(t *testing.T) {
	t.Parallel()

	block, bc := newTestBlockWithContext()
	reducers, err := Build([]Config{
		{Type: TypeTxCountByAddress, KeyPrefix: "cnt", Addresses: []string{"addr_a"}},
	}, hclog.NewNullLogger())
	require.NoError(t, err)

	commands, err := reducers[0].Reduce(block, bc, false)
	require.NoError(t, err)
	require.Equal(t, []crdt.Command{crdt.NewSortedSetAdd("cnt", "addr_a", 1)}, commands)

	commands, err = reducers[0].Reduce(block, bc, true)
	require.NoError(t, err)
	require.Equal(t, []crdt.Command{crdt.NewSortedSetRemove("cnt", "addr_a", 1)}, commands)
}

func TestReduceAll(t *testing.T) {
	t.Parallel()

	block, bc := newTestBlockWithContext()
	reducers, err := Build([]Config{
		{Type: TypeChainTip, KeyPrefix: "tip"},
		{Type: TypePointByTx, KeyPrefix: "tx"},
		{Type: TypeAddressesSeen, KeyPrefix: "seen"},
	}, hclog.NewNullLogger())
	require.NoError(t, err)

	commands, err := ReduceAll(reducers, block, bc, false)
	require.NoError(t, err)
	require.Equal(t, []crdt.Command{
		crdt.NewLastWriteWins("tip", []byte(block.Point.String()), 50),
		crdt.NewAnyWriteWins("tx."+block.Txs[0].Hash.String(), []byte(block.Point.String())),
		crdt.NewGrowOnlySetAdd("seen", "addr_a"),
		crdt.NewGrowOnlySetAdd("seen", "addr_b"),
	}, commands)

	commands, err = ReduceAll(reducers, block, bc, true)
	require.NoError(t, err)
	require.Empty(t, commands)

	block.Txs[0].Outputs = append(block.Txs[0].Outputs, &indexer.TxOutput{})

	_, err = ReduceAll(reducers, block, bc, false)
	require.ErrorIs(t, err, indexer.ErrDomain)
}
