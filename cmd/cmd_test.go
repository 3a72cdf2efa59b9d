package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ethernal-Tech/cardano-projector/config"
	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/Ethernal-Tech/cardano-projector/indexer/gouroboros"
	"github.com/Ethernal-Tech/cardano-projector/indexer/ogmios"
	"github.com/Ethernal-Tech/cardano-projector/logger"
	"github.com/Ethernal-Tech/cardano-projector/reducers"
	"github.com/Ethernal-Tech/cardano-projector/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Source.NodeAddress = "localhost:3001"
	cfg.BlockStore.Path = filepath.Join(dir, "nested", "blocks.db")
	cfg.Enrichment.Path = filepath.Join(dir, "nested", "enrichment")
	cfg.Storage.Path = filepath.Join(dir, "nested", "projection.db")
	cfg.Reducers = []reducers.Config{{Type: reducers.TypeChainTip}}

	require.NoError(t, cfg.Validate())

	return &cfg
}

func newTestLoggers() logger.LoggerContainer {
	return logger.NewLoggerContainer(logger.LoggerConfig{}, hclog.NewNullLogger())
}

func TestOpenComponents(t *testing.T) {
	t.Parallel()

	for _, backend := range []string{config.EnrichmentBackendLevelDB, config.EnrichmentBackendBadger} {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			cfg := newTestConfig(t)
			cfg.Enrichment.Backend = backend

			comps, err := openComponents(context.Background(), cfg, newTestLoggers())
			require.NoError(t, err)
			require.NotNil(t, comps.blockStore)
			require.NotNil(t, comps.cache)
			require.Len(t, comps.closers, 3)

			cursor, err := comps.store.ReadCursor()
			require.NoError(t, err)
			require.Nil(t, cursor)

			require.NoError(t, comps.close())
			require.Empty(t, comps.closers)
		})
	}
}

func TestOpenComponents_ReleasesOnFailure(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)
	cfg.Enrichment.Backend = "unknown"

	_, err := openComponents(context.Background(), cfg, newTestLoggers())
	require.ErrorContains(t, err, "unknown enrichment backend")

	// a failed open must release what was already opened
	store, err := openStore(context.Background(), cfg, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func writeTestConfigFile(t *testing.T, cfg *config.Config) string {
	t.Helper()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(`
source:
  nodeAddress: localhost:3001
blockStore:
  path: %s
enrichment:
  path: %s
storage:
  path: %s
reducers:
  - type: chain_tip
`, cfg.BlockStore.Path, cfg.Enrichment.Path, cfg.Storage.Path)), 0o600))

	return configFile
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

func applyTestUnit(t *testing.T, cfg *config.Config, point indexer.Point, commands ...crdt.Command) {
	t.Helper()

	store, err := openStore(context.Background(), cfg, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, store.ApplyBatch(context.Background(), []storage.Unit{{
		Point:    point,
		Cursor:   point,
		Commands: commands,
	}}))
	require.NoError(t, store.Close())
}

func TestCursorCommand(t *testing.T) {
	cfg := newTestConfig(t)
	point := indexer.NewPoint(42, indexer.Hash{1, 2, 3})
	configFile := writeTestConfigFile(t, cfg)

	out, err := executeRoot(t, "cursor", "--config", configFile)
	require.NoError(t, err)
	require.Equal(t, "nothing committed yet\n", out)

	applyTestUnit(t, cfg, point, crdt.NewPNCounter("count", 1))

	out, err = executeRoot(t, "cursor", "--config", configFile)
	require.NoError(t, err)
	require.Equal(t, point.String()+"\n", out)
}

func TestQueryCommand(t *testing.T) {
	cfg := newTestConfig(t)
	configFile := writeTestConfigFile(t, cfg)

	applyTestUnit(t, cfg, indexer.NewPoint(7, indexer.Hash{7}),
		crdt.NewGrowOnlySetAdd("seen", "b"),
		crdt.NewGrowOnlySetAdd("seen", "a"),
		crdt.NewTwoPhaseSetAdd("utxo", "x#0"),
		crdt.NewTwoPhaseSetAdd("utxo", "x#1"),
		crdt.NewTwoPhaseSetRemove("utxo", "x#0"),
		crdt.NewLastWriteWins("tip", []byte("7,07"), 7),
		crdt.NewPNCounter("bal", -5),
		crdt.NewSortedSetAdd("rank", "low", 1),
		crdt.NewSortedSetAdd("rank", "high", 9),
		crdt.NewAnyWriteWins("tx", []byte("7,07")),
	)

	tests := []struct {
		kind     string
		key      string
		expected string
	}{
		{queryGrowOnlySet, "seen", "a\nb\n"},
		{queryTwoPhaseSet, "utxo", "x#1\n"},
		{queryLastWriteWins, "tip", "7,07 @ 7\n"},
		{queryLastWriteWins, "missing", ""},
		{queryCounter, "bal", "-5\n"},
		{queryCounter, "missing", "0\n"},
		{querySortedSet, "rank", "high 9\nlow 1\n"},
		{queryAnyWriteWins, "tx", "7,07\n"},
	}

	for _, tt := range tests {
		out, err := executeRoot(t, "query", tt.kind, tt.key, "--config", configFile)
		require.NoError(t, err, tt.kind)
		require.Equal(t, tt.expected, out, "%s %s", tt.kind, tt.key)
	}

	_, err := executeRoot(t, "query", "hll", "seen", "--config", configFile)
	require.ErrorContains(t, err, "unknown query kind")

	_, err = executeRoot(t, "query", "counter", "--config", configFile)
	require.Error(t, err)
}

func TestOpenComponents_ComponentLogFiles(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)
	logDir := t.TempDir()
	loggers := logger.NewLoggerContainer(logger.LoggerConfig{
		Name:          "projector",
		ComponentsDir: logDir,
		AppendFile:    true,
	}, hclog.NewNullLogger())

	comps, err := openComponents(context.Background(), cfg, loggers)
	require.NoError(t, err)
	require.NoError(t, comps.close())

	for _, name := range []string{"storage", "block_store", "enrichment"} {
		require.FileExists(t, filepath.Join(logDir, name+".log"))
	}
}

func TestNewSource(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)

	decoder, newSyncer := newSource(cfg)
	require.IsType(t, gouroboros.BlockDecoder{}, decoder)
	require.IsType(t, &gouroboros.BlockSyncerImpl{}, newSyncer(nil, hclog.NewNullLogger()))

	cfg.Source.Kind = config.SourceKindOgmios
	cfg.Source.Ogmios.URL = "ws://localhost:1337"

	decoder, newSyncer = newSource(cfg)
	require.IsType(t, ogmios.BlockDecoder{}, decoder)
	require.IsType(t, &ogmios.BlockSyncerImpl{}, newSyncer(nil, hclog.NewNullLogger()))
}
