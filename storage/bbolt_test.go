package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func newTestBBoltStore(t *testing.T) *BBoltStore {
	t.Helper()

	store, err := NewBBoltStore(filepath.Join(t.TempDir(), "store.db"), hclog.NewNullLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestBBoltStore_Reopen(t *testing.T) {
	t.Parallel()

	filePath := filepath.Join(t.TempDir(), "store.db")

	store, err := NewBBoltStore(filePath, hclog.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, store.ApplyBatch(context.Background(), testUnits(5)))
	require.NoError(t, store.Close())

	store, err = NewBBoltStore(filePath, hclog.NewNullLogger())
	require.NoError(t, err)

	defer store.Close()

	snap := takeSnapshot(t, store)
	require.Equal(t, testPoint(5), *snap.cursor)
	require.Equal(t, int64(15), snap.balance)
}
