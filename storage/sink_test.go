package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) ReadCursor() (*indexer.Point, error) {
	args := m.Called()

	return args.Get(0).(*indexer.Point), args.Error(1) //nolint:forcetypeassert
}

func (m *StoreMock) ApplyBatch(ctx context.Context, units []Unit) error {
	return m.Called(ctx, units).Error(0)
}

func (m *StoreMock) Close() error {
	return m.Called().Error(0)
}

var _ Store = (*StoreMock)(nil)

func blockMessages(slot uint64, undo bool, commands ...crdt.Command) []crdt.Message {
	point := testPoint(slot)
	result := []crdt.Message{crdt.NewBlockStarting(point, undo)}

	for _, cmd := range commands {
		result = append(result, crdt.NewCommandMessage(point, undo, cmd))
	}

	return append(result, crdt.NewBlockFinished(point, undo, point))
}

func TestSink_BatchesCompleteUnits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storeMock := &StoreMock{}
	sink := NewSink(storeMock, 3, hclog.NewNullLogger())

	msgs := append(blockMessages(1, false, crdt.NewPNCounter("a", 1), crdt.NewPNCounter("b", 1)),
		blockMessages(2, false, crdt.NewPNCounter("a", 2))...)

	for _, msg := range msgs[:len(msgs)-1] {
		require.NoError(t, sink.Process(msg))
	}

	// unit of slot 2 is not finished yet
	require.True(t, sink.HasPending())
	require.False(t, sink.ShouldFlush())

	require.NoError(t, sink.Process(msgs[len(msgs)-1]))
	require.True(t, sink.ShouldFlush())

	errStore := errors.New("store down")

	storeMock.On("ApplyBatch", ctx, mock.Anything).Return(errStore).Once()
	storeMock.On("ApplyBatch", ctx, mock.MatchedBy(func(units []Unit) bool {
		return len(units) == 2 && units[0].Point == testPoint(1) && len(units[1].Commands) == 1 &&
			units[1].Cursor == testPoint(2)
	})).Return(nil).Once()

	_, err := sink.Flush(ctx)
	require.ErrorIs(t, err, errStore)
	require.True(t, sink.HasPending())

	units, err := sink.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.False(t, sink.HasPending())

	units, err = sink.Flush(ctx)
	require.NoError(t, err)
	require.Nil(t, units)

	storeMock.AssertExpectations(t)
}

func TestSink_InvalidFraming(t *testing.T) {
	t.Parallel()

	sink := NewSink(&StoreMock{}, 0, hclog.NewNullLogger())
	point := testPoint(5)

	require.Error(t, sink.Process(crdt.NewCommandMessage(point, false, crdt.NewPNCounter("a", 1))))
	require.Error(t, sink.Process(crdt.NewBlockFinished(point, false, point)))

	require.NoError(t, sink.Process(crdt.NewBlockStarting(point, false)))
	require.Error(t, sink.Process(crdt.NewBlockStarting(testPoint(6), false)))
	require.Error(t, sink.Process(crdt.NewCommandMessage(testPoint(6), false, crdt.NewPNCounter("a", 1))))
	require.Error(t, sink.Process(crdt.NewCommandMessage(point, false, crdt.NewPNCounter("", 1))))
	require.Error(t, sink.Process(crdt.Message{}))
	require.NoError(t, sink.Process(crdt.NewBlockFinished(point, false, point)))

	// empty units still move the cursor
	require.True(t, sink.HasPending())
	require.False(t, sink.ShouldFlush())
}
