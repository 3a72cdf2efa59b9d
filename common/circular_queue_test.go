package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCircularQueue(t *testing.T) {
	t.Parallel()

	type Item struct {
		Val int
	}

	t.Run("push and pop pointer", func(t *testing.T) {
		t.Parallel()

		cq := NewCircularQueue[*Item](5)

		item, ok := cq.Pop()
		require.False(t, ok)
		require.Nil(t, item)
		require.Equal(t, 0, cq.Len())

		for i := 1; i <= 5; i++ {
			require.NoError(t, cq.Push(&Item{Val: i * 10}))
		}

		require.Error(t, cq.Push(&Item{Val: 60}))
		require.True(t, cq.IsFull())

		item, ok = cq.Pop()
		require.True(t, ok)
		require.Equal(t, &Item{Val: 10}, item)
		require.Equal(t, 4, cq.Len())

		require.NoError(t, cq.Push(&Item{Val: 60}))
		require.Error(t, cq.Push(&Item{Val: 70}))

		for i := 0; i < 5; i++ {
			item, ok := cq.Pop()
			require.True(t, ok)
			require.Equal(t, &Item{Val: 20 + i*10}, item)
			require.Equal(t, 4-i, cq.Len())
		}
	})

	t.Run("list after wrap", func(t *testing.T) {
		t.Parallel()

		cq := NewCircularQueue[Item](3)
		require.Empty(t, cq.ToList())

		for i := 0; i < 3; i++ {
			require.NoError(t, cq.Push(Item{Val: i}))
		}

		_, _ = cq.Pop()
		require.NoError(t, cq.Push(Item{Val: 3}))

		require.Equal(t, []Item{{1}, {2}, {3}}, cq.ToList())
		require.Equal(t, 1, cq.Find(func(item Item) bool { return item.Val == 2 }))
	})

	t.Run("truncate", func(t *testing.T) {
		t.Parallel()

		cq := NewCircularQueue[*Item](5)
		for i := 0; i < 5; i++ {
			require.NoError(t, cq.Push(&Item{Val: 160 + i*10}))
		}

		_, _ = cq.Pop()
		require.NoError(t, cq.Push(&Item{Val: 210}))

		cq.Truncate(2)

		require.Equal(t, []*Item{{Val: 170}, {Val: 180}}, cq.ToList())

		for i := 0; i < cq.size; i++ {
			if i >= 2 {
				require.Nil(t, cq.items[cq.index(i)])
			}
		}

		cq.Truncate(10)
		require.Equal(t, 2, cq.Len())

		cq.Truncate(0)
		require.Equal(t, 0, cq.Len())
		require.NoError(t, cq.Push(&Item{Val: 1}))
	})

	t.Run("find", func(t *testing.T) {
		t.Parallel()

		cq := NewCircularQueue[int](4)
		for i := 0; i < 4; i++ {
			require.NoError(t, cq.Push(i*2))
		}

		require.Equal(t, 2, cq.Find(func(v int) bool { return v == 4 }))
		require.Equal(t, -1, cq.Find(func(v int) bool { return v == 5 }))
	})

	t.Run("invalid size", func(t *testing.T) {
		t.Parallel()

		require.Panics(t, func() {
			_ = NewCircularQueue[int](0)
		})
	})
}
