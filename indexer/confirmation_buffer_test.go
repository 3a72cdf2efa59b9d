package indexer

import (
	"math/rand"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func newTestRawBlock(slot uint64, fork byte) RawBlock {
	return RawBlock{
		Point:  NewPoint(slot, Hash{byte(slot), byte(slot >> 8), fork, 1}),
		Number: slot,
		Bytes:  []byte{byte(slot)},
	}
}

func releasedSlots(blocks []RawBlock) (result []uint64) {
	for _, b := range blocks {
		result = append(result, b.Point.Slot)
	}

	return result
}

func TestConfirmationBuffer_ReleaseDepth(t *testing.T) {
	t.Parallel()

	t.Run("min depth two", func(t *testing.T) {
		t.Parallel()

		cb := NewConfirmationBuffer(2, hclog.NewNullLogger())

		require.Empty(t, cb.ObserveForward(newTestRawBlock(10, 0)))
		require.Empty(t, cb.ObserveForward(newTestRawBlock(11, 0)))
		require.Equal(t, []uint64{10}, releasedSlots(cb.ObserveForward(newTestRawBlock(12, 0))))
		require.Equal(t, []uint64{11}, releasedSlots(cb.ObserveForward(newTestRawBlock(13, 0))))
		require.Equal(t, NewPoint(11, newTestRawBlock(11, 0).Point.Hash), *cb.LatestReleased())
		require.Equal(t, 2, cb.Len())
	})

	t.Run("min depth zero releases immediately", func(t *testing.T) {
		t.Parallel()

		cb := NewConfirmationBuffer(0, hclog.NewNullLogger())

		require.Equal(t, []uint64{5}, releasedSlots(cb.ObserveForward(newTestRawBlock(5, 0))))
		require.Equal(t, []uint64{6}, releasedSlots(cb.ObserveForward(newTestRawBlock(6, 0))))
		require.Equal(t, 0, cb.Len())
	})
}

func TestConfirmationBuffer_RollbackBeforeRelease(t *testing.T) {
	t.Parallel()

	cb := NewConfirmationBuffer(2, hclog.NewNullLogger())

	require.Empty(t, cb.ObserveForward(newTestRawBlock(10, 0)))
	require.Empty(t, cb.ObserveForward(newTestRawBlock(11, 0)))

	// rollback to a held candidate has no downstream effect
	require.Equal(t, RollbackInBuffer, cb.ObserveBackward(newTestRawBlock(11, 0).Point))
	require.Equal(t, 2, cb.Len())

	require.Equal(t, RollbackInBuffer, cb.ObserveBackward(newTestRawBlock(10, 0).Point))
	require.Equal(t, 1, cb.Len())

	// forked block 11 replaces the dropped one
	require.Empty(t, cb.ObserveForward(newTestRawBlock(11, 1)))

	released := cb.ObserveForward(newTestRawBlock(12, 1))
	require.Equal(t, []uint64{10}, releasedSlots(released))

	released = cb.ObserveForward(newTestRawBlock(13, 1))
	require.Len(t, released, 1)
	require.Equal(t, newTestRawBlock(11, 1).Point, released[0].Point)
}

func TestConfirmationBuffer_RollbackOutOfScope(t *testing.T) {
	t.Parallel()

	t.Run("empty buffer", func(t *testing.T) {
		t.Parallel()

		cb := NewConfirmationBuffer(3, hclog.NewNullLogger())

		require.Equal(t, RollbackOutOfScope, cb.ObserveBackward(Point{}))

		cb.Reset(newTestRawBlock(4, 0).Point)
		require.Equal(t, RollbackOutOfScope, cb.ObserveBackward(newTestRawBlock(4, 0).Point))
	})

	t.Run("older than held candidates", func(t *testing.T) {
		t.Parallel()

		cb := NewConfirmationBuffer(1, hclog.NewNullLogger())

		for slot := uint64(1); slot <= 4; slot++ {
			cb.ObserveForward(newTestRawBlock(slot, 0))
		}

		require.Equal(t, RollbackOutOfScope, cb.ObserveBackward(newTestRawBlock(2, 0).Point))
		require.Equal(t, 0, cb.Len())
	})

	t.Run("latest released with candidates", func(t *testing.T) {
		t.Parallel()

		cb := NewConfirmationBuffer(2, hclog.NewNullLogger())

		for slot := uint64(1); slot <= 4; slot++ {
			cb.ObserveForward(newTestRawBlock(slot, 0))
		}

		require.Equal(t, RollbackInBuffer, cb.ObserveBackward(newTestRawBlock(2, 0).Point))
		require.Equal(t, 0, cb.Len())
	})
}

// TestConfirmationBuffer_RandomSequences checks on random forward/backward sequences that
// no point is released twice, no point rolled back as a candidate is ever released
// and every released point has at least minDepth newer blocks on the chain.
func TestConfirmationBuffer_RandomSequences(t *testing.T) {
	t.Parallel()

	for depth := uint(0); depth <= 5; depth++ {
		rnd := rand.New(rand.NewSource(int64(depth) + 17)) //nolint:gosec
		cb := NewConfirmationBuffer(depth, hclog.NewNullLogger())

		var (
			chain      []Point
			nextSlot   = uint64(1)
			released   = map[Point]bool{}
			rolledBack = map[Point]bool{}
		)

		for step := 0; step < 2000; step++ {
			if len(chain) == 0 || rnd.Intn(5) != 0 {
				block := RawBlock{Point: NewPoint(nextSlot, Hash{byte(rnd.Intn(256)), byte(nextSlot), byte(nextSlot >> 8), 7})}
				nextSlot += uint64(rnd.Intn(3)) + 1
				chain = append(chain, block.Point)

				for _, rel := range cb.ObserveForward(block) {
					require.False(t, released[rel.Point], "released twice %s", rel.Point)
					require.False(t, rolledBack[rel.Point], "released after rollback %s", rel.Point)

					indx := -1

					for i, p := range chain {
						if p.Equal(rel.Point) {
							indx = i
						}
					}

					require.NotEqual(t, -1, indx)
					require.GreaterOrEqual(t, len(chain)-1-indx, int(depth)) //nolint:gosec

					released[rel.Point] = true
				}

				continue
			}

			indx := rnd.Intn(len(chain))
			target := chain[indx]
			anyReleasedAfter := false

			for _, p := range chain[indx+1:] {
				if released[p] {
					anyReleasedAfter = true
				} else {
					rolledBack[p] = true
				}
			}

			scope := cb.ObserveBackward(target)
			if anyReleasedAfter {
				require.Equal(t, RollbackOutOfScope, scope)
			}

			if scope == RollbackOutOfScope {
				cb.Reset(target)
			}

			chain = chain[:indx+1]
		}
	}
}
