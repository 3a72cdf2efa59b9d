package indexer

import (
	infracommon "github.com/Ethernal-Tech/cardano-projector/common"
	"github.com/hashicorp/go-hclog"
)

// RollbackScope tells whether a rollback could be handled by the buffer alone.
type RollbackScope uint8

const (
	// RollbackInBuffer means only unconfirmed candidates were dropped
	RollbackInBuffer RollbackScope = iota + 1
	// RollbackOutOfScope means already released blocks must be undone downstream
	RollbackOutOfScope
)

func (rs RollbackScope) String() string {
	if rs == RollbackInBuffer {
		return "inBuffer"
	}

	return "outOfScope"
}

// ConfirmationBuffer defers releasing a block until minDepth newer blocks arrived
// after it. Candidates are kept in arrival order and are never reordered.
type ConfirmationBuffer struct {
	minDepth uint
	// candidates holds at most minDepth blocks between calls
	candidates infracommon.CircularQueue[RawBlock]
	// latest released point, nil until something was released or the buffer was reset
	latestReleased *Point
	logger         hclog.Logger
}

func NewConfirmationBuffer(minDepth uint, logger hclog.Logger) *ConfirmationBuffer {
	return &ConfirmationBuffer{
		minDepth:   minDepth,
		candidates: infracommon.NewCircularQueue[RawBlock](int(minDepth) + 1), //nolint:gosec
		logger:     logger,
	}
}

// ObserveForward appends block as the newest candidate and returns the candidates
// that are now buried under at least minDepth newer ones, oldest first.
func (cb *ConfirmationBuffer) ObserveForward(block RawBlock) (released []RawBlock) {
	if cb.candidates.IsFull() {
		// can not happen: the queue never stays full between calls
		panic("confirmation buffer is full") //nolint:gocritic
	}

	_ = cb.candidates.Push(block)

	for uint(cb.candidates.Len()) > cb.minDepth { //nolint:gosec
		confirmed, _ := cb.candidates.Pop()
		point := confirmed.Point
		cb.latestReleased = &point

		released = append(released, confirmed)
	}

	return released
}

// ObserveBackward handles a rollback to point. Rollbacks to a held candidate, or to the
// latest released point while candidates are held, are absorbed in the buffer.
// Everything else is out of scope and the caller has to undo released blocks.
func (cb *ConfirmationBuffer) ObserveBackward(point Point) RollbackScope {
	if cb.candidates.Len() == 0 {
		cb.logger.Debug("Roll backward with empty buffer", "point", point)

		return RollbackOutOfScope
	}

	// linear is ok, there will be small number of candidates in memory
	indx := cb.candidates.Find(func(block RawBlock) bool {
		return block.Point.Equal(point)
	})
	if indx != -1 {
		cb.logger.Debug("Roll backward to candidate", "indx", indx, "point", point,
			"dropped", cb.candidates.Len()-indx-1)

		cb.candidates.Truncate(indx + 1)

		return RollbackInBuffer
	}

	cb.candidates.Truncate(0)

	if cb.latestReleased != nil && cb.latestReleased.Equal(point) {
		cb.logger.Debug("Roll backward to latest released block", "point", point)

		return RollbackInBuffer
	}

	cb.logger.Info("Roll backward beyond confirmation buffer", "point", point)

	return RollbackOutOfScope
}

// Reset drops every candidate and treats point as the latest released one.
func (cb *ConfirmationBuffer) Reset(point Point) {
	cb.candidates.Truncate(0)
	cb.latestReleased = &point
}

func (cb *ConfirmationBuffer) LatestReleased() *Point {
	return cb.latestReleased
}

func (cb *ConfirmationBuffer) Candidates() []RawBlock {
	return cb.candidates.ToList()
}

func (cb *ConfirmationBuffer) Len() int {
	return cb.candidates.Len()
}
