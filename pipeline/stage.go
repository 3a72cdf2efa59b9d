package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

type StageState int32

const (
	StageStarting StageState = iota
	StageWorking
	StageIdle
	StageStalled
	StageFailed
	StageDone
)

var stageStateNames = []string{"starting", "working", "idle", "stalled", "failed", "done"}

func (s StageState) String() string {
	if int(s) < len(stageStateNames) {
		return stageStateNames[s]
	}

	return "unknown"
}

// Stage is the runtime state of one pipeline worker. The worker goroutine is the only
// writer, the monitor reads it concurrently.
type Stage struct {
	name        string
	state       atomic.Int32
	changedAt   atomic.Int64
	idleTimeout time.Duration
	tickTimeout time.Duration
	logger      hclog.Logger
}

func newStage(name string, idleTimeout, tickTimeout time.Duration, logger hclog.Logger) *Stage {
	s := &Stage{
		name:        name,
		idleTimeout: idleTimeout,
		tickTimeout: tickTimeout,
		logger:      logger.Named(name),
	}

	s.setState(StageStarting)

	return s
}

func (s *Stage) Name() string {
	return s.name
}

func (s *Stage) State() StageState {
	return StageState(s.state.Load())
}

// Since returns how long the stage has been in its current state.
func (s *Stage) Since() time.Duration {
	return time.Since(time.Unix(0, s.changedAt.Load()))
}

func (s *Stage) setState(state StageState) {
	if StageState(s.state.Swap(int32(state))) != state || s.changedAt.Load() == 0 {
		s.changedAt.Store(time.Now().UnixNano())
	}
}

// receive waits for the next item of ch. The stage is reported idle while nothing
// arrives for longer than the idle timeout. Returns false once ctx is done or ch is closed.
func receive[T any](ctx context.Context, s *Stage, ch <-chan T) (item T, ok bool) {
	select {
	case item, ok = <-ch:
		if ok {
			s.setState(StageWorking)
		}

		return item, ok
	default:
	}

	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	timeoutCh := timer.C

	for {
		select {
		case <-ctx.Done():
			return item, false
		case item, ok = <-ch:
			if ok {
				s.setState(StageWorking)
			}

			return item, ok
		case <-timeoutCh:
			s.setState(StageIdle)

			timeoutCh = nil
		}
	}
}

// send blocks until ch accepts item. A send pending longer than the tick timeout marks
// the stage stalled, it keeps waiting until ctx is done.
func send[T any](ctx context.Context, s *Stage, ch chan<- T, item T) bool {
	select {
	case ch <- item:
		return true
	default:
	}

	timer := time.NewTimer(s.tickTimeout)
	defer timer.Stop()

	timeoutCh := timer.C

	for {
		select {
		case <-ctx.Done():
			return false
		case ch <- item:
			s.setState(StageWorking)

			return true
		case <-timeoutCh:
			s.logger.Warn("Downstream is not accepting", "timeout", s.tickTimeout)
			s.setState(StageStalled)

			timeoutCh = nil
		}
	}
}
