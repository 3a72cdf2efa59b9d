package pipeline

import (
	"context"
	"time"

	"github.com/Ethernal-Tech/cardano-projector/metrics"
	"github.com/hashicorp/go-hclog"
)

// Monitor periodically exports stage states and reports stages that stay stalled.
type Monitor struct {
	stages   []*Stage
	interval time.Duration
	metrics  *metrics.Metrics
	logger   hclog.Logger
}

func NewMonitor(stages []*Stage, interval time.Duration, metrics *metrics.Metrics, logger hclog.Logger) *Monitor {
	return &Monitor{
		stages:   stages,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Sample()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample exports the current state of every stage.
func (m *Monitor) Sample() {
	for _, stage := range m.stages {
		state := stage.State()

		m.metrics.SetStageState(stage.Name(), state.String(), stageStateNames)

		if state == StageStalled {
			m.logger.Warn("Stage stalled", "stage", stage.Name(), "for", stage.Since().Round(time.Millisecond))
		}
	}
}
