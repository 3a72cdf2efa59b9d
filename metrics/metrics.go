package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "projector"

// Metrics is the observability context handed to every pipeline stage.
// Each instance owns its registry, nothing is registered globally.
type Metrics struct {
	registry *prometheus.Registry

	stageState      *prometheus.GaugeVec
	blocksProcessed *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	commits         *prometheus.CounterVec
	commitDuration  prometheus.Histogram
	policyActions   *prometheus.CounterVec
	cursorSlot      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "state",
			Help:      "Current state of a pipeline stage, 1 for the active state.",
		}, []string{"stage", "state"}),
		blocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "blocks_total",
			Help:      "Count of blocks processed by a stage.",
		}, []string{"stage", "mode"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "rollbacks_total",
			Help:      "Count of rollbacks by scope.",
		}, []string{"scope"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "lookups_total",
			Help:      "Count of input lookups by result.",
		}, []string{"result"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commits_total",
			Help:      "Count of storage batch commits.",
		}, []string{"status"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commit_duration_seconds",
			Help:      "Duration of storage batch commits.",
			Buckets:   prometheus.DefBuckets,
		}),
		policyActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "actions_total",
			Help:      "Count of error policy decisions.",
		}, []string{"class", "action"}),
		cursorSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cursor_slot",
			Help:      "Slot of the last committed cursor.",
		}),
	}

	m.registry.MustRegister(
		m.stageState, m.blocksProcessed, m.rollbacks, m.cacheLookups,
		m.commits, m.commitDuration, m.policyActions, m.cursorSlot,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetStageState marks state as the only active state of stage.
func (m *Metrics) SetStageState(stage string, state string, allStates []string) {
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1
		}

		m.stageState.WithLabelValues(stage, s).Set(value)
	}
}

func (m *Metrics) ObserveBlock(stage string, undo bool) {
	mode := "apply"
	if undo {
		mode = "undo"
	}

	m.blocksProcessed.WithLabelValues(stage, mode).Inc()
}

func (m *Metrics) ObserveRollback(scope string) {
	m.rollbacks.WithLabelValues(scope).Inc()
}

func (m *Metrics) ObserveLookups(hits, misses int) {
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

func (m *Metrics) ObserveCommit(err error, started time.Time, cursorSlot uint64) {
	if err != nil {
		m.commits.WithLabelValues("error").Inc()

		return
	}

	m.commits.WithLabelValues("success").Inc()
	m.commitDuration.Observe(time.Since(started).Seconds())
	m.cursorSlot.Set(float64(cursorSlot))
}

func (m *Metrics) ObservePolicyAction(class string, action string) {
	m.policyActions.WithLabelValues(class, action).Inc()
}
