package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	states := []string{"idle", "working", "stalled"}

	m.SetStageState("enrich", "working", states)
	require.Equal(t, 1.0, testutil.ToFloat64(m.stageState.WithLabelValues("enrich", "working")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.stageState.WithLabelValues("enrich", "idle")))

	m.SetStageState("enrich", "stalled", states)
	require.Equal(t, 0.0, testutil.ToFloat64(m.stageState.WithLabelValues("enrich", "working")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.stageState.WithLabelValues("enrich", "stalled")))

	m.ObserveBlock("reduce", true)
	m.ObserveBlock("reduce", true)
	require.Equal(t, 2.0, testutil.ToFloat64(m.blocksProcessed.WithLabelValues("reduce", "undo")))

	m.ObserveLookups(3, 1)
	require.Equal(t, 3.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))

	m.ObserveCommit(errors.New("boom"), time.Now(), 10)
	m.ObserveCommit(nil, time.Now().Add(-time.Second), 42)
	require.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("error")))
	require.Equal(t, 42.0, testutil.ToFloat64(m.cursorSlot))

	m.ObserveRollback("outOfScope")
	m.ObservePolicyAction("missingData", "warn")
	require.Equal(t, 1.0, testutil.ToFloat64(m.policyActions.WithLabelValues("missingData", "warn")))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	t.Parallel()

	first, second := NewMetrics(), NewMetrics()

	first.ObserveRollback("inBuffer")
	require.Equal(t, 0.0, testutil.ToFloat64(second.rollbacks.WithLabelValues("inBuffer")))

	rec := httptest.NewRecorder()
	first.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "projector_confirmation_rollbacks_total"))
}
