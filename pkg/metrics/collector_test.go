package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("viewforge", nil)

	c.RecordRun("completed")
	c.RecordRun("completed")
	c.RecordRun("halted")
	c.RecordTransition("Front View", "generating")
	c.RecordStepDuration("mock", "completed", 1500*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("halted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepTransitions.WithLabelValues("Front View", "generating")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordRun("completed")
	c.RecordTransition("x", "y")
	c.RecordStepDuration("a", "b", time.Second)
	c.RecordHTTPRequest("GET", "/", 200, time.Second)
	c.RecordMaterialization()
	assert.Nil(t, c.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("viewforge", nil)
	c.RecordMaterialization()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "viewforge_materializations_total 1"))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("viewforge", nil)
	b := NewCollector("viewforge", nil)
	a.RecordRun("completed")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.runsTotal.WithLabelValues("completed")))
}
