package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMetrics_Record(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Cache.RecordDispatch("static", SourceCache)
	m.Cache.RecordDispatch("static", SourceCache)
	m.Cache.RecordDispatch("document", SourceOffline)
	m.Cache.RecordRevalidation(false)
	m.Cache.RecordNamespacesDeleted(2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Cache.dispatches.WithLabelValues("static", SourceCache)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Cache.dispatches.WithLabelValues("document", SourceOffline)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Cache.revalidations.WithLabelValues("error")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Cache.namespacesDeleted), 0)
}

func TestPushMetrics_GaugeVisibleInRegistry(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Push.SetSubscriptions(3)
	m.Push.RecordDeliveries("removed", 1)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var gauge *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "stcedge_push_subscriptions" {
			gauge = f
		}
	}
	require.NotNil(t, gauge)
	require.Len(t, gauge.GetMetric(), 1)
	assert.InDelta(t, 3, gauge.GetMetric()[0].GetGauge().GetValue(), 0)
}

func TestNilMetricsAreSafe(t *testing.T) {
	t.Parallel()

	var c *CacheMetrics
	var p *PushMetrics
	assert.NotPanics(t, func() {
		c.RecordDispatch("static", SourceNetwork)
		c.RecordPrecache("core", true)
		p.RecordDeliveries("sent", 1)
		p.SetSubscriptions(1)
	})
}

func TestHandler_ServesExposition(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Push.RecordSubscribe("added")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stcedge_push_subscribe_requests_total{result="added"} 1`)
}
