package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordRtUpdate("resolved")
	m.RecordRtUpdate("resolved")
	m.RecordLookup(SourceCache, ResultHit)
	m.RecordRemoteLatency("resolve", 120*time.Millisecond)
	m.RecordStationChange()
	m.SetActiveStations(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rtUpdates.WithLabelValues("resolved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues(SourceCache, ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stationChanges))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeStations))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRtUpdate("resolved")
	m.RecordLookup(SourceRemote, ResultError)
	m.RecordRemoteLatency("resolve", time.Second)
	m.RecordStationChange()
	m.SetActiveStations(1)
	assert.Nil(t, m.Registry())
}

func TestHandlerServesText(t *testing.T) {
	m := New()
	m.RecordRtUpdate("no_match")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rdstrack_pipeline_rt_updates_total{status="no_match"} 1`)
}
