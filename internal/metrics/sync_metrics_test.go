package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sm := NewSyncMetrics("meshkeeper")
	require.NoError(t, reg.Register(sm))
}

func TestRefreshAndQueueCounters(t *testing.T) {
	sm := NewSyncMetrics("meshkeeper")

	sm.RecordRefresh(time.Second, nil)
	sm.RecordRefresh(time.Second, errors.New("boom"))
	sm.RecordRefresh(time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(sm.refreshTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sm.refreshTotal.WithLabelValues("error")))

	sm.SetQueueDepth(3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(sm.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.queueDepth.WithLabelValues("failed")))
}

func TestCloudReachabilityIsOneHot(t *testing.T) {
	sm := NewSyncMetrics("meshkeeper")
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.cloudReachability.WithLabelValues("unknown")))

	sm.SetCloudReachability("degraded")
	assert.Equal(t, 0.0, testutil.ToFloat64(sm.cloudReachability.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.cloudReachability.WithLabelValues("degraded")))
}

func TestFailedRequestCountsAsError(t *testing.T) {
	sm := NewSyncMetrics("meshkeeper")
	sm.RecordRequestDuration("GET", "/networks/:id", 10*time.Millisecond, 0)
	sm.RecordRequestDuration("GET", "/networks/:id", 10*time.Millisecond, 200)

	assert.Equal(t, 1.0, testutil.ToFloat64(sm.httpRequestErrors.WithLabelValues("GET", "/networks/:id")))
}
