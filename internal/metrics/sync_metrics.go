package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var reachabilityStates = []string{"unknown", "reachable", "degraded", "unreachable"}

// SyncMetrics tracks the agent's own behavior: refresh cycles, HTTP traffic
// to the cloud, the action queue and the offline probes.
type SyncMetrics struct {
	refreshDuration *prometheus.HistogramVec
	refreshTotal    *prometheus.CounterVec
	enrichErrors    *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
	candidateScore  *prometheus.GaugeVec

	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	httpRequestErrors   *prometheus.CounterVec

	queueDepth     *prometheus.GaugeVec
	actionOutcomes *prometheus.CounterVec

	probeSuccess *prometheus.GaugeVec
	probeLatency *prometheus.GaugeVec

	cloudReachability *prometheus.GaugeVec
	uptime            prometheus.GaugeFunc
	startTime         time.Time
}

func NewSyncMetrics(namespace string) *SyncMetrics {
	sm := &SyncMetrics{
		refreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of snapshot refresh cycles",
				Buckets:   []float64{0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"result"},
		),
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Snapshot refresh cycles by result",
			},
			[]string{"result"},
		),
		enrichErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_errors_total",
				Help:      "Failed best-effort enrichment calls",
			},
			[]string{"resource"},
		),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Session token refresh attempts",
			},
			[]string{"result"},
		),
		candidateScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidate_score",
				Help:      "Telemetry score of the winning candidate endpoint",
			},
			[]string{"resource"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Cloud API request duration",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "Cloud API request body size",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint"},
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "Cloud API response body size",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint"},
		),
		httpRequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_request_errors_total",
				Help:      "Cloud API requests that failed before a response",
			},
			[]string{"method", "endpoint"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_actions",
				Help:      "Queued actions by status",
			},
			[]string{"status"},
		),
		actionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_outcomes_total",
				Help:      "Action executions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		probeSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "probe_success",
				Help:      "Whether the last offline probe succeeded (1) or not (0)",
			},
			[]string{"probe"},
		),
		probeLatency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "probe_latency_milliseconds",
				Help:      "Latency of the last successful offline probe",
			},
			[]string{"probe"},
		),
		cloudReachability: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cloud_reachability",
				Help:      "Current cloud reachability state (1 for the active state)",
			},
			[]string{"state"},
		),
		startTime: time.Now(),
	}
	sm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Agent uptime",
		},
		func() float64 { return time.Since(sm.startTime).Seconds() },
	)
	sm.SetCloudReachability("unknown")
	return sm
}

func (sm *SyncMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		sm.refreshDuration,
		sm.refreshTotal,
		sm.enrichErrors,
		sm.tokenRefreshes,
		sm.candidateScore,
		sm.httpRequestDuration,
		sm.httpRequestSize,
		sm.httpResponseSize,
		sm.httpRequestErrors,
		sm.queueDepth,
		sm.actionOutcomes,
		sm.probeSuccess,
		sm.probeLatency,
		sm.cloudReachability,
		sm.uptime,
	}
}

// Describe implements prometheus.Collector
func (sm *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range sm.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (sm *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range sm.collectors() {
		c.Collect(ch)
	}
}

func (sm *SyncMetrics) RecordRefresh(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	sm.refreshDuration.WithLabelValues(result).Observe(duration.Seconds())
	sm.refreshTotal.WithLabelValues(result).Inc()
}

func (sm *SyncMetrics) RecordEnrichmentError(resource string) {
	sm.enrichErrors.WithLabelValues(resource).Inc()
}

func (sm *SyncMetrics) RecordTokenRefresh(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	sm.tokenRefreshes.WithLabelValues(result).Inc()
}

func (sm *SyncMetrics) RecordCandidateScore(resource string, score int) {
	sm.candidateScore.WithLabelValues(resource).Set(float64(score))
}

// RecordRequestDuration satisfies the transport's MetricsCollector. A zero
// status code means the request failed before a response arrived.
func (sm *SyncMetrics) RecordRequestDuration(method, endpoint string, duration time.Duration, statusCode int) {
	if statusCode == 0 {
		sm.httpRequestErrors.WithLabelValues(method, endpoint).Inc()
	}
	sm.httpRequestDuration.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

func (sm *SyncMetrics) RecordRequestSize(method, endpoint string, size int64) {
	sm.httpRequestSize.WithLabelValues(method, endpoint).Observe(float64(size))
}

func (sm *SyncMetrics) RecordResponseSize(method, endpoint string, size int64) {
	sm.httpResponseSize.WithLabelValues(method, endpoint).Observe(float64(size))
}

func (sm *SyncMetrics) SetQueueDepth(pending, failed int) {
	sm.queueDepth.WithLabelValues("pending").Set(float64(pending))
	sm.queueDepth.WithLabelValues("failed").Set(float64(failed))
}

func (sm *SyncMetrics) RecordActionOutcome(kind, outcome string) {
	sm.actionOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (sm *SyncMetrics) RecordProbe(name string, success bool, latencyMS *float64) {
	v := 0.0
	if success {
		v = 1
	}
	sm.probeSuccess.WithLabelValues(name).Set(v)
	if success && latencyMS != nil {
		sm.probeLatency.WithLabelValues(name).Set(*latencyMS)
	}
}

func (sm *SyncMetrics) SetCloudReachability(state string) {
	for _, s := range reachabilityStates {
		v := 0.0
		if s == state {
			v = 1
		}
		sm.cloudReachability.WithLabelValues(s).Set(v)
	}
}
