// Package metrics provides Prometheus metrics for imports, the ledger and the
// percentile sweep.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"gacha-ledger/internal/domain"
)

var Module = fx.Provide(func() *Manager { return NewManager() })

type Manager struct {
	namespace      string
	latencyBuckets []float64
	registry       *prometheus.Registry

	// Imports
	importsStarted  *prometheus.CounterVec
	importsFinished *prometheus.CounterVec
	activeImports   prometheus.Gauge
	fetchLatency    prometheus.Histogram
	fetchRetries    prometheus.Counter

	// Ledger
	pullsInserted *prometheus.CounterVec
	violations    *prometheus.CounterVec

	// Sweep
	sweepDuration *prometheus.HistogramVec
	sweepErrors   *prometheus.CounterVec
	rankedTotal   *prometheus.GaugeVec

	// RPC
	rpcRequests *prometheus.CounterVec
}

// NewManager registers every metric on its own registry, so the default Go
// collectors stay out of /metrics unless a caller adds them.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "gacha",
		latencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		registry:       prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.importsStarted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "started_total",
		Help:      "Imports started, by game and mode",
	}, []string{"game", "mode"})

	m.importsFinished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "finished_total",
		Help:      "Imports reaching a terminal status, by status and reason",
	}, []string{"status", "reason"})

	m.activeImports = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "active",
		Help:      "Imports currently running",
	})

	m.fetchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "page_fetch_seconds",
		Help:      "Latency of single history page fetches",
		Buckets:   m.latencyBuckets,
	})

	m.fetchRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "import",
		Name:      "page_fetch_retries_total",
		Help:      "History page fetches retried after a transient failure",
	})

	m.pullsInserted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "pulls_inserted_total",
		Help:      "Pulls newly inserted into the ledger, by category",
	}, []string{"category"})

	m.violations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ledger",
		Name:      "consistency_violations_total",
		Help:      "Sequence/timestamp order mismatches flagged on merge",
	}, []string{"category"})

	m.sweepDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Duration of a percentile sweep for one category",
		Buckets:   m.latencyBuckets,
	}, []string{"category"})

	m.sweepErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "errors_total",
		Help:      "Percentile sweeps that failed or timed out",
	}, []string{"category"})

	m.rankedTotal = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "sweep",
		Name:      "ranked_accounts",
		Help:      "Accounts ranked by the last successful sweep",
	}, []string{"category"})

	m.rpcRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "RPC requests by procedure and result code",
	}, []string{"procedure", "code"})
}

func (m *Manager) Registry() *prometheus.Registry { return m.registry }

func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Manager) ImportStarted(game domain.Game, mode string) {
	m.importsStarted.WithLabelValues(string(game), mode).Inc()
	m.activeImports.Inc()
}

func (m *Manager) ImportFinished(status domain.JobStatus, reason string) {
	m.importsFinished.WithLabelValues(string(status), reason).Inc()
	m.activeImports.Dec()
}

func (m *Manager) ObservePageFetch(d time.Duration) { m.fetchLatency.Observe(d.Seconds()) }

func (m *Manager) PageFetchRetried() { m.fetchRetries.Inc() }

func (m *Manager) PullsMerged(category domain.Category, inserted, violations int) {
	m.pullsInserted.WithLabelValues(category.String()).Add(float64(inserted))
	if violations > 0 {
		m.violations.WithLabelValues(category.String()).Add(float64(violations))
	}
}

func (m *Manager) SweepFinished(category domain.Category, d time.Duration, ranked int, err error) {
	m.sweepDuration.WithLabelValues(category.String()).Observe(d.Seconds())
	if err != nil {
		m.sweepErrors.WithLabelValues(category.String()).Inc()
		return
	}
	m.rankedTotal.WithLabelValues(category.String()).Set(float64(ranked))
}

func (m *Manager) RPCHandled(procedure, code string) {
	m.rpcRequests.WithLabelValues(procedure, code).Inc()
}
