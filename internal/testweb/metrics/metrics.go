package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/testweb/testweb/internal/testweb/domain"
)

const MetricPrefix = "testweb_"

// Metrics records orchestrator activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	testsStarted    *prometheus.CounterVec
	testsFinished   *prometheus.CounterVec
	testsRunning    prometheus.Gauge
	testDuration    *prometheus.HistogramVec
	cancelFailures  prometheus.Counter
	persistFailures prometheus.Counter
	historyPruned   prometheus.Counter
}

func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		testsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "tests_started_total",
				Help: "Number of tests submitted to the backend",
			},
			[]string{"type"},
		),
		testsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricPrefix + "tests_finished_total",
				Help: "Number of tests that reached a terminal state",
			},
			[]string{"type", "status"},
		),
		testsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricPrefix + "tests_running",
				Help: "Number of tests currently pending or running",
			},
		),
		testDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricPrefix + "test_duration_seconds",
				Help:    "Time from submission to terminal state",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"type", "status"},
		),
		cancelFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPrefix + "backend_cancel_failures_total",
				Help: "Number of backend cancellation requests that failed after all retries",
			},
		),
		persistFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPrefix + "persist_failures_total",
				Help: "Number of failed attempts to write test history",
			},
		),
		historyPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPrefix + "history_pruned_total",
				Help: "Number of completed tests removed by the retention policy",
			},
		),
	}
}

func (m *Metrics) RecordStarted(testType domain.TestType) {
	if m == nil {
		return
	}
	m.testsStarted.WithLabelValues(string(testType)).Inc()
	m.testsRunning.Inc()
}

func (m *Metrics) RecordFinished(testType domain.TestType, status domain.JobStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.testsRunning.Dec()
	m.testsFinished.WithLabelValues(string(testType), string(status)).Inc()
	m.testDuration.WithLabelValues(string(testType), string(status)).Observe(duration.Seconds())
}

// RecordAbandoned accounts for running tests dropped at shutdown.
func (m *Metrics) RecordAbandoned(count int) {
	if m == nil {
		return
	}
	m.testsRunning.Sub(float64(count))
}

func (m *Metrics) RecordCancelFailure() {
	if m == nil {
		return
	}
	m.cancelFailures.Inc()
}

func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) RecordPruned(count int) {
	if m == nil {
		return
	}
	m.historyPruned.Add(float64(count))
}
