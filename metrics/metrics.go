package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/isdmx/scriptbox/sandbox"
)

const namespace = "scriptbox"

// Collector holds the Prometheus metrics of the service
type Collector struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	TestsTotal     *prometheus.CounterVec
	IsolatesActive prometheus.Gauge
	IsolatesTotal  *prometheus.CounterVec
}

// New creates a Collector whose metrics are registered with reg
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of script runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Script run duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),
		TestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tests_total",
				Help:      "Total number of registered tests by outcome",
			},
			[]string{"outcome"},
		),
		IsolatesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "isolates_active",
				Help:      "Number of isolates currently alive",
			},
		),
		IsolatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "isolate_operations_total",
				Help:      "Total number of isolate operations by operation and status",
			},
			[]string{"operation", "status"},
		),
	}
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(outcome string, elapsed time.Duration) {
	c.RunsTotal.WithLabelValues(outcome).Inc()
	c.RunDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveTest records a finished test.
func (c *Collector) ObserveTest(outcome string) {
	c.TestsTotal.WithLabelValues(outcome).Inc()
}

// InstrumentIsolates wraps m so that isolate creation and disposal are
// counted.
func (c *Collector) InstrumentIsolates(m sandbox.Manager) sandbox.Manager {
	return &instrumentedManager{inner: m, metrics: c}
}

type instrumentedManager struct {
	inner   sandbox.Manager
	metrics *Collector
}

func (m *instrumentedManager) Create(ctx context.Context) (*sandbox.Isolate, error) {
	iso, err := m.inner.Create(ctx)
	if iso != nil {
		m.metrics.IsolatesActive.Inc()
	}
	m.metrics.IsolatesTotal.WithLabelValues("create", status(err)).Inc()
	return iso, err
}

func (m *instrumentedManager) Dispose(iso *sandbox.Isolate) error {
	err := m.inner.Dispose(iso)
	if err == nil {
		m.metrics.IsolatesActive.Dec()
	}
	m.metrics.IsolatesTotal.WithLabelValues("dispose", status(err)).Inc()
	return err
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
