package findings

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters. Registered once on the default registry;
// the package-level helpers are no-ops until Init runs, so unit tests do not
// pollute the global registry.
type Metrics struct {
	ActionsTotal      *prometheus.CounterVec
	RefreshTotal      *prometheus.CounterVec
	RefreshDuration   prometheus.Histogram
	DroppedRecords    *prometheus.CounterVec
	RegressionsTotal  *prometheus.CounterVec
	AutoResolvedTotal prometheus.Counter
	ActiveFindings    *prometheus.GaugeVec
	InFlightActions   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// InitMetrics registers and returns the engine metrics singleton.
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		m := &Metrics{
			ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "actions_total",
				Help:      "Operator actions dispatched, by action and result",
			}, []string{"action", "result"}),
			RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "refresh_total",
				Help:      "Background refresh cycles, by result",
			}, []string{"result"}),
			RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "refresh_duration_seconds",
				Help:      "Background refresh cycle duration",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}),
			DroppedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "dropped_records_total",
				Help:      "Malformed source records skipped during normalization",
			}, []string{"kind"}),
			RegressionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "regressions_total",
				Help:      "Findings that returned to active after dismissal or resolution",
			}, []string{"source"}),
			AutoResolvedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "auto_resolved_total",
				Help:      "Findings implicitly resolved after disappearing from the feed",
			}),
			ActiveFindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "active",
				Help:      "Active findings by severity",
			}, []string{"severity"}),
			InFlightActions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pulse",
				Subsystem: "findings",
				Name:      "inflight_actions",
				Help:      "Actions currently awaiting backend confirmation",
			}),
		}
		prometheus.MustRegister(
			m.ActionsTotal,
			m.RefreshTotal,
			m.RefreshDuration,
			m.DroppedRecords,
			m.RegressionsTotal,
			m.AutoResolvedTotal,
			m.ActiveFindings,
			m.InFlightActions,
		)
		metrics = m
	})
	return metrics
}

func droppedRecords(kind string) {
	if metrics != nil {
		metrics.DroppedRecords.WithLabelValues(kind).Inc()
	}
}

func recordRegression(source string) {
	if metrics != nil {
		metrics.RegressionsTotal.WithLabelValues(source).Inc()
	}
}

func recordAutoResolve() {
	if metrics != nil {
		metrics.AutoResolvedTotal.Inc()
	}
}

func recordAction(action, result string) {
	if metrics != nil {
		metrics.ActionsTotal.WithLabelValues(action, result).Inc()
	}
}

func recordRefresh(result string, elapsed time.Duration) {
	if metrics != nil {
		metrics.RefreshTotal.WithLabelValues(result).Inc()
		metrics.RefreshDuration.Observe(elapsed.Seconds())
	}
}

func setInFlight(n int) {
	if metrics != nil {
		metrics.InFlightActions.Set(float64(n))
	}
}
