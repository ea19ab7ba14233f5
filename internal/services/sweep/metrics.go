package sweep

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type sweepMetrics struct {
	clocksChecked prometheus.Counter
	warnings      prometheus.Counter
	breaches      prometheus.Counter
	ticketErrors  prometheus.Counter
	skippedBusy   prometheus.Counter
	sweepDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metrics     *sweepMetrics
)

// globalSweepMetrics registers the sweep metrics once per process.
func globalSweepMetrics() *sweepMetrics {
	metricsOnce.Do(func() {
		metrics = &sweepMetrics{
			clocksChecked: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_sweep_clocks_checked_total",
				Help: "SLA clocks evaluated by the breach sweep",
			}),
			warnings: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_sla_warnings_total",
				Help: "SLA warning transitions emitted",
			}),
			breaches: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_sla_breaches_total",
				Help: "SLA breach transitions emitted",
			}),
			ticketErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_sweep_ticket_errors_total",
				Help: "Tickets that failed evaluation during a sweep",
			}),
			skippedBusy: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_sweep_skipped_in_flight_total",
				Help: "Tickets skipped because an evaluation was already in flight",
			}),
			sweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "tickline_sweep_duration_seconds",
				Help:    "Wall time of a full breach sweep",
				Buckets: prometheus.DefBuckets,
			}),
		}
	})
	return metrics
}
