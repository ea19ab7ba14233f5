package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type dispatchMetrics struct {
	attempts  prometheus.Counter
	delivered prometheus.Counter
	exhausted prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *dispatchMetrics
)

func globalDispatchMetrics() *dispatchMetrics {
	metricsOnce.Do(func() {
		metrics = &dispatchMetrics{
			attempts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_dispatch_attempts_total",
				Help: "Notification delivery attempts including retries",
			}),
			delivered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_dispatch_delivered_total",
				Help: "Notifications delivered successfully",
			}),
			exhausted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "tickline_dispatch_exhausted_total",
				Help: "Notifications that exhausted their retry budget",
			}),
		}
	})
	return metrics
}
