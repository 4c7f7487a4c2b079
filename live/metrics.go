package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// nmetrics holds the notifier's Prometheus metrics. Methods are safe on a
// nil receiver.
type nmetrics struct {
	deliveries prometheus.Counter
	active     prometheus.Gauge
}

func newNotifierMetrics(reg prometheus.Registerer) *nmetrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &nmetrics{
		deliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "vantage_notifications_total",
			Help: "Total number of change sets delivered to subscribers",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "vantage_subscriptions_active",
			Help: "Number of active subscriptions",
		}),
	}
}

func (m *nmetrics) delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

func (m *nmetrics) subscriptions(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
