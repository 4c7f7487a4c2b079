package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the store's Prometheus metrics. All methods are safe on a
// nil receiver so collection stays optional.
type metrics struct {
	commits  prometheus.Counter
	retained prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &metrics{
		commits: f.NewCounter(prometheus.CounterOpts{
			Name: "vantage_commits_total",
			Help: "Total number of committed write transactions",
		}),
		retained: f.NewGauge(prometheus.GaugeOpts{
			Name: "vantage_versions_retained",
			Help: "Number of committed versions currently readable",
		}),
	}
}

func (m *metrics) commit(retained int) {
	if m == nil {
		return
	}
	m.commits.Inc()
	m.retained.Set(float64(retained))
}
