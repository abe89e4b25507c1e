package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	passes      *prometheus.CounterVec
	rows        *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electrolyser",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Reconciliation passes, by result.",
		}, []string{"result"}),
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "electrolyser",
			Subsystem: "reconcile",
			Name:      "rows_total",
			Help:      "Candidate rows handled by reconciliation, by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "electrolyser",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "electrolyser",
			Subsystem: "reconcile",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass that reached the source.",
		}),
	}
}

func (m *metrics) observe(r Result) {
	if r.Error != "" {
		m.passes.WithLabelValues("error").Inc()
	} else {
		m.passes.WithLabelValues("ok").Inc()
		m.lastSuccess.Set(float64(r.StartedAt.Unix()))
	}
	m.rows.WithLabelValues("inserted").Add(float64(r.Inserted))
	m.rows.WithLabelValues("failed").Add(float64(r.Failed))
	m.rows.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.duration.Observe(r.Duration.Seconds())
}
