package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "electrolyser"

// Drop reasons reported on the rejected-messages counter.
const (
	reasonMalformed  = "malformed"
	reasonUnmapped   = "unmapped"
	reasonOutOfRange = "device_out_of_range"
	reasonQueueFull  = "queue_full"
)

// metrics holds the pipeline's Prometheus collectors.
type metrics struct {
	received    prometheus.Counter
	rejected    *prometheus.CounterVec
	merged      prometheus.Counter
	flushes     prometheus.Counter
	rows        *prometheus.CounterVec
	sinkErrors  *prometheus.CounterVec
	flushTiming prometheus.Histogram
}

// newMetrics registers the pipeline collectors on reg. Gauges read live
// state through the supplied functions so they never drift.
func newMetrics(reg prometheus.Registerer, queueDepth, pending func() float64) *metrics {
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "ingest",
		Name:      "queue_depth",
		Help:      "Messages waiting in the ingress queue.",
	}, queueDepth)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "ingest",
		Name:      "pending_devices",
		Help:      "Devices with an unflushed composite record.",
	}, pending)

	return &metrics{
		received: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Messages delivered by the subscription.",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "messages_rejected_total",
			Help:      "Messages dropped before reaching the assembler, by reason.",
		}, []string{"reason"}),
		merged: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "readings_merged_total",
			Help:      "Readings merged into composite records.",
		}),
		flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "flushes_total",
			Help:      "Idle-triggered batch flushes.",
		}),
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "rows_written_total",
			Help:      "Composite records written by the flusher, by result.",
		}, []string{"result"}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "sink_errors_total",
			Help:      "Failed deliveries to flush sinks, by sink.",
		}, []string{"sink"}),
		flushTiming: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingest",
			Name:      "flush_duration_seconds",
			Help:      "Wall time spent writing one batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
