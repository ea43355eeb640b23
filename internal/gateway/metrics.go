package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	BatchesReceived   prometheus.Counter
	ValidationErrors  prometheus.Counter
	ValidationWarns   prometheus.Counter
	OracleForwards    prometheus.Counter
	OracleErrors      prometheus.Counter
	ForwardLatency    prometheus.Histogram
	ActiveConnections prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		BatchesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "safeshield_batches_received_total",
			Help: "Telemetry batches received over the ingest stream.",
		}),
		ValidationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "safeshield_validation_errors_total",
			Help: "Batches rejected before forwarding.",
		}),
		ValidationWarns: factory.NewCounter(prometheus.CounterOpts{
			Name: "safeshield_validation_warnings_total",
			Help: "Non-fatal validation warnings.",
		}),
		OracleForwards: factory.NewCounter(prometheus.CounterOpts{
			Name: "safeshield_oracle_forwards_total",
			Help: "Payloads forwarded to the scoring oracle.",
		}),
		OracleErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "safeshield_oracle_errors_total",
			Help: "Failed oracle calls (transport, timeout, explicit error).",
		}),
		ForwardLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeshield_oracle_forward_seconds",
			Help:    "Round-trip latency of oracle calls.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safeshield_stream_connections",
			Help: "Open client stream connections.",
		}),
	}
}
