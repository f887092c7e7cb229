package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "gateway_client"

// metrics holds the Prometheus collectors of one client.
type metrics struct {
	reconnects      prometheus.Counter
	faults          *prometheus.CounterVec
	received        *prometheus.CounterVec
	sent            prometheus.Counter
	heartbeats      prometheus.Counter
	connected       prometheus.Gauge
	connectDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnects_total",
			Help:      "Connections re-established after a failure",
		}),
		faults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "faults_total",
			Help:      "Recovered transport faults by kind",
		}, []string{"kind"}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "envelopes_received_total",
			Help:      "Envelopes received by opcode",
		}, []string{"op"}),
		sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "envelopes_sent_total",
			Help:      "Envelopes written to the socket",
		}),
		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent",
		}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 while a ready session is installed",
		}),
		connectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from dial to identify",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
