package util

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of the process. It is separate from the
// default registry so the /metrics page only shows protocol counters.
var Registry = prometheus.NewRegistry()

var metrics = struct {
	framesSent  *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	bytesSent   prometheus.Counter
	bytesRecv   prometheus.Counter
	retransmits prometheus.Counter
	conns       prometheus.Gauge
}{
	framesSent: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rudp",
			Name:      "frames_sent_total",
			Help:      "Frames handed to the transport, by frame type.",
		},
		[]string{"type"},
	),
	dropped: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rudp",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded, by reason.",
		},
		[]string{"reason"},
	),
	bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "bytes_sent_total",
		Help:      "Bytes handed to the transport.",
	}),
	bytesRecv: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "bytes_received_total",
		Help:      "Bytes received from the transport.",
	}),
	retransmits: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rudp",
		Name:      "retransmissions_total",
		Help:      "Frames sent again after a retry timeout.",
	}),
	conns: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rudp",
		Name:      "connections",
		Help:      "Currently open connections.",
	}),
}

func init() {
	Registry.MustRegister(
		metrics.framesSent,
		metrics.dropped,
		metrics.bytesSent,
		metrics.bytesRecv,
		metrics.retransmits,
		metrics.conns,
	)
}

// MetricsHandler serves the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
