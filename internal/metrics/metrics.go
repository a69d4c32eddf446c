// Package metrics provides Prometheus metrics for socks5gate:
// connection lifecycle and CONNECT reply outcomes. There are no
// byte/throughput counters; this proxy does not do traffic accounting.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "socks5gate"

// Metrics implements socks5.Recorder on top of a Prometheus registry.
type Metrics struct {
	ConnectionsActive        prometheus.Gauge
	ConnectionsAcceptedTotal prometheus.Counter
	ConnectReplies           *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns a process-wide Metrics registered against the default
// Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, used by tests to avoid colliding with the default registry's
// global state.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently active client connections.",
		}),
		ConnectionsAcceptedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of client connections accepted.",
		}),
		ConnectReplies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_replies_total",
			Help:      "Total CONNECT replies sent, by SOCKS5 reply code.",
		}, []string{"code"}),
	}
}

// ConnectionOpened satisfies socks5.Recorder.
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsActive.Inc()
	m.ConnectionsAcceptedTotal.Inc()
}

// ConnectionClosed satisfies socks5.Recorder.
func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// ConnectReplySent satisfies socks5.Recorder, recording the reply code as
// a two-hex-digit label so the same byte value groups across requests.
func (m *Metrics) ConnectReplySent(code byte) {
	m.ConnectReplies.WithLabelValues(replyCodeLabel(code)).Inc()
}

func replyCodeLabel(code byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{'0', 'x', hex[code>>4], hex[code&0x0f]})
}
