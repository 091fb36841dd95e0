package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sumanthd032/relaychat/internal/protocol"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	peers              prometheus.Gauge
	accepted           prometheus.Counter
	refused            prometheus.Counter
	routed             *prometheus.CounterVec
	handshakes         prometheus.Counter
	protocolViolations prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaychat",
			Name:      "peers",
			Help:      "Number of peers currently registered.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "connections_accepted_total",
			Help:      "Connections admitted to the registry.",
		}),
		refused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "connections_refused_total",
			Help:      "Connections closed because two peers were already registered.",
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "envelopes_routed_total",
			Help:      "Envelopes forwarded to the other peer, by code.",
		}, []string{"code"}),
		handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "handshakes_triggered_total",
			Help:      "Handshake parameter broadcasts.",
		}),
		protocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaychat",
			Name:      "protocol_violations_total",
			Help:      "Envelopes dropped as protocol violations.",
		}),
	}
	reg.MustRegister(m.peers, m.accepted, m.refused, m.routed, m.handshakes, m.protocolViolations)
	return m
}

func (m *Metrics) routedEnvelope(code protocol.Code) {
	m.routed.WithLabelValues(code.String()).Inc()
}
