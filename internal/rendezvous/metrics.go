package rendezvous

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "rendezvous"

// Metrics holds the Prometheus collectors updated by Servers and their
// Connections. All series are labelled by server name. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	accepted       *prometheus.CounterVec
	reconnected    *prometheus.CounterVec
	peersLost      *prometheus.CounterVec
	sendErrors     *prometheus.CounterVec
	bytesReceived  *prometheus.CounterVec
	bytesSent      *prometheus.CounterVec
	connections    *prometheus.GaugeVec
	pendingIntents *prometheus.GaugeVec
}

// NewMetrics creates the rendezvous collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := []string{"server"}

	return &Metrics{
		accepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "accepted_total",
			Help:      "Total number of inbound connections bound to a new client name",
		}, labels),
		reconnected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconnected_total",
			Help:      "Total number of inbound connections rebound to an existing client name",
		}, labels),
		peersLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "peers_lost_total",
			Help:      "Total number of connections dropped by the remote peer",
		}, labels),
		sendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "send_errors_total",
			Help:      "Total number of outbound messages lost to socket errors",
		}, labels),
		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Total number of bytes read from clients",
		}, labels),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sent_bytes_total",
			Help:      "Total number of bytes written to clients",
		}, labels),
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of named connections in the server's table",
		}, labels),
		pendingIntents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_intents",
			Help:      "Number of accept intents waiting for an inbound connection",
		}, labels),
	}
}

func (m *Metrics) incAccepted(server string) {
	if m != nil {
		m.accepted.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) incReconnected(server string) {
	if m != nil {
		m.reconnected.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) incPeersLost(server string) {
	if m != nil {
		m.peersLost.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) incSendErrors(server string) {
	if m != nil {
		m.sendErrors.WithLabelValues(server).Inc()
	}
}

func (m *Metrics) addReceived(server string, n int) {
	if m != nil {
		m.bytesReceived.WithLabelValues(server).Add(float64(n))
	}
}

func (m *Metrics) addSent(server string, n int) {
	if m != nil {
		m.bytesSent.WithLabelValues(server).Add(float64(n))
	}
}

func (m *Metrics) setTable(server string, connections, pending int) {
	if m != nil {
		m.connections.WithLabelValues(server).Set(float64(connections))
		m.pendingIntents.WithLabelValues(server).Set(float64(pending))
	}
}
