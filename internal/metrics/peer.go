package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PeerMetrics groups the collectors updated by the mock peer hub.
type PeerMetrics struct {
	ClientsConnected prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	ConnectReplies   *prometheus.CounterVec
}

// NewPeer creates the mock peer collectors and registers them on reg.
func NewPeer(reg prometheus.Registerer) *PeerMetrics {
	m := &PeerMetrics{
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mockpeer_clients_connected",
			Help: "Number of open node connections",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockpeer_messages_received_total",
			Help: "Protocol messages received from nodes by message type",
		}, []string{"type"}),
		ConnectReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mockpeer_connect_replies_total",
			Help: "connect_response messages sent by status",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.ClientsConnected, m.MessagesReceived, m.ConnectReplies)
	}
	return m
}

func (m *PeerMetrics) ClientConnected() {
	if m == nil {
		return
	}
	m.ClientsConnected.Inc()
}

func (m *PeerMetrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.ClientsConnected.Dec()
}

func (m *PeerMetrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

func (m *PeerMetrics) ConnectReplied(status string) {
	if m == nil {
		return
	}
	m.ConnectReplies.WithLabelValues(status).Inc()
}
