// Package metrics exposes Prometheus collectors for simulated node sessions.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by sessions and the manager.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	NodesRegistered   prometheus.Gauge
	SessionStates     *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	HandshakeFailures *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodetester_sessions_active",
			Help: "Number of node sessions whose goroutine is running",
		}),
		NodesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nodetester_nodes_registered",
			Help: "Number of node identifiers currently in the registry",
		}),
		SessionStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodetester_session_state_total",
			Help: "Session state transitions by target state",
		}, []string{"state"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodetester_messages_sent_total",
			Help: "Protocol messages sent by simulated nodes by message type",
		}, []string{"type"}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nodetester_handshake_failures_total",
			Help: "Failed handshakes by reason",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.NodesRegistered,
			m.SessionStates,
			m.MessagesSent,
			m.HandshakeFailures,
		)
	}
	return m
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) SetRegistered(n int) {
	if m == nil {
		return
	}
	m.NodesRegistered.Set(float64(n))
}

func (m *Metrics) StateEntered(state string) {
	if m == nil {
		return
	}
	m.SessionStates.WithLabelValues(state).Inc()
}

func (m *Metrics) MessageSent(msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

func (m *Metrics) HandshakeFailed(reason string) {
	if m == nil {
		return
	}
	m.HandshakeFailures.WithLabelValues(reason).Inc()
}
