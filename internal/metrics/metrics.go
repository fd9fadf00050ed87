// Package metrics exposes engine counters for Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	framesIn        *prometheus.CounterVec
	framesOut       *prometheus.CounterVec
	protocolErrors  prometheus.Counter
	stateChanges    *prometheus.CounterVec
	reconnects      prometheus.Counter
	authFailures    prometheus.Counter
	sends           *prometheus.CounterVec
	deliveryLatency prometheus.Histogram
	pendingSends    prometheus.Gauge
	connected       prometheus.Gauge
}

// New registers the collectors on reg under namespace. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer, namespace string, constLabels prometheus.Labels) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "chatsync"
	}
	factory := promauto.With(reg)

	return &Metrics{
		framesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_received_total",
			Help:        "Inbound frames by event type",
			ConstLabels: constLabels,
		}, []string{"type"}),
		framesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_sent_total",
			Help:        "Outbound frames by event type",
			ConstLabels: constLabels,
		}, []string{"type"}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "protocol_errors_total",
			Help:        "Inbound frames discarded because they failed to parse",
			ConstLabels: constLabels,
		}),
		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "connection_state_changes_total",
			Help:        "Connection state transitions by target state",
			ConstLabels: constLabels,
		}, []string{"state"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconnect_attempts_total",
			Help:        "Automatic reconnect attempts",
			ConstLabels: constLabels,
		}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "auth_failures_total",
			Help:        "Rejected or timed out authentication handshakes",
			ConstLabels: constLabels,
		}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sends_total",
			Help:        "Settled text sends by outcome",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		deliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "delivery_latency_seconds",
			Help:        "Time from send to server acknowledgement",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		pendingSends: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pending_sends",
			Help:        "Sends awaiting acknowledgement",
			ConstLabels: constLabels,
		}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connected",
			Help:        "1 while the session is authenticated",
			ConstLabels: constLabels,
		}),
	}
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesIn.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameSent(kind string) {
	if m == nil {
		return
	}
	m.framesOut.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

// StateChanged counts a transition and tracks the connected gauge.
func (m *Metrics) StateChanged(state string, connected bool) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(state).Inc()
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) AuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

// SendSettled records a send outcome ("delivered", "failed", "timeout", "closed").
func (m *Metrics) SendSettled(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
	if outcome == "delivered" {
		m.deliveryLatency.Observe(latency.Seconds())
	}
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingSends.Set(float64(n))
}
