package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCountersRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "test", nil)

	m.FrameReceived("ping")
	m.FrameReceived("ping")
	m.ProtocolError()
	m.StateChanged("CONNECTED", true)
	m.SendSettled("delivered", 150*time.Millisecond)
	m.SetPending(3)

	fams := gather(t, reg)
	if got := fams["test_frames_received_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("frames_received_total = %v, want 2", got)
	}
	if got := fams["test_protocol_errors_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("protocol_errors_total = %v, want 1", got)
	}
	if got := fams["test_connected"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := fams["test_pending_sends"].GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("pending_sends = %v, want 3", got)
	}
	if got := fams["test_delivery_latency_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("delivery latency samples = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.FrameReceived("ping")
	m.FrameSent("pong")
	m.ProtocolError()
	m.StateChanged("CONNECTED", true)
	m.ReconnectAttempt()
	m.AuthFailure()
	m.SendSettled("timeout", 0)
	m.SetPending(1)
}
