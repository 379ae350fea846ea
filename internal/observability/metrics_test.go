package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionEvent("paired")
	m.SetActiveSessions(3)
	m.SetQueueDepth(1)
	m.ObserveWSMessage("inbound", "ping")
	m.ObserveOutboundMessage("pong", "queued")
	m.ObservePersistence("ok")
	m.ObserveSessionDuration(time.Second)
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(fmt.Sprintf("test_observability_%d", time.Now().UnixNano()))
	m.SessionEvent("paired")
	m.SessionEvent("paired")
	m.SetQueueDepth(4)

	if got := readValue(t, m.SessionEvents.WithLabelValues("paired")); got != 2 {
		t.Fatalf("session_events_total{paired} = %v, want 2", got)
	}
	if got := readValue(t, m.QueueDepth); got != 4 {
		t.Fatalf("queue_depth = %v, want 4", got)
	}
}

func readValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	default:
		t.Fatalf("unexpected metric %v", &out)
		return 0
	}
}
