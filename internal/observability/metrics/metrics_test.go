package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCallMetricsObserve(t *testing.T) {
	m := NewCallMetrics(prometheus.NewRegistry())
	m.ObserveCallStarted("placed")
	m.ObserveFrameForwarded("carrier_to_agent")
	m.ObserveFrameDropped("wrong_track")
	m.ObserveOutcome("rescheduled")
	m.ObserveSessionDuration("fixed-delay", 42.5)
	m.ObserveWebhook("post_call_transcription", "processed")
	m.ObserveWebhookLatency("post_call_transcription", 0.2)
}

func TestCallMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCallMetrics(reg)
	m.ObserveCallStarted("rejected")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "nursecall_calls_started_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nursecall_calls_started_total in registry")
	}
}

func TestCallMetricsNilSafe(t *testing.T) {
	var m *CallMetrics
	m.ObserveCallStarted("placed")
	m.ObserveFrameForwarded("agent_to_carrier")
	m.ObserveFrameDropped("suppressed")
	m.ObserveOutcome("flagged")
	m.ObserveSessionDuration("quiet-poll", 1)
	m.ObserveWebhook("event", "ignored")
	m.ObserveWebhookLatency("event", 0.1)
}
