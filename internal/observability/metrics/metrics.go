package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters/histograms for call and bridge flows.
type CallMetrics struct {
	callsStarted    *prometheus.CounterVec
	framesForwarded *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	webhookTotal    *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nursecall",
			Subsystem: "calls",
			Name:      "started_total",
			Help:      "Total outbound call placements",
		}, []string{"status"}),
		framesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nursecall",
			Subsystem: "bridge",
			Name:      "frames_forwarded_total",
			Help:      "Total audio frames forwarded across the bridge",
		}, []string{"direction"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nursecall",
			Subsystem: "bridge",
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped by the bridge",
		}, []string{"reason"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nursecall",
			Subsystem: "bridge",
			Name:      "outcomes_total",
			Help:      "Total structured outcomes extracted from agent speech",
		}, []string{"result"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nursecall",
			Subsystem: "bridge",
			Name:      "session_duration_seconds",
			Help:      "Duration of bridge sessions from start frame to close",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"policy"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nursecall",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total post-call webhook events",
		}, []string{"event_type", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nursecall",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of post-call webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.callsStarted,
		m.framesForwarded,
		m.framesDropped,
		m.outcomes,
		m.sessionDuration,
		m.webhookTotal,
		m.webhookLatency,
	)
	return m
}

func (m *CallMetrics) ObserveCallStarted(status string) {
	if m == nil {
		return
	}
	m.callsStarted.WithLabelValues(status).Inc()
}

func (m *CallMetrics) ObserveFrameForwarded(direction string) {
	if m == nil {
		return
	}
	m.framesForwarded.WithLabelValues(direction).Inc()
}

func (m *CallMetrics) ObserveFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *CallMetrics) ObserveOutcome(result string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(result).Inc()
}

func (m *CallMetrics) ObserveSessionDuration(policy string, seconds float64) {
	if m == nil {
		return
	}
	m.sessionDuration.WithLabelValues(policy).Observe(seconds)
}

func (m *CallMetrics) ObserveWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
}

func (m *CallMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}
