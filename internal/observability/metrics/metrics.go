package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus instruments for the checkout subsystem.
type Metrics struct {
	webhookEvents  *prometheus.CounterVec
	confirmations  *prometheus.CounterVec
	intentsCreated prometheus.Counter
	intentsReused  prometheus.Counter
	sweptSessions  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "webhook_events_total",
			Help:      "Gateway webhook events by reconciliation outcome.",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "backend_confirmations_total",
			Help:      "Backend-of-record confirmation attempts by result.",
		}, []string{"result"}),
		intentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "payment_intents_created_total",
			Help:      "New payment intents minted at the gateway.",
		}),
		intentsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "payment_intents_reused_total",
			Help:      "StartPurchase calls answered from an existing live session.",
		}),
		sweptSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "sessions_swept_total",
			Help:      "Expired purchase sessions removed by the sweeper.",
		}),
	}
	prometheus.MustRegister(
		m.webhookEvents,
		m.confirmations,
		m.intentsCreated,
		m.intentsReused,
		m.sweptSessions,
	)
	return m
}

// Webhook outcomes. Duplicate means the session is already gone (the work is
// done); deferred means another attempt currently owns the confirmation and
// its result is not known yet.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeDeferred  = "deferred"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

func (m *Metrics) RecordWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordConfirmation(result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordIntentCreated() {
	if m == nil {
		return
	}
	m.intentsCreated.Inc()
}

func (m *Metrics) RecordIntentReused() {
	if m == nil {
		return
	}
	m.intentsReused.Inc()
}

func (m *Metrics) RecordSweptSessions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptSessions.Add(float64(n))
}
