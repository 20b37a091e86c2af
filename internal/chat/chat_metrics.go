package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the message pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     prometheus.Histogram
	LLMCallsTotal    *prometheus.CounterVec
	LLMTokensIn      prometheus.Counter
	LLMTokensOut     prometheus.Counter
	RedactionsTotal  *prometheus.CounterVec
	FactsApplied     *prometheus.CounterVec
	EscalationOffers prometheus.Counter
	EscalationsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_turns_total",
			Help: "Total processed patient turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carelink_turn_duration_seconds",
			Help:    "Duration of full pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_llm_calls_total",
			Help: "Total completion-service calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_llm_tokens_input_total",
			Help: "Total completion-service input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_llm_tokens_output_total",
			Help: "Total completion-service output tokens consumed.",
		}),
		RedactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_redactions_total",
			Help: "Total redacted substrings by category.",
		}, []string{"category"}),
		FactsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_memory_facts_applied_total",
			Help: "Total memory mutations by action.",
		}, []string{"action"}),
		EscalationOffers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_escalation_offers_total",
			Help: "Total escalation offers surfaced to patients.",
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_escalations_total",
			Help: "Total escalation state transitions.",
		}, []string{"transition"}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.RedactionsTotal,
		m.FactsApplied,
		m.EscalationOffers,
		m.EscalationsTotal,
	)

	return m
}

func (m *Metrics) observeTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

func (m *Metrics) observeLLMCall(op string, err error, tokensIn, tokensOut int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMCallsTotal.WithLabelValues(op, outcome).Inc()
	m.LLMTokensIn.Add(float64(tokensIn))
	m.LLMTokensOut.Add(float64(tokensOut))
}

func (m *Metrics) observeRedaction(names, idNumbers, phones int) {
	if m == nil {
		return
	}
	m.RedactionsTotal.WithLabelValues("name").Add(float64(names))
	m.RedactionsTotal.WithLabelValues("id_number").Add(float64(idNumbers))
	m.RedactionsTotal.WithLabelValues("phone").Add(float64(phones))
}

func (m *Metrics) observeFacts(actions []string) {
	if m == nil {
		return
	}
	for _, a := range actions {
		m.FactsApplied.WithLabelValues(a).Inc()
	}
}

func (m *Metrics) observeEscalationOffer() {
	if m == nil {
		return
	}
	m.EscalationOffers.Inc()
}

// ObserveEscalationTransition records an escalation lifecycle step
// (created, viewed, in_progress, resolved).
func (m *Metrics) ObserveEscalationTransition(transition string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(transition).Inc()
}
