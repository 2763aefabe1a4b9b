// Package metrics exposes Prometheus counters for the conversation engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transition results.
const (
	ResultAdvanced  = "advanced"
	ResultInvalid   = "invalid"
	ResultEscalated = "escalated"
)

// Nudge response outcomes.
const (
	OutcomeResumed  = "resumed"
	OutcomeDeclined = "declined"
)

// GenAI request outcomes. Failure outcomes use the genai error kind.
const (
	OutcomeOK       = "ok"
	OutcomeCooldown = "cooldown"
)

var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_transitions_total",
		Help: "State machine transitions by source state and result.",
	}, []string{"state", "result"})

	NudgesFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpipe_nudges_fired_total",
		Help: "Nudge timers that moved a session into the nudge state.",
	})

	NudgeResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_nudge_responses_total",
		Help: "Replies to nudges by outcome.",
	}, []string{"outcome"})

	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpipe_escalations_total",
		Help: "Sessions sent back to welcome after repeated validation failures.",
	})

	SessionsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpipe_sessions_reaped_total",
		Help: "Expired incomplete sessions removed by the reaper.",
	})

	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpipe_sessions_completed_total",
		Help: "Sessions that reached the terminal state.",
	})

	GenAIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_genai_requests_total",
		Help: "AI phrasing requests by outcome.",
	}, []string{"outcome"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
