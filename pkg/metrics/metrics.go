package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calbot_turns_total",
		Help: "Inbound turns processed, by terminal state (final, aborted, error).",
	}, []string{"state"})

	IterationsPerTurn = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calbot_reason_iterations_per_turn",
		Help:    "REASON cycles consumed by a single turn.",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calbot_tool_executions_total",
		Help: "Tool executions, by tool name and outcome (ok, error, skipped).",
	}, []string{"tool", "outcome"})

	GuardrailTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calbot_guardrail_triggers_total",
		Help: "Guardrail activations, by guardrail (confirmation_gate, success_claim, progress_message).",
	}, []string{"guardrail"})

	IterationCapHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calbot_iteration_cap_hits_total",
		Help: "Turns aborted by the iteration cap.",
	})

	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calbot_bookings_total",
		Help: "Booking sub-flow outcomes (confirmed, not_confirmed, conflict, failed).",
	}, []string{"outcome"})

	ConflictProposals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calbot_conflict_proposals_total",
		Help: "Scheduling conflicts that produced an alternative-slot proposal.",
	})
)
