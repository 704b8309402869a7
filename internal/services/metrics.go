// Package services – domain metrics
//
// Prometheus collectors describing pipeline outcomes. Label values are closed
// sets (outcome, clamped field, plan id) so cardinality stays bounded.
package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/visa-eval-backend/internal/domain"
	"github.com/tbourn/visa-eval-backend/internal/prompt"
)

var (
	// evaluationsTotal counts terminal evaluations by outcome.
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluations_total",
			Help: "Evaluations that reached a terminal state, by outcome.",
		},
		[]string{"outcome"},
	)

	// scoreClamped counts model scores that were lowered to the ceiling.
	// field is "score" or "checkpoint".
	scoreClamped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_score_clamped_total",
			Help: "Model scores clamped to the allowed range.",
		},
		[]string{"field"},
	)

	// quotaDenied counts admissions rejected by the quota gate.
	quotaDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_denied_total",
			Help: "Requests rejected because the plan quota was exhausted.",
		},
		[]string{"plan"},
	)
)

func init() {
	prometheus.MustRegister(evaluationsTotal, scoreClamped, quotaDenied)
}

func observeOutcome(o domain.Outcome) {
	if o != "" {
		evaluationsTotal.WithLabelValues(string(o)).Inc()
	}
}

func observeClamps(rep prompt.Report) {
	for _, c := range rep.Clamps {
		field := "checkpoint"
		if c.Field == "score" {
			field = "score"
		}
		scoreClamped.WithLabelValues(field).Inc()
	}
}
