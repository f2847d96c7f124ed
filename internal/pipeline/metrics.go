package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requeriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disasterops_requery_total",
		Help: "Queries re-issued with the expanded candidate window after zero evidence.",
	}, []string{"facet"})

	generationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disasterops_generation_attempts_total",
		Help: "Generation capability calls by outcome.",
	}, []string{"outcome"})

	verificationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disasterops_verification_results_total",
		Help: "Verification results by status and claim category.",
	}, []string{"status", "category"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disasterops_pipeline_runs_total",
		Help: "Pipeline runs by terminal state.",
	}, []string{"state"})
)
