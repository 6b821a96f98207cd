package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Business counters served on /metrics alongside the default process and
// go-redis collectors.
var (
	AttemptsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashiq",
		Name:      "quiz_attempts_started_total",
		Help:      "Quiz sessions started, by mode.",
	}, []string{"mode"})

	AttemptsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cashiq",
		Name:      "quiz_attempts_finished_total",
		Help:      "Quiz sessions finished, by mode.",
	}, []string{"mode"})

	Disqualifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cashiq",
		Name:      "quiz_disqualifications_total",
		Help:      "Weekly attempts disqualified by the visibility monitor.",
	})

	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cashiq",
		Name:      "quiz_generation_failures_total",
		Help:      "Quiz content generation calls that returned no usable quiz.",
	})

	Enrollments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cashiq",
		Name:      "wallet_enrollments_total",
		Help:      "Committed weekly enrollments (entry fee debited).",
	})
)
