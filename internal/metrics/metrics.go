package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nodues"

var (
	FormsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forms_submitted_total",
		Help:      "No dues forms accepted.",
	})

	DepartmentActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "department_actions_total",
		Help:      "Department decisions recorded, by action.",
	}, []string{"action"})

	Reapplications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reapplications_total",
		Help:      "Reapplications recorded.",
	})

	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_messages_total",
		Help:      "Chat messages stored, by sender type.",
	}, []string{"sender"})

	CertificateGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "certificate_generations_total",
		Help:      "Certificate generation attempts, by outcome.",
	}, []string{"outcome"})

	CertificateGenerationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "certificate_generation_seconds",
		Help:      "Time spent rendering and storing a certificate.",
		Buckets:   prometheus.DefBuckets,
	})

	CertificateVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "certificate_verifications_total",
		Help:      "Certificate verification requests, by result.",
	}, []string{"result"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests refused by the rate limiter, by bucket.",
	}, []string{"bucket"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Background job runs, by job and outcome.",
	}, []string{"job", "outcome"})
)
