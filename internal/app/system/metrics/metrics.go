// internal/app/system/metrics/metrics.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// outcome: success|noresult|multipleresults|error
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcodes_activations_total",
			Help: "Activation attempts by caller-facing outcome.",
		},
		[]string{"outcome"},
	)

	// reason: bounded eligibility or failure reason (code_mismatch, max_use_reached, lookup, ...)
	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcodes_activation_rejections_total",
			Help: "Activation attempts that did not succeed, by internal reason.",
		},
		[]string{"reason"},
	)

	activationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regcodes_activation_duration_seconds",
			Help:    "Duration of an activation from lookup to propagation.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"outcome"},
	)

	commitConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regcodes_commit_conflicts_total",
			Help: "Use commits that lost a version race and were re-evaluated.",
		},
	)

	// kind: group|workspace
	// status: granted|already_member|skipped|failed
	propagationTargets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcodes_propagation_targets_total",
			Help: "Membership grant targets by kind and result.",
		},
		[]string{"kind", "status"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regcodes_activation_rate_limited_total",
			Help: "Activation requests refused by the attempt limiter.",
		},
	)

	// kind: code|reference|record
	generatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcodes_generated_total",
			Help: "Codes, references and records produced by the generator.",
		},
		[]string{"kind"},
	)

	redeemableCodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regcodes_redeemable_codes",
			Help: "Live, active, in-window records with uses left, refreshed by the background job.",
		},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regcodes_job_runs_total",
			Help: "Background job runs by job name and result.",
		},
		[]string{"job", "result"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			activationsTotal, rejectionsTotal, activationDuration,
			commitConflicts, propagationTargets, rateLimited,
			generatedTotal, redeemableCodes, jobRuns,
		)
	})
}

// ObserveActivation counts one finished activation.
func ObserveActivation(outcome string, d time.Duration) {
	activationsTotal.WithLabelValues(outcome).Inc()
	activationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveRejection counts the internal reason behind a non-success outcome.
func ObserveRejection(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	rejectionsTotal.WithLabelValues(reason).Inc()
}

func IncCommitConflict() { commitConflicts.Inc() }

func IncRateLimited() { rateLimited.Inc() }

func ObservePropagation(kind, status string) {
	propagationTargets.WithLabelValues(kind, status).Inc()
}

func IncGenerated(kind string) { generatedTotal.WithLabelValues(kind).Inc() }

func SetRedeemableCodes(n int64) { redeemableCodes.Set(float64(n)) }

// ObserveJobRun counts one background job run; result is ok or error.
func ObserveJobRun(job, result string) { jobRuns.WithLabelValues(job, result).Inc() }
