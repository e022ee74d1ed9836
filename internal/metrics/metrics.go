// Package metrics provides Prometheus collectors for the rename pipeline.
// Labels never carry user or file identifiers.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished pipeline runs by outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autorename_jobs_total",
		Help: "Total number of pipeline runs, by outcome.",
	}, []string{"outcome"})

	// AdmissionsTotal counts ledger decisions (premium, credit, denied, unavailable).
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autorename_admissions_total",
		Help: "Total number of credit ledger decisions, by decision.",
	}, []string{"decision"})

	// DuplicatesTotal counts submissions dropped by duplicate suppression.
	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autorename_duplicates_total",
		Help: "Total number of resubmissions suppressed inside the duplicate window.",
	})

	// MuxTotal counts metadata mux attempts by outcome.
	MuxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autorename_mux_total",
		Help: "Total number of metadata mux attempts, by outcome.",
	}, []string{"outcome"})

	// QualityAdvisoriesTotal counts jobs whose quality tag could not be found.
	QualityAdvisoriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autorename_quality_advisories_total",
		Help: "Total number of jobs renamed with an unknown quality tag.",
	})

	// SequenceFlushesTotal counts ended sequences that delivered files.
	SequenceFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autorename_sequence_flushes_total",
		Help: "Total number of sequence sessions flushed.",
	})

	// SequenceFilesTotal counts files delivered by sequence flushes.
	SequenceFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autorename_sequence_files_total",
		Help: "Total number of files delivered from sequence sessions.",
	})

	// JanitorSweptTotal counts entries removed by janitor sweeps, by kind.
	JanitorSweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autorename_janitor_swept_total",
		Help: "Total number of entries removed by janitor sweeps, by kind.",
	}, []string{"kind"})

	// JobsInFlight tracks pipeline runs past admission.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autorename_jobs_in_flight",
		Help: "Current number of jobs holding a concurrency slot.",
	})

	// ActiveSequences tracks open sequence sessions.
	ActiveSequences = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autorename_active_sequences",
		Help: "Current number of open sequence sessions.",
	})

	// HTTPRequestsTotal counts API requests by route pattern and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autorename_http_requests_total",
		Help: "Total number of API requests, by route and status class.",
	}, []string{"route", "code"})

	// StageDuration observes per-stage latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autorename_stage_duration_seconds",
		Help:    "Duration of pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})
)

// RecordJob increments the job counter for outcome.
func RecordJob(outcome string) {
	JobsTotal.WithLabelValues(outcome).Inc()
}

// RecordAdmission increments the ledger decision counter.
func RecordAdmission(decision string) {
	AdmissionsTotal.WithLabelValues(decision).Inc()
}

// RecordDuplicate increments the duplicate counter.
func RecordDuplicate() {
	DuplicatesTotal.Inc()
}

// RecordMux increments the mux counter for outcome.
func RecordMux(outcome string) {
	MuxTotal.WithLabelValues(outcome).Inc()
}

// RecordQualityAdvisory increments the unknown-quality counter.
func RecordQualityAdvisory() {
	QualityAdvisoriesTotal.Inc()
}

// RecordSequenceFlush records one flushed sequence of n files.
func RecordSequenceFlush(n int) {
	SequenceFlushesTotal.Inc()
	SequenceFilesTotal.Add(float64(n))
}

// RecordSwept adds n to the janitor counter for kind.
func RecordSwept(kind string, n int) {
	if n > 0 {
		JanitorSweptTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordHTTPRequest counts one API request. status is reduced to its class
// (2xx, 4xx, ...) to bound cardinality.
func RecordHTTPRequest(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(route, fmt.Sprintf("%dxx", status/100)).Inc()
}

// ObserveStage records how long stage took since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
