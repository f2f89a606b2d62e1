package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vqa_pipeline_outcomes_total",
			Help: "Pipeline runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	pipelineDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vqa_pipeline_duration_seconds",
			Help:    "End-to-end pipeline latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
	)
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vqa_pipeline_stage_duration_seconds",
			Help:    "Latency of a single pipeline stage.",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	retrievalDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vqa_retrieval_degraded_total",
			Help: "Retrieval signals that failed and were dropped from fusion.",
		},
		[]string{"signal"},
	)
	generationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vqa_generation_requests_total",
			Help: "Text generation calls by provider and status.",
		},
		[]string{"provider", "status"},
	)
	generationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vqa_generation_duration_seconds",
			Help:    "Text generation call latency by provider.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider"},
	)
	sessionSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vqa_session_saves_total",
			Help: "Session replace-all saves by status.",
		},
		[]string{"status"},
	)
	auditArchivedFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vqa_audit_archived_files_total",
			Help: "Rotated audit log files processed by the archiver.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineOutcomesTotal,
		pipelineDurationSeconds,
		pipelineStageDurationSeconds,
		retrievalDegradedTotal,
		generationRequestsTotal,
		generationDurationSeconds,
		sessionSavesTotal,
		auditArchivedFilesTotal,
	)
}

func ObservePipelineOutcome(outcome string, elapsed time.Duration) {
	pipelineOutcomesTotal.WithLabelValues(outcome).Inc()
	pipelineDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveStage(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementRetrievalDegraded(signal string) {
	retrievalDegradedTotal.WithLabelValues(signal).Inc()
}

func ObserveGeneration(provider string, elapsed time.Duration, err error) {
	generationRequestsTotal.WithLabelValues(provider, statusLabel(err)).Inc()
	generationDurationSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func ObserveSessionSave(err error) {
	sessionSavesTotal.WithLabelValues(statusLabel(err)).Inc()
}

func ObserveAuditArchive(err error) {
	auditArchivedFilesTotal.WithLabelValues(statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
