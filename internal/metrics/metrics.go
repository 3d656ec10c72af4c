// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineStepDuration tracks how long each orchestrator state takes.
	PipelineStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "personaliz_pipeline_step_duration_seconds",
		Help:    "Time spent in each pipeline step",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"step"})

	// PipelineRunsTotal counts finished pipeline runs by terminal state.
	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personaliz_pipeline_runs_total",
		Help: "Total number of pipeline runs by result",
	}, []string{"result"})

	// DegradationsTotal counts collaborator calls that fell back to placeholder output.
	DegradationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personaliz_degradations_total",
		Help: "Total number of fallback results by collaborator and reason",
	}, []string{"collaborator", "reason"})

	// ToolInvocationsTotal counts external media tool runs.
	ToolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personaliz_tool_invocations_total",
		Help: "Total number of ffmpeg/ffprobe/lip-sync invocations by operation and result",
	}, []string{"op", "result"})

	// DeliveriesTotal counts outbound message attempts.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "personaliz_deliveries_total",
		Help: "Total number of message deliveries by provider and result",
	}, []string{"provider", "result"})

	// ScratchSweepRemoved counts scratch entries deleted by the janitor.
	ScratchSweepRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "personaliz_scratch_sweep_removed_total",
		Help: "Total number of stale scratch entries removed",
	})
)

// ObserveStep records the duration of a pipeline step.
func ObserveStep(step string, d time.Duration) {
	PipelineStepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RecordTool records the result of an external tool invocation.
func RecordTool(op string, err error) {
	ToolInvocationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// RecordDelivery records the result of an outbound message.
func RecordDelivery(provider string, err error) {
	DeliveriesTotal.WithLabelValues(provider, resultLabel(err)).Inc()
}

// RecordDegradation records a fallback result.
func RecordDegradation(collaborator, reason string) {
	DegradationsTotal.WithLabelValues(collaborator, reason).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
