// Package metrics defines the Prometheus collectors exported by the
// timeline maintainer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for PipelineRuns.
const (
	OutcomeSuccess      = "success"
	OutcomeNoWork       = "no_work"
	OutcomeInconsistent = "inconsistent_state"
	OutcomeParseFailure = "parse_failure"
	OutcomeStoreFailure = "store_failure"
)

var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_pipeline_runs_total",
		Help: "Pipeline invocations by mode and outcome",
	}, []string{"mode", "outcome"})

	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timeline_pipeline_duration_seconds",
		Help:    "Duration of pipeline invocations",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"mode"})

	DaysResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeline_days_resolved_total",
		Help: "Calendar days resolved to a range timeline",
	})

	TimelinesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeline_range_timelines_created_total",
		Help: "Range timelines created by the resolver",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeline_day_cache_hits_total",
		Help: "Day resolutions answered from the day cache",
	})

	NextDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timeline_maintainer_next_delay_seconds",
		Help: "Delay before the next scheduled discovery pass",
	})
)

// ObservePipeline records one pipeline invocation.
func ObservePipeline(mode, outcome string, elapsed time.Duration) {
	PipelineRuns.WithLabelValues(mode, outcome).Inc()
	PipelineDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
