// Package telemetry exposes run metrics in the Prometheus format.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/indexwatch/internal/models"
)

// Recorder collects per-run metrics on its own registry.
type Recorder struct {
	registry       *prometheus.Registry
	pointsMerged   prometheus.Counter
	indexFailures  *prometheus.CounterVec
	runs           prometheus.Counter
	percentileRank *prometheus.GaugeVec
	drawdown       *prometheus.GaugeVec
	lastRun        prometheus.Gauge
	lastRunFailed  prometheus.Gauge
}

// NewRecorder creates a Recorder with all metrics registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pointsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexwatch_points_merged_total",
			Help: "Dates added or changed in stored series.",
		}),
		indexFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexwatch_index_failures_total",
			Help: "Indices that could not be processed in a run.",
		}, []string{"index"}),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexwatch_runs_total",
			Help: "Completed pipeline runs.",
		}),
		percentileRank: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexwatch_percentile_rank",
			Help: "Percentile rank of the primary valuation metric, 0-100.",
		}, []string{"index", "metric"}),
		drawdown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexwatch_drawdown",
			Help: "Drawdown from the trailing peak price, 0-1.",
		}, []string{"index"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexwatch_last_run_timestamp_seconds",
			Help: "Finish time of the last run.",
		}),
		lastRunFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexwatch_last_run_failed_indices",
			Help: "Indices that failed in the last run.",
		}),
	}

	r.registry.MustRegister(
		r.pointsMerged,
		r.indexFailures,
		r.runs,
		r.percentileRank,
		r.drawdown,
		r.lastRun,
		r.lastRunFailed,
	)
	return r
}

// ObserveSnapshot records the indicators of one index.
// Absent indicators remove the series instead of reporting zero.
func (r *Recorder) ObserveSnapshot(snap models.IndicatorSnapshot, merged int) {
	r.pointsMerged.Add(float64(merged))

	r.percentileRank.DeletePartialMatch(prometheus.Labels{"index": snap.IndexID})
	if snap.PercentileRank != nil {
		r.percentileRank.WithLabelValues(snap.IndexID, snap.PrimaryMetric).Set(*snap.PercentileRank)
	}

	if snap.Drawdown != nil {
		r.drawdown.WithLabelValues(snap.IndexID).Set(*snap.Drawdown)
	} else {
		r.drawdown.DeleteLabelValues(snap.IndexID)
	}
}

// ObserveFailure records an index that failed in a run.
func (r *Recorder) ObserveFailure(indexID string) {
	r.indexFailures.WithLabelValues(indexID).Inc()
}

// ObserveRun records the completion of a run.
func (r *Recorder) ObserveRun(run models.RunRecord) {
	r.runs.Inc()
	r.lastRun.Set(float64(run.FinishedAt.Unix()))
	r.lastRunFailed.Set(float64(run.Failed))
}

// WriteTextfile writes every metric to path for a node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler serves the metrics over HTTP.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
