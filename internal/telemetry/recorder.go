// Package telemetry exports sync and quality metrics in Prometheus format.
package telemetry

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/rotisserie/eris"

	"ingest-quality-service/internal/coordinator"
	"ingest-quality-service/internal/quality"
)

const defaultNamespace = "ingest"

// Recorder implements coordinator.Recorder and quality.Recorder on a private
// registry.
type Recorder struct {
	registry *prometheus.Registry

	syncRuns        *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	syncItems       *prometheus.CounterVec
	syncLastSuccess *prometheus.GaugeVec
	syncMemoryDelta *prometheus.GaugeVec

	qualityRecords      *prometheus.GaugeVec
	qualityAverageScore prometheus.Gauge
	qualityDistribution *prometheus.GaugeVec
	qualityIssues       *prometheus.GaugeVec
	assessDuration      prometheus.Histogram
}

type options struct {
	namespace   string
	constLabels prometheus.Labels
	runtime     bool
}

// Option configures a Recorder.
type Option func(*options)

// WithNamespace overrides the metric name prefix.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithConstLabels attaches fixed labels to every metric.
func WithConstLabels(labels map[string]string) Option {
	return func(o *options) { o.constLabels = labels }
}

// WithRuntimeMetrics also registers the Go runtime and process collectors.
func WithRuntimeMetrics() Option {
	return func(o *options) { o.runtime = true }
}

// NewRecorder creates a recorder with its metrics registered.
func NewRecorder(opts ...Option) *Recorder {
	o := options{namespace: defaultNamespace}
	for _, opt := range opts {
		opt(&o)
	}
	ns, cl := o.namespace, o.constLabels

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sync", Name: "runs_total",
			Help: "Completed sync runs by outcome.", ConstLabels: cl,
		}, []string{"source_id", "status"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "sync", Name: "duration_seconds",
			Help:        "Wall-clock duration of sync runs.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			ConstLabels: cl,
		}, []string{"source_id"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sync", Name: "items_total",
			Help: "Items reported by sync strategies.", ConstLabels: cl,
		}, []string{"source_id", "kind"}),
		syncLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "sync", Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync.", ConstLabels: cl,
		}, []string{"source_id"}),
		syncMemoryDelta: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "sync", Name: "memory_delta_bytes",
			Help: "Heap growth during the last sync.", ConstLabels: cl,
		}, []string{"source_id"}),
		qualityRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "quality", Name: "records",
			Help: "Record counts of the last assessed batch.", ConstLabels: cl,
		}, []string{"state"}),
		qualityAverageScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "quality", Name: "average_score",
			Help: "Average quality score (0-100) of the last assessed batch.", ConstLabels: cl,
		}),
		qualityDistribution: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "quality", Name: "score_distribution",
			Help: "Records per score bucket in the last assessed batch.", ConstLabels: cl,
		}, []string{"bucket"}),
		qualityIssues: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "quality", Name: "common_issues",
			Help: "Common issues of the last assessed batch by severity.", ConstLabels: cl,
		}, []string{"severity"}),
		assessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "quality", Name: "assessment_duration_seconds",
			Help: "Time spent assessing a batch.", ConstLabels: cl,
		}),
	}

	r.registry.MustRegister(
		r.syncRuns, r.syncDuration, r.syncItems, r.syncLastSuccess, r.syncMemoryDelta,
		r.qualityRecords, r.qualityAverageScore, r.qualityDistribution, r.qualityIssues, r.assessDuration,
	)
	if o.runtime {
		r.registry.MustRegister(
			promcollectors.NewGoCollector(),
			promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveSync records one completed sync.
func (r *Recorder) ObserveSync(res coordinator.Result) {
	status := "success"
	if !res.Success {
		status = "failure"
	}
	r.syncRuns.WithLabelValues(res.SourceID, status).Inc()
	r.syncDuration.WithLabelValues(res.SourceID).Observe(res.Metrics.Duration.Seconds())
	r.syncItems.WithLabelValues(res.SourceID, "new").Add(float64(res.Metrics.NewItems))
	r.syncItems.WithLabelValues(res.SourceID, "existing").Add(float64(res.Metrics.ExistingItems))
	r.syncItems.WithLabelValues(res.SourceID, "processed").Add(float64(res.Metrics.ProcessedItems))
	r.syncMemoryDelta.WithLabelValues(res.SourceID).Set(float64(res.Metrics.MemoryDelta))
	if res.Success {
		r.syncLastSuccess.WithLabelValues(res.SourceID).Set(float64(res.Metrics.EndTime.Unix()))
	}
}

// ObserveAssessment records the summary of one batch.
func (r *Recorder) ObserveAssessment(m quality.Metrics, d time.Duration) {
	r.qualityRecords.WithLabelValues("total").Set(float64(m.TotalRecords))
	r.qualityRecords.WithLabelValues("valid").Set(float64(m.ValidRecords))
	r.qualityRecords.WithLabelValues("invalid").Set(float64(m.InvalidRecords))
	r.qualityRecords.WithLabelValues("duplicate").Set(float64(m.UniqueDuplicateRecords))
	r.qualityAverageScore.Set(m.AverageQualityScore)

	r.qualityDistribution.WithLabelValues("excellent").Set(float64(m.ScoreDistribution.Excellent))
	r.qualityDistribution.WithLabelValues("good").Set(float64(m.ScoreDistribution.Good))
	r.qualityDistribution.WithLabelValues("fair").Set(float64(m.ScoreDistribution.Fair))
	r.qualityDistribution.WithLabelValues("poor").Set(float64(m.ScoreDistribution.Poor))

	bySeverity := map[quality.Severity]int{}
	for _, issue := range m.CommonIssues {
		bySeverity[issue.Severity]++
	}
	for _, s := range []quality.Severity{quality.SeverityCritical, quality.SeverityHigh, quality.SeverityMedium, quality.SeverityLow} {
		r.qualityIssues.WithLabelValues(string(s)).Set(float64(bySeverity[s]))
	}

	r.assessDuration.Observe(d.Seconds())
}

// WriteText writes every metric in the Prometheus text exposition format.
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return eris.Wrap(err, "failed to gather metrics")
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return eris.Wrap(err, "failed to encode metrics")
		}
	}
	return nil
}

// WriteTextfile writes the metrics atomically for node_exporter's textfile
// collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
