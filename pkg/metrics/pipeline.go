package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records the import pipeline stages.
type PipelineMetrics struct {
	extractDuration *prometheus.HistogramVec
	rowsExtracted   *prometheus.CounterVec
	commits         *prometheus.CounterVec
	rowFailures     prometheus.Counter
	duplicates      prometheus.Counter
}

// NewPipelineMetrics registers the import pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	extractDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "import_extract_duration_seconds",
		Help:    "Duration of document extraction in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	rowsExtracted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_rows_extracted_total",
		Help: "Rows accepted by the extraction heuristics.",
	}, []string{"kind"})
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "import_commits_total",
		Help: "Committed imports by outcome.",
	}, []string{"outcome"})
	rowFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "import_row_failures_total",
		Help: "Rows that failed during commit.",
	})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "import_duplicates_rejected_total",
		Help: "Uploads rejected by the duplicate guard.",
	})
	reg.MustRegister(extractDuration, rowsExtracted, commits, rowFailures, duplicates)
	return &PipelineMetrics{
		extractDuration: extractDuration,
		rowsExtracted:   rowsExtracted,
		commits:         commits,
		rowFailures:     rowFailures,
		duplicates:      duplicates,
	}
}

// ObserveExtract records the duration of one extraction pass.
func (p *PipelineMetrics) ObserveExtract(kind string, duration time.Duration) {
	if p == nil || p.extractDuration == nil {
		return
	}
	p.extractDuration.WithLabelValues(normalizeLabel(kind)).Observe(duration.Seconds())
}

// AddRowsExtracted counts rows accepted during extraction.
func (p *PipelineMetrics) AddRowsExtracted(kind string, n int) {
	if p == nil || p.rowsExtracted == nil {
		return
	}
	p.rowsExtracted.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}

// IncCommit counts a finished commit by outcome ("ok" or "partial").
func (p *PipelineMetrics) IncCommit(outcome string) {
	if p == nil || p.commits == nil {
		return
	}
	p.commits.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// AddRowFailures counts rows that failed during a commit.
func (p *PipelineMetrics) AddRowFailures(n int) {
	if p == nil || p.rowFailures == nil {
		return
	}
	p.rowFailures.Add(float64(n))
}

// IncDuplicate counts an upload rejected as an exact duplicate.
func (p *PipelineMetrics) IncDuplicate() {
	if p == nil || p.duplicates == nil {
		return
	}
	p.duplicates.Inc()
}
