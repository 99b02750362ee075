package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/docs2pdf/internal/progress"
)

// PrometheusSink exports conversion progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	pagesQueued   prometheus.Gauge
	runDuration   prometheus.Histogram

	pages          *prometheus.CounterVec
	retries        *prometheus.CounterVec
	artifactBytes  *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	pacingDelay    *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docs2pdf_runs_started_total",
			Help: "Conversion runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docs2pdf_runs_completed_total",
			Help: "Conversion runs finished, partitioned by result.",
		}, []string{"result"}),
		pagesQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docs2pdf_pages_queued",
			Help: "Pages submitted in the current run.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docs2pdf_run_duration_seconds",
			Help:    "Wall time per conversion run.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docs2pdf_pages_total",
			Help: "Pages finished, partitioned by site and status.",
		}, []string{"site", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docs2pdf_page_retries_total",
			Help: "Render retries, partitioned by site and error class.",
		}, []string{"site", "error_class"}),
		artifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docs2pdf_artifact_bytes_total",
			Help: "Bytes of rendered output per site.",
		}, []string{"site"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docs2pdf_page_duration_seconds",
			Help:    "Time from first attempt to terminal outcome per page.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
		}, []string{"status"}),
		pacingDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docs2pdf_rate_limit_delay_seconds",
			Help:    "Time renders waited for a per-host rate limit token.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.pagesQueued,
		s.runDuration,
		s.pages,
		s.retries,
		s.artifactBytes,
		s.renderDuration,
		s.pacingDelay,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.pagesQueued.Set(float64(evt.Total))
	case progress.StageRunDone:
		result := "completed"
		if evt.Note != "" {
			result = evt.Note
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageTaskRetry:
		class := evt.Note
		if class == "" {
			class = "other"
		}
		s.retries.WithLabelValues(site, class).Inc()
	case progress.StageTaskDone:
		s.pages.WithLabelValues(site, evt.Status).Inc()
		if evt.Bytes > 0 {
			s.artifactBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.renderDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
		}
	}
}

// ObserveRateLimitDelay records a wait imposed by per-host pacing. Pacing
// happens inside the renderer, outside the event stream.
func (s *PrometheusSink) ObserveRateLimitDelay(site string, waited time.Duration) {
	s.pacingDelay.WithLabelValues(site).Observe(waited.Seconds())
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
