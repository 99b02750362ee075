package convert

import (
	"fmt"
	"strings"
	"time"
)

// Status is the terminal state of a single page task.
type Status string

// Supported task statuses.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// PageContent is the extracted main region of a page, used in merge mode.
type PageContent struct {
	URL   string
	Title string
	HTML  string
}

// Task is one page URL waiting in the work queue. Index is its submission
// position in the resolved URL list; ArtifactPath, when set, is the storage
// path reserved for the page's output.
type Task struct {
	URL          string
	Index        int
	ArtifactPath string
}

// TaskOutcome is emitted exactly once per submitted URL.
type TaskOutcome struct {
	URL          string
	Index        int
	Status       Status
	ErrorReason  string
	ArtifactPath string
	SizeBytes    int64
	Duration     time.Duration
	Attempts     int
	Content      *PageContent
}

// RunStats are the run-wide counters persisted with every checkpoint.
type RunStats struct {
	Total           int64 `json:"total"`
	Successful      int64 `json:"successful"`
	Failed          int64 `json:"failed"`
	Skipped         int64 `json:"skipped"`
	TotalSizeBytes  int64 `json:"totalSizeBytes"`
	TotalDurationMs int64 `json:"totalDurationMs"`
}

// Accounted reports whether every URL of the run has reached a terminal state.
func (s RunStats) Accounted() bool {
	return s.Successful+s.Failed+s.Skipped == s.Total
}

// MeanDuration returns the average render time of the tasks that ran.
func (s RunStats) MeanDuration() time.Duration {
	ran := s.Successful + s.Failed
	if ran == 0 {
		return 0
	}
	return time.Duration(s.TotalDurationMs/ran) * time.Millisecond
}

// PaperFormat names a printable page size.
type PaperFormat string

// Supported paper formats.
const (
	FormatA4     PaperFormat = "A4"
	FormatA3     PaperFormat = "A3"
	FormatLetter PaperFormat = "Letter"
)

// ParsePaperFormat matches the format name case-insensitively.
func ParsePaperFormat(raw string) (PaperFormat, error) {
	for _, f := range []PaperFormat{FormatA4, FormatA3, FormatLetter} {
		if strings.EqualFold(strings.TrimSpace(raw), string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown paper format %q", raw)
}

// Inches returns the paper width and height in inches.
func (f PaperFormat) Inches() (float64, float64) {
	switch f {
	case FormatA3:
		return 11.69, 16.54
	case FormatLetter:
		return 8.5, 11
	default:
		return 8.27, 11.69
	}
}

// Quality selects the render scale factor.
type Quality string

// Supported quality levels.
const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// ParseQuality validates a quality name.
func ParseQuality(raw string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(raw)))
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return q, nil
	default:
		return "", fmt.Errorf("unknown quality %q", raw)
	}
}

// Scale maps the quality to the renderer scale factor.
func (q Quality) Scale() float64 {
	switch q {
	case QualityLow:
		return 0.6
	case QualityMedium:
		return 0.8
	default:
		return 1.0
	}
}

// MergeOrder decides how merged pages are sequenced.
type MergeOrder string

// Supported merge orders.
const (
	// OrderCompletion appends pages as tasks finish.
	OrderCompletion MergeOrder = "completion"
	// OrderSitemap buffers pages and emits them in submission order.
	OrderSitemap MergeOrder = "sitemap"
)

// ParseMergeOrder validates a merge order name.
func ParseMergeOrder(raw string) (MergeOrder, error) {
	o := MergeOrder(strings.ToLower(strings.TrimSpace(raw)))
	switch o {
	case "":
		return OrderCompletion, nil
	case OrderCompletion, OrderSitemap:
		return o, nil
	default:
		return "", fmt.Errorf("unknown merge order %q", raw)
	}
}

// RenderOptions are passed through to the Renderer for each page.
type RenderOptions struct {
	HideNavigation bool
	Timeout        time.Duration
	Format         PaperFormat
	Scale          float64
	Extract        bool
	// ArtifactPath overrides the path derived from the page URL.
	ArtifactPath string
}

// RenderResult carries either an artifact or extracted content.
type RenderResult struct {
	ArtifactPath string
	SizeBytes    int64
	Content      *PageContent
}

// Config is the immutable configuration of one conversion run.
type Config struct {
	SitemapURL      string
	OutputRoot      string
	Concurrency     int
	MaxRetries      int
	InterTaskDelay  time.Duration
	BackoffBase     time.Duration
	Timeout         time.Duration
	HideNavigation  bool
	Format          PaperFormat
	Quality         Quality
	Resume          bool
	Merge           bool
	MergeOrder      MergeOrder
	Filters         FilterRules
	CheckpointPath  string
	CheckpointEvery int
}

// RenderOptions derives the per-page renderer options from the run config.
func (c Config) RenderOptions() RenderOptions {
	return RenderOptions{
		HideNavigation: c.HideNavigation,
		Timeout:        c.Timeout,
		Format:         c.Format,
		Scale:          c.Quality.Scale(),
		Extract:        c.Merge,
	}
}
