package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageTaskRetry Stage = "TASK_RETRY"
	StageTaskDone  Stage = "TASK_DONE"
	StageRunDone   Stage = "RUN_DONE"
)

// Event captures a single milestone of a conversion run.
type Event struct {
	// RunID identifies the conversion run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or task milestone occurred.
	Stage Stage
	// Site is the page host, set for task events.
	Site string
	// URL is the page URL for task events.
	URL string
	// Status is the task status for TASK_DONE ("success", "failure").
	Status string
	// Bytes is the artifact size of a successful task.
	Bytes int64
	// Attempt is the failed attempt number for TASK_RETRY and the total
	// attempts for TASK_DONE.
	Attempt int
	// Total is the number of pages queued, set on RUN_START.
	Total int
	// Dur is the task or run duration.
	Dur time.Duration
	// Note carries low-volume context such as an error class.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageTaskRetry:
		if e.URL == "" {
			return errors.New("task retry requires url")
		}
	case StageTaskDone:
		if e.URL == "" {
			return errors.New("task done requires url")
		}
		if e.Status == "" {
			return errors.New("task done requires status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SiteOf returns the lowercase host of rawURL, or "unknown".
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
