package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/docs2pdf/internal/progress"
)

// SiteStats is the per-host summary kept by SiteSink.
type SiteStats struct {
	Site       string    `json:"site"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	Retries    int64     `json:"retries"`
	Bytes      int64     `json:"bytes"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// SiteSink folds task events into per-host counters for the status API.
type SiteSink struct {
	mu    sync.RWMutex
	sites map[string]*SiteStats
}

// NewSiteSink returns an empty SiteSink.
func NewSiteSink() *SiteSink {
	return &SiteSink{sites: make(map[string]*SiteStats)}
}

// Consume collapses the batch into per-site deltas before applying them
// under one lock.
func (s *SiteSink) Consume(_ context.Context, batch []progress.Event) error {
	deltas := make(map[string]*SiteStats)
	for _, evt := range batch {
		if evt.Stage != progress.StageTaskDone && evt.Stage != progress.StageTaskRetry {
			continue
		}
		site := evt.Site
		if site == "" {
			site = progress.SiteOf(evt.URL)
		}
		d := deltas[site]
		if d == nil {
			d = &SiteStats{Site: site}
			deltas[site] = d
		}
		switch {
		case evt.Stage == progress.StageTaskRetry:
			d.Retries++
		case evt.Status == "success":
			d.Succeeded++
			d.Bytes += evt.Bytes
		default:
			d.Failed++
		}
		if evt.TS.After(d.LastUpdate) {
			d.LastUpdate = evt.TS
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for site, d := range deltas {
		cur := s.sites[site]
		if cur == nil {
			cur = &SiteStats{Site: site}
			s.sites[site] = cur
		}
		cur.Succeeded += d.Succeeded
		cur.Failed += d.Failed
		cur.Retries += d.Retries
		cur.Bytes += d.Bytes
		if d.LastUpdate.After(cur.LastUpdate) {
			cur.LastUpdate = d.LastUpdate
		}
	}
	return nil
}

// Snapshot returns the per-site counters sorted by site.
func (s *SiteSink) Snapshot() []SiteStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SiteStats, 0, len(s.sites))
	for _, st := range s.sites {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *SiteSink) Close(context.Context) error {
	return nil
}
