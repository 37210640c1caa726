package tui

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/sketchar/internal/events"
)

const maxTrackedJobs = 50

// JobState tracks one generation job seen on the event stream.
type JobState struct {
	ID        string
	Backend   string
	Status    string
	ErrorKind string
	SizeBytes int64
	Duration  time.Duration
	Started   time.Time
}

// jobBook keeps tracked jobs newest first.
type jobBook struct {
	byID  map[string]*JobState
	order []string
}

func newJobBook() *jobBook {
	return &jobBook{byID: make(map[string]*JobState)}
}

// apply folds a lifecycle event into the book. Unknown events are ignored.
func (b *jobBook) apply(e events.Event) {
	var p events.JobPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
		return
	}

	job, ok := b.byID[p.JobID]
	if !ok {
		job = &JobState{ID: p.JobID, Started: e.At}
		b.byID[p.JobID] = job
		b.order = append([]string{p.JobID}, b.order...)
		if len(b.order) > maxTrackedJobs {
			for _, id := range b.order[maxTrackedJobs:] {
				delete(b.byID, id)
			}
			b.order = b.order[:maxTrackedJobs]
		}
	}
	if p.Backend != "" {
		job.Backend = p.Backend
	}

	switch e.Type {
	case events.JobStarted:
		job.Status = "running"
	case events.JobSucceeded:
		job.Status = "succeeded"
		job.SizeBytes = p.SizeBytes
		job.Duration = time.Duration(p.DurationMS) * time.Millisecond
	case events.JobFailed:
		job.Status = p.Status
		if job.Status == "" {
			job.Status = "failed"
		}
		job.ErrorKind = p.ErrorKind
		job.Duration = time.Duration(p.DurationMS) * time.Millisecond
	}
}

// running returns the job currently in flight, if any.
func (b *jobBook) running() *JobState {
	for _, id := range b.order {
		if j := b.byID[id]; j.Status == "running" {
			return j
		}
	}
	return nil
}

func (b *jobBook) rows() []table.Row {
	rows := make([]table.Row, 0, len(b.order))
	for _, id := range b.order {
		j := b.byID[id]
		short := j.ID
		if len(short) > 8 {
			short = short[:8]
		}
		duration := "-"
		if j.Duration > 0 {
			duration = j.Duration.Round(100 * time.Millisecond).String()
		} else if j.Status == "running" && !j.Started.IsZero() {
			duration = time.Since(j.Started).Round(time.Second).String()
		}
		detail := j.ErrorKind
		if j.Status == "succeeded" {
			detail = formatBytes(j.SizeBytes)
		}
		rows = append(rows, table.Row{statusIcon(j.Status), short, j.Backend, j.Status, duration, detail})
	}
	return rows
}

func statusIcon(status string) string {
	switch status {
	case "running":
		return "▶"
	case "succeeded":
		return "✓"
	default:
		return "✗"
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
