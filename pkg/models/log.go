package models

import "time"

// Stats holds the totals of one job.
type Stats struct {
	Found        int           `json:"found"`
	Downloaded   int           `json:"downloaded"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Transcoded   int           `json:"transcoded"`
	BytesWritten int64         `json:"bytes_written"`
	Duration     time.Duration `json:"duration"`
}

// Add folds one task result into the totals.
func (s *Stats) Add(r Result) {
	switch r.Status {
	case StatusDownloaded:
		s.Downloaded++
		s.BytesWritten += r.Bytes
		if r.Transcoded {
			s.Transcoded++
		}
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
}

// EventKind names a line of the job log.
type EventKind string

const (
	EventStart      EventKind = "start"
	EventDirectory  EventKind = "directory"
	EventDownloaded EventKind = "downloaded"
	EventTranscoded EventKind = "transcoded"
	EventSkipped    EventKind = "skipped"
	EventFailed     EventKind = "failed"
	EventSummary    EventKind = "summary"
	// EventError ends a job that could not run at all, e.g. the page fetch
	// failed.
	EventError EventKind = "error"
)

// Event is one entry of the append-only job log. Every task produces exactly
// one of downloaded, transcoded, skipped or failed.
type Event struct {
	JobID string    `json:"job_id,omitempty"`
	Kind  EventKind `json:"kind"`
	Title string    `json:"title,omitempty"`
	File  string    `json:"file,omitempty"`
	Index int       `json:"index"`
	Total int       `json:"total,omitempty"`
	Bytes int64     `json:"bytes,omitempty"`
	Error string    `json:"error,omitempty"`
	Stats *Stats    `json:"stats,omitempty"`
	Time  time.Time `json:"time"`
}

// Terminal reports whether the event closes a task.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventDownloaded, EventTranscoded, EventSkipped, EventFailed:
		return true
	}
	return false
}
