package models

import "fmt"

// Mode selects how destination file names are built.
type Mode string

const (
	// ModeOrdered prefixes the sequence index: "{index}_{fileId}".
	ModeOrdered Mode = "ordered"
	// ModeFast uses the bare remote file name. Two references sharing a
	// name land on the same destination.
	ModeFast Mode = "fast"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOrdered, ModeFast:
		return Mode(s), nil
	case "":
		return ModeOrdered, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeOrdered, ModeFast)
	}
}

// TaskStatus is the terminal state of a download task.
type TaskStatus string

const (
	StatusDownloaded TaskStatus = "downloaded"
	StatusSkipped    TaskStatus = "skipped"
	StatusFailed     TaskStatus = "failed"
)

// Result is the outcome of one task.
type Result struct {
	Task       DownloadTask `json:"task"`
	Status     TaskStatus   `json:"status"`
	Bytes      int64        `json:"bytes"`
	Transcoded bool         `json:"transcoded,omitempty"`
	Err        error        `json:"-"`
}

// Error returns the error text, or "" on success.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
