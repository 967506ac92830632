package models

import (
	"fmt"
	"strings"
	"time"
)

// DownloadCommand asks a worker or the web panel to run one job.
type DownloadCommand struct {
	JobID    string `json:"job_id,omitempty"`
	Link     string `json:"link"`
	Folder   string `json:"folder,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Compress bool   `json:"compress,omitempty"`
}

// Validate checks the fields a job cannot run without.
func (c DownloadCommand) Validate() error {
	if strings.TrimSpace(c.Link) == "" {
		return fmt.Errorf("link is required")
	}
	if _, err := ParseMode(c.Mode); err != nil {
		return err
	}
	return nil
}

// JobStatus is the lifecycle state of a job tracked by the web panel.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobState is what the web panel reports for a job.
type JobState struct {
	ID         string          `json:"id"`
	Command    DownloadCommand `json:"command"`
	Status     JobStatus       `json:"status"`
	Title      string          `json:"title,omitempty"`
	Stats      Stats           `json:"stats"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
