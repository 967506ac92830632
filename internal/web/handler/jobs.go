package handler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rizkirmdhn/teledl/pkg/models"
)

// JobStore keeps the state of every job the panel has seen. It is fed by job
// events, whether they come from an in-process run or the log queue.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.JobState
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*models.JobState)}
}

// Create records a queued job.
func (s *JobStore) Create(id string, cmd models.DownloadCommand) models.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &models.JobState{
		ID:        id,
		Command:   cmd,
		Status:    models.JobQueued,
		CreatedAt: time.Now(),
	}
	s.jobs[id] = job
	return *job
}

// Get returns a copy of the job state.
func (s *JobStore) Get(id string) (models.JobState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.JobState{}, false
	}
	return *job, true
}

// List returns every job, oldest first.
func (s *JobStore) List() []models.JobState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.JobState, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Fail marks a job as failed.
func (s *JobStore) Fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		s.finish(job, models.JobFailed, err.Error())
	}
}

// Emit applies a job event. Events of unknown jobs start tracking them, so
// jobs queued by another panel instance show up too.
func (s *JobStore) Emit(e models.Event) {
	if e.JobID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[e.JobID]
	if !ok {
		job = &models.JobState{ID: e.JobID, Status: models.JobQueued, CreatedAt: e.Time}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = time.Now()
		}
		s.jobs[e.JobID] = job
	}

	switch e.Kind {
	case models.EventStart:
		job.Status = models.JobRunning
		job.Title = e.Title
		job.Stats.Found = e.Total
	case models.EventDownloaded, models.EventTranscoded, models.EventSkipped, models.EventFailed:
		if job.Status == models.JobQueued {
			job.Status = models.JobRunning
		}
		switch e.Kind {
		case models.EventDownloaded:
			job.Stats.Downloaded++
			job.Stats.BytesWritten += e.Bytes
		case models.EventTranscoded:
			job.Stats.Downloaded++
			job.Stats.Transcoded++
			job.Stats.BytesWritten += e.Bytes
		case models.EventSkipped:
			job.Stats.Skipped++
		case models.EventFailed:
			job.Stats.Failed++
		}
	case models.EventSummary:
		if e.Stats != nil {
			job.Stats = *e.Stats
		}
		if job.Stats.Failed > 0 {
			s.finish(job, models.JobFailed, fmt.Sprintf("%d of %d downloads failed", job.Stats.Failed, job.Stats.Found))
		} else {
			s.finish(job, models.JobCompleted, "")
		}
	case models.EventError:
		s.finish(job, models.JobFailed, e.Error)
	}
}

func (s *JobStore) finish(job *models.JobState, status models.JobStatus, msg string) {
	now := time.Now()
	job.Status = status
	job.Error = msg
	job.FinishedAt = &now
}
