package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// JobStore tracks crawl jobs in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.Job
	now  func() time.Time
}

var _ crawler.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawler.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus sets the status, error text and counters of a job, stamping
// Started on the first transition to running and Finished on a terminal status.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() && job.Finished == nil {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return job, nil
}
