package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// CreateJob inserts a new crawl job.
func (s *Store) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal job parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO crawl_jobs (id, status, submitted_at, error_text, parameters, counters)
VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), formatTime(job.Submitted), job.ErrorText, string(params), string(counters))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus records a status transition. started_at is set on the first
// transition to running and finished_at on the first terminal status.
func (s *Store) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	now := formatTime(time.Now())
	var started, finished any
	if status == crawler.JobStatusRunning {
		started = now
	}
	if status.Terminal() {
		finished = now
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_jobs SET
	status = ?,
	error_text = ?,
	counters = ?,
	started_at = COALESCE(started_at, ?),
	finished_at = COALESCE(finished_at, ?)
WHERE id = ?`, string(status), errText, string(data), started, finished, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// GetJob loads a crawl job.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	var (
		job               crawler.Job
		status, submitted string
		started, finished sql.NullString
		params, counters  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, status, submitted_at, started_at, finished_at, COALESCE(error_text, ''), parameters, counters
FROM crawl_jobs WHERE id = ?`, jobID).
		Scan(&job.ID, &status, &submitted, &started, &finished, &job.ErrorText, &params, &counters)
	if err != nil {
		return crawler.Job{}, notFound(err, "job "+jobID)
	}
	job.Status = crawler.JobStatus(status)
	if job.Submitted, err = parseTime(submitted); err != nil {
		return crawler.Job{}, err
	}
	if job.Started, err = optionalTime(started); err != nil {
		return crawler.Job{}, err
	}
	if job.Finished, err = optionalTime(finished); err != nil {
		return crawler.Job{}, err
	}
	if err := json.Unmarshal([]byte(params), &job.Parameters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(counters), &job.Counters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job counters: %w", err)
	}
	return job, nil
}

func optionalTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, crawler.ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
