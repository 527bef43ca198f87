package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawler.Job{ID: "job-1", Status: crawler.JobStatusQueued}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	if err := store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		t.Fatalf("UpdateJobStatus running error = %v", err)
	}
	running, err := store.GetJob(ctx, job.ID)
	if err != nil || running.Started == nil || running.Finished != nil {
		t.Fatalf("expected started-only timestamps, got %+v err=%v", running, err)
	}

	err = store.UpdateJobStatus(
		ctx,
		job.ID,
		crawler.JobStatusSucceeded,
		"done",
		crawler.JobCounters{Fetched: 1},
	)
	if err != nil {
		t.Fatalf("UpdateJobStatus succeeded error = %v", err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if final.Status != crawler.JobStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.ErrorText != "done" || final.Counters.Fetched != 1 {
		t.Fatalf("expected counters/error text to persist, got %+v", final)
	}
}

func TestJobStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	if _, err := store.GetJob(context.Background(), "missing"); !errors.Is(err, crawler.ErrNotFound) {
		t.Fatalf("GetJob() error = %v, want ErrNotFound", err)
	}
	err := store.UpdateJobStatus(context.Background(), "missing", crawler.JobStatusFailed, "", crawler.JobCounters{})
	if !errors.Is(err, crawler.ErrNotFound) {
		t.Fatalf("UpdateJobStatus() error = %v, want ErrNotFound", err)
	}
	if err := store.CreateJob(context.Background(), crawler.Job{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}
