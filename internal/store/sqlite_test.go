package store_test

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/streampack/internal/ladder"
	"github.com/gwlsn/streampack/internal/scheduler"
	"github.com/gwlsn/streampack/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testJob(id, source string, state scheduler.State) *scheduler.Job {
	return &scheduler.Job{
		ID:              id,
		SourcePath:      source,
		OutputRoot:      "output",
		Ladder:          ladder.Default(),
		SegmentDuration: 6,
		State:           state,
		CreatedAt:       time.Now(),
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	s := newTestStore(t)

	job := testJob("job-1", "/media/video.mp4", scheduler.StateQueued)
	job.Attempts = 2
	job.Error = "encode timed out"
	job.ErrorKind = "timeout"
	job.Renditions = 5
	job.Segments = 12
	job.StartedAt = time.Now()
	job.NotBefore = time.Now().Add(10 * time.Second)

	if err := s.SaveJob(job); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}

	if got.SourcePath != job.SourcePath {
		t.Errorf("expected source path %s, got %s", job.SourcePath, got.SourcePath)
	}
	if got.State != scheduler.StateQueued {
		t.Errorf("expected state queued, got %s", got.State)
	}
	if got.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", got.Attempts)
	}
	if got.ErrorKind != "timeout" {
		t.Errorf("expected error kind timeout, got %s", got.ErrorKind)
	}
	if got.Renditions != 5 || got.Segments != 12 {
		t.Errorf("expected 5 renditions / 12 segments, got %d / %d", got.Renditions, got.Segments)
	}
	if len(got.Ladder) != len(job.Ladder) {
		t.Errorf("ladder snapshot lost: expected %d rungs, got %d", len(job.Ladder), len(got.Ladder))
	}
	if got.StartedAt.IsZero() {
		t.Error("started_at should survive a round trip")
	}
	if got.NotBefore.IsZero() {
		t.Error("not_before should survive a round trip")
	}
}

func TestStoreSaveIsUpsert(t *testing.T) {
	s := newTestStore(t)

	job := testJob("job-1", "/media/video.mp4", scheduler.StateQueued)
	if err := s.SaveJob(job); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	job.State = scheduler.StateSucceeded
	job.CompletedAt = time.Now()
	if err := s.SaveJob(job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.State != scheduler.StateSucceeded {
		t.Errorf("expected state succeeded after update, got %s", got.State)
	}

	all, err := s.GetAllJobs()
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("upsert should not duplicate rows, got %d", len(all))
	}
}

func TestStoreGetMissingJob(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob("no-such-id")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestStoreResetInterruptedJobs(t *testing.T) {
	s := newTestStore(t)

	running := testJob("job-running", "/media/a.mp4", scheduler.StateRunning)
	running.StartedAt = time.Now()
	failed := testJob("job-failed", "/media/b.mp4", scheduler.StateFailed)
	failed.NotBefore = time.Now().Add(time.Minute)
	done := testJob("job-done", "/media/c.mp4", scheduler.StateSucceeded)

	for _, j := range []*scheduler.Job{running, failed, done} {
		if err := s.SaveJob(j); err != nil {
			t.Fatalf("failed to save job: %v", err)
		}
	}

	count, err := s.ResetInterruptedJobs()
	if err != nil {
		t.Fatalf("failed to reset jobs: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 job reset, got %d", count)
	}

	got, err := s.GetJob("job-running")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.State != scheduler.StateQueued {
		t.Errorf("expected state queued, got %s", got.State)
	}
	if !got.StartedAt.IsZero() {
		t.Error("started_at should be cleared by reset")
	}

	// Failed jobs keep their state and backoff gate across restarts.
	got, _ = s.GetJob("job-failed")
	if got.State != scheduler.StateFailed {
		t.Errorf("failed job must not be reset, got %s", got.State)
	}
	if got.NotBefore.IsZero() {
		t.Error("failed job should keep its not_before gate")
	}

	got, _ = s.GetJob("job-done")
	if got.State != scheduler.StateSucceeded {
		t.Errorf("succeeded job must not be reset, got %s", got.State)
	}
}

func TestStoreGetJobsByState(t *testing.T) {
	s := newTestStore(t)

	for i, state := range []scheduler.State{
		scheduler.StateQueued, scheduler.StateQueued, scheduler.StateSucceeded,
	} {
		job := testJob(
			"job-"+string(rune('a'+i)),
			"/media/"+string(rune('a'+i))+".mp4",
			state,
		)
		job.CreatedAt = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.SaveJob(job); err != nil {
			t.Fatalf("failed to save job: %v", err)
		}
	}

	queued, err := s.GetJobsByState(scheduler.StateQueued)
	if err != nil {
		t.Fatalf("failed to query by state: %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("expected 2 queued jobs, got %d", len(queued))
	}
}

func TestStoreDeleteJob(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveJob(testJob("job-1", "/media/video.mp4", scheduler.StateQueued)); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}
	if err := s.DeleteJob("job-1"); err != nil {
		t.Fatalf("failed to delete job: %v", err)
	}
	if _, err := s.GetJob("job-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows after delete, got %v", err)
	}
}

func TestQueueWithStoreRestoresJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	q, err := scheduler.NewQueueWithStore(s, scheduler.Options{OutputRoot: "output"})
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	job, err := q.Submit("/media/video.mp4")
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}
	_ = q.StartJob(job.ID)
	q.Close()
	s.Close()

	// Simulate a restart
	s2, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()

	if _, err := s2.ResetInterruptedJobs(); err != nil {
		t.Fatalf("failed to reset jobs: %v", err)
	}

	q2, err := scheduler.NewQueueWithStore(s2, scheduler.Options{OutputRoot: "output"})
	if err != nil {
		t.Fatalf("failed to recreate queue: %v", err)
	}
	defer q2.Close()

	next := q2.Next()
	if next == nil || next.ID != job.ID {
		t.Fatal("interrupted job should be queued again after restart")
	}
	if next.Attempts != 1 {
		t.Errorf("attempt count should survive restart, got %d", next.Attempts)
	}

	// The restored job still blocks duplicate submissions for its path
	dup, err := q2.Submit("/media/video.mp4")
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if dup.ID != job.ID {
		t.Error("restored job should deduplicate submissions")
	}
}
