package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/ladder"
	"github.com/gwlsn/streampack/internal/logger"
)

// Store defines the persistence interface for job data.
// Implemented by internal/store.SQLiteStore; nil means in-memory only.
type Store interface {
	SaveJob(job *Job) error
	GetJob(id string) (*Job, error)
	GetAllJobs() ([]*Job, error)
	DeleteJob(id string) error
	ResetInterruptedJobs() (int, error)
	Close() error
}

// Options configures queue behaviour.
type Options struct {
	OutputRoot      string
	Ladder          ladder.Ladder
	SegmentDuration float64
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	Retention       time.Duration // how long terminal jobs stay queryable in memory
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 5 * time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 24 * time.Hour
	}
	if o.SegmentDuration <= 0 {
		o.SegmentDuration = 6
	}
	if len(o.Ladder) == 0 {
		o.Ladder = ladder.Default()
	}
}

// Queue owns the active-job set and the FIFO of queued work. The per-path
// active map is the single-flight guard: at most one non-terminal job per
// source path. All mutations happen under one mutex.
type Queue struct {
	mu     sync.RWMutex
	jobs   map[string]*Job   // by id, including recent terminal jobs
	order  []string          // job IDs in submission order
	active map[string]string // source path -> non-terminal job id
	timers map[string]*time.Timer
	store  Store
	opts   Options
	closed bool

	subsMu      sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewQueue creates an in-memory job queue (for testing).
// Use NewQueueWithStore for production use with persistence.
func NewQueue(opts Options) *Queue {
	opts.applyDefaults()
	return &Queue{
		jobs:        make(map[string]*Job),
		active:      make(map[string]string),
		timers:      make(map[string]*time.Timer),
		opts:        opts,
		subscribers: make(map[chan Event]struct{}),
	}
}

// NewQueueWithStore creates a job queue backed by a persistent store. The
// store should already have interrupted jobs reset; queued jobs found in it
// are loaded back into the FIFO, and failed jobs resume their backoff from
// the persisted NotBefore gate.
func NewQueueWithStore(store Store, opts Options) (*Queue, error) {
	q := NewQueue(opts)
	q.store = store

	if store != nil {
		persisted, err := store.GetAllJobs()
		if err != nil {
			return nil, err
		}
		for _, job := range persisted {
			q.jobs[job.ID] = job
			if job.State == StateQueued || job.State == StateFailed {
				q.order = append(q.order, job.ID)
			}
			if !job.IsTerminal() {
				q.active[job.SourcePath] = job.ID
			}
			if job.State == StateFailed {
				// An elapsed gate makes AfterFunc fire immediately.
				id := job.ID
				q.timers[id] = time.AfterFunc(time.Until(job.NotBefore), func() { q.requeue(id) })
			}
		}
	}
	return q, nil
}

// persist saves a job to the store (if configured). Called with lock held.
func (q *Queue) persist(job *Job) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(job); err != nil {
		logger.Warn("Failed to persist job", "job_id", job.ID, "error", err)
	}
}

// Submit creates a job for the source path, or returns the existing
// non-terminal job for that path (single-flight). Unsupported extensions
// fail with ErrUnsupportedFormat and create nothing.
func (q *Queue) Submit(sourcePath string) (*Job, error) {
	if !SupportedSource(sourcePath) {
		return nil, unsupportedFormatError(sourcePath)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if id, ok := q.active[sourcePath]; ok {
		if existing, ok := q.jobs[id]; ok {
			logger.Debug("Submit deduplicated", "source", sourcePath, "job_id", id)
			return existing.Copy(), nil
		}
	}

	job := &Job{
		ID:              uuid.NewString(),
		SourcePath:      sourcePath,
		OutputRoot:      q.opts.OutputRoot,
		Ladder:          q.opts.Ladder.Copy(), // copy-on-submit: later ladder edits leave this job alone
		SegmentDuration: q.opts.SegmentDuration,
		State:           StateQueued,
		CreatedAt:       time.Now(),
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.active[sourcePath] = job.ID
	q.persist(job)

	logger.Info("Job submitted", "job_id", job.ID, "source", sourcePath)
	q.broadcast(Event{Type: "submitted", Job: job.Copy()})
	return job.Copy(), nil
}

// Get returns a snapshot of a job by ID, consulting the store for jobs
// already pruned from memory.
func (q *Queue) Get(id string) (*Job, error) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if ok {
		return job.Copy(), nil
	}

	if q.store != nil {
		if stored, err := q.store.GetJob(id); err == nil && stored != nil {
			return stored, nil
		}
	}
	return nil, jobNotFoundError(id)
}

// GetAll returns snapshots of all jobs in submission order, including
// recent terminal jobs still inside the retention window.
func (q *Queue) GetAll() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*Job, 0, len(q.order))
	for _, id := range q.order {
		if job, ok := q.jobs[id]; ok {
			out = append(out, job.Copy())
		}
	}
	return out
}

// Next returns a snapshot of the first queued job whose backoff gate has
// passed, or nil. Workers must claim it with StartJob before processing.
func (q *Queue) Next() *Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now()
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok || job.State != StateQueued {
			continue
		}
		if job.NotBefore.After(now) {
			continue
		}
		return job.Copy()
	}
	return nil
}

// StartJob transitions a queued job to running. The first caller wins;
// later callers get ErrJobNotQueued.
func (q *Queue) StartJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.State != StateQueued {
		return ErrJobNotQueued
	}

	job.State = StateRunning
	job.Attempts++
	job.StartedAt = time.Now()
	q.persist(job)

	logger.Info("Job started", "job_id", id, "source", job.SourcePath, "attempt", job.Attempts)
	q.broadcast(Event{Type: "started", Job: job.Copy()})
	return nil
}

// CompleteJob marks a running job succeeded and retires it from the active
// set. Inventory counters are recorded for status reporting.
func (q *Queue) CompleteJob(id string, inventories map[string]*encoder.SegmentInventory) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}

	job.State = StateSucceeded
	job.CompletedAt = time.Now()
	job.Error = ""
	job.ErrorKind = ""
	job.Inventories = inventories
	job.Renditions = len(inventories)
	for _, inv := range inventories {
		job.Segments = inv.SegmentCount
		break
	}
	delete(q.active, job.SourcePath)
	q.persist(job)
	q.pruneLocked()

	logger.Info("Job succeeded", "job_id", id, "source", job.SourcePath,
		"renditions", job.Renditions, "segments", job.Segments)
	q.broadcast(Event{Type: "succeeded", Job: job.Copy()})
	return nil
}

// FailJob records a failure and applies the retry policy: transient errors
// requeue with exponential backoff until MaxAttempts, everything else
// becomes failed_permanently.
func (q *Queue) FailJob(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}

	job.Error = cause.Error()
	job.ErrorKind = errorKind(cause)
	job.Inventories = nil

	if !isTransient(cause) || job.Attempts >= q.opts.MaxAttempts {
		job.State = StateFailedPermanently
		job.CompletedAt = time.Now()
		delete(q.active, job.SourcePath)
		q.persist(job)
		q.pruneLocked()

		logger.Error("Job failed permanently", "job_id", id, "source", job.SourcePath,
			"attempts", job.Attempts, "kind", job.ErrorKind, "error", job.Error)
		q.broadcast(Event{Type: "failed_permanently", Job: job.Copy()})
		return nil
	}

	delay := q.backoff(job.Attempts)
	job.State = StateFailed
	job.NotBefore = time.Now().Add(delay)
	q.persist(job)

	logger.Warn("Job failed, retry scheduled", "job_id", id, "source", job.SourcePath,
		"attempt", job.Attempts, "kind", job.ErrorKind, "delay", delay, "error", job.Error)
	q.broadcast(Event{Type: "failed", Job: job.Copy()})

	if !q.closed {
		q.timers[id] = time.AfterFunc(delay, func() { q.requeue(id) })
	}
	return nil
}

// backoff returns base << (attempts-1), capped.
func (q *Queue) backoff(attempts int) time.Duration {
	delay := q.opts.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= q.opts.RetryMaxDelay {
			return q.opts.RetryMaxDelay
		}
	}
	if delay > q.opts.RetryMaxDelay {
		delay = q.opts.RetryMaxDelay
	}
	return delay
}

// requeue flips a failed job back to queued once its backoff elapses.
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.timers, id)
	job, ok := q.jobs[id]
	if !ok || job.State != StateFailed || q.closed {
		return
	}

	job.State = StateQueued
	q.persist(job)

	logger.Info("Job requeued", "job_id", id, "source", job.SourcePath, "attempt", job.Attempts)
	q.broadcast(Event{Type: "requeued", Job: job.Copy()})
}

// pruneLocked drops terminal jobs older than the retention window from
// memory and from the store, so the history log covers the same window.
func (q *Queue) pruneLocked() {
	cutoff := time.Now().Add(-q.opts.Retention)
	keep := q.order[:0]
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		if job.IsTerminal() && !job.CompletedAt.IsZero() && job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			if q.store != nil {
				if err := q.store.DeleteJob(id); err != nil {
					logger.Warn("Failed to prune job from store", "job_id", id, "error", err)
				}
			}
			continue
		}
		keep = append(keep, id)
	}
	q.order = keep
}

// Close stops pending retry timers. In-flight jobs are left as-is; the
// store resets them to queued on next startup.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()
}

// Subscribe returns a channel that receives job events
func (q *Queue) Subscribe() chan Event {
	ch := make(chan Event, 100)

	q.subsMu.Lock()
	q.subscribers[ch] = struct{}{}
	q.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription
func (q *Queue) Unsubscribe(ch chan Event) {
	q.subsMu.Lock()
	delete(q.subscribers, ch)
	q.subsMu.Unlock()

	close(ch)
}

// broadcast sends an event to all subscribers
func (q *Queue) broadcast(event Event) {
	q.subsMu.RLock()
	defer q.subsMu.RUnlock()

	for ch := range q.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// Stats holds per-state job counts.
type Stats struct {
	Queued            int `json:"queued"`
	Running           int `json:"running"`
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	FailedPermanently int `json:"failed_permanently"`
	Total             int `json:"total"`
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var stats Stats
	for _, job := range q.jobs {
		stats.Total++
		switch job.State {
		case StateQueued:
			stats.Queued++
		case StateRunning:
			stats.Running++
		case StateSucceeded:
			stats.Succeeded++
		case StateFailed:
			stats.Failed++
		case StateFailedPermanently:
			stats.FailedPermanently++
		}
	}
	return stats
}
