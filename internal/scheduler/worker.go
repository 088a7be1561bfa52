package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/ladder"
	"github.com/gwlsn/streampack/internal/logger"
	"github.com/gwlsn/streampack/internal/manifest"
	"github.com/gwlsn/streampack/internal/publish"
)

const probeTimeout = 30 * time.Second

// PoolOptions configures a worker pool.
type PoolOptions struct {
	Workers              int
	EncodeSlots          int // system-wide concurrent encoder invocations
	EncodeTimeout        time.Duration
	KeepFailedRenditions bool
}

// Worker pulls jobs from the queue and runs them to a terminal state.
type Worker struct {
	id        int
	pool      *WorkerPool
	queue     *Queue
	enc       encoder.Encoder
	prober    encoder.Prober
	publisher *publish.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Currently running job (for shutdown accounting)
	currentJobMu sync.Mutex
	currentJob   *Job
	jobCancel    context.CancelFunc
}

// WorkerPool manages multiple workers sharing one queue. Encode parallelism
// is bounded pool-wide by a weighted semaphore: a job fans out one goroutine
// per rendition but each must hold a slot while the encoder runs, so worker
// count and CPU pressure stay independent.
type WorkerPool struct {
	mu        sync.Mutex
	workers   []*Worker
	queue     *Queue
	enc       encoder.Encoder
	prober    encoder.Prober
	publisher *publish.Publisher
	opts      PoolOptions
	slots     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool creates a worker pool. Start begins processing.
func NewWorkerPool(queue *Queue, enc encoder.Encoder, prober encoder.Prober, publisher *publish.Publisher, opts PoolOptions) *WorkerPool {
	opts.Workers = ClampWorkerCount(opts.Workers)
	opts.EncodeSlots = ClampEncodeSlots(opts.EncodeSlots)
	if opts.EncodeTimeout <= 0 {
		opts.EncodeTimeout = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		workers:   make([]*Worker, 0, opts.Workers),
		queue:     queue,
		enc:       enc,
		prober:    prober,
		publisher: publisher,
		opts:      opts,
		slots:     semaphore.NewWeighted(int64(opts.EncodeSlots)),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		pool.workers = append(pool.workers, &Worker{
			id:        i,
			pool:      pool,
			queue:     queue,
			enc:       enc,
			prober:    prober,
			publisher: publisher,
		})
	}

	return pool
}

// Start starts all workers
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, w := range p.workers {
		w.Start(p.ctx)
	}
	logger.Info("Worker pool started", "workers", len(p.workers), "encode_slots", p.opts.EncodeSlots)
}

// Stop stops all workers gracefully. In-flight encodes are terminated via
// context; their jobs stay running in memory and are reset to queued by the
// store on the next startup.
func (p *WorkerPool) Stop() {
	p.cancel()

	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}

// WorkerCount returns the current number of workers
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Start starts the worker's processing loop
func (w *Worker) Start(parentCtx context.Context) {
	w.ctx, w.cancel = context.WithCancel(parentCtx)
	w.wg.Add(1)

	go w.run()
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// run is the main worker loop
func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			job := w.queue.Next()
			if job == nil {
				// No jobs available, wait a bit
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(500 * time.Millisecond):
					continue
				}
			}

			w.processJob(job)
		}
	}
}

// processJob runs a single job to completion: probe, fan out renditions,
// generate manifests, publish. Every exit path lands the job in a queue
// state or deliberately leaves it running for the startup reset.
func (w *Worker) processJob(job *Job) {
	// Mark job as started (first worker to call this wins)
	if err := w.queue.StartJob(job.ID); err != nil {
		return
	}

	startTime := time.Now()
	name := publish.NameFor(job.SourcePath)

	jobCtx, jobCancel := context.WithCancel(w.ctx)
	defer jobCancel()

	w.currentJobMu.Lock()
	w.currentJob = job
	w.jobCancel = jobCancel
	w.currentJobMu.Unlock()

	defer func() {
		w.currentJobMu.Lock()
		w.currentJob = nil
		w.jobCancel = nil
		w.currentJobMu.Unlock()
	}()

	probeCtx, probeCancel := context.WithTimeout(jobCtx, probeTimeout)
	info, err := w.prober.Probe(probeCtx, job.SourcePath)
	probeCancel()
	if err != nil {
		if w.shutdownInterrupted(jobCtx, job, name) {
			return
		}
		logger.Error("Probe failed", "job_id", job.ID, "source", job.SourcePath, "error", err)
		_ = w.queue.FailJob(job.ID, err)
		return
	}

	renditionLadder := job.Ladder.FitToSource(info.Width, info.Height)
	if len(renditionLadder) < len(job.Ladder) {
		logger.Debug("Ladder reduced to source resolution", "job_id", job.ID,
			"source_resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
			"renditions", len(renditionLadder))
	}

	stagingDir, err := w.publisher.Stage(name)
	if err != nil {
		logger.Error("Staging failed", "job_id", job.ID, "error", err)
		_ = w.queue.FailJob(job.ID, err)
		return
	}

	inventories, err := w.encodeRenditions(jobCtx, job, renditionLadder, stagingDir)
	if err != nil {
		if w.shutdownInterrupted(jobCtx, job, name) {
			return
		}
		w.discardStaging(job, name)
		logger.Error("Encode failed", "job_id", job.ID, "source", job.SourcePath, "error", err)
		_ = w.queue.FailJob(job.ID, err)
		return
	}

	if err := w.writeManifests(job, inventories, stagingDir); err != nil {
		w.discardStaging(job, name)
		logger.Error("Manifest generation failed", "job_id", job.ID, "error", err)
		_ = w.queue.FailJob(job.ID, err)
		return
	}

	if err := w.publisher.Publish(name); err != nil {
		w.discardStaging(job, name)
		logger.Error("Publish failed", "job_id", job.ID, "error", err)
		_ = w.queue.FailJob(job.ID, err)
		return
	}

	logger.Info("Job complete", "job_id", job.ID, "source", job.SourcePath,
		"renditions", len(inventories), "elapsed", time.Since(startTime).Round(time.Second))
	_ = w.queue.CompleteJob(job.ID, inventories)
}

// encodeRenditions fans out one goroutine per ladder profile, each holding
// an encode slot while the encoder runs. Siblings are not cancelled when one
// fails: letting them finish keeps their output inspectable and their errors
// logged. The first error decides the job outcome.
func (w *Worker) encodeRenditions(ctx context.Context, job *Job, l ladder.Ladder, stagingDir string) (map[string]*encoder.SegmentInventory, error) {
	var (
		g     errgroup.Group
		invMu sync.Mutex
	)
	inventories := make(map[string]*encoder.SegmentInventory, len(l))

	for _, profile := range l {
		profile := profile
		g.Go(func() error {
			if err := w.pool.slots.Acquire(ctx, 1); err != nil {
				return err
			}
			defer w.pool.slots.Release(1)

			encodeCtx, cancel := context.WithTimeout(ctx, w.pool.opts.EncodeTimeout)
			defer cancel()

			outDir := filepath.Join(stagingDir, publish.HLSDir, profile.Name)
			inv, err := w.enc.Encode(encodeCtx, job.SourcePath, profile, job.SegmentDuration, outDir)
			if err != nil {
				logger.Warn("Rendition failed", "job_id", job.ID, "profile", profile.Name, "error", err)
				return err
			}

			invMu.Lock()
			inventories[profile.Name] = inv
			invMu.Unlock()

			logger.Debug("Rendition complete", "job_id", job.ID, "profile", profile.Name,
				"segments", inv.SegmentCount)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inventories, nil
}

// writeManifests generates the HLS and DASH manifests from the rendition
// inventories and lays them into the staging tree. The generated media
// playlists replace the encoder-written ones so every playlist in the
// output comes from one code path.
func (w *Worker) writeManifests(job *Job, inventories map[string]*encoder.SegmentInventory, stagingDir string) error {
	hls, err := manifest.GenerateHLS(inventories, job.Ladder)
	if err != nil {
		return err
	}
	mpd, err := manifest.GenerateDASH(inventories, job.Ladder, job.SegmentDuration)
	if err != nil {
		return err
	}

	for profileName, playlist := range hls.Media {
		path := filepath.Join(stagingDir, publish.HLSDir, profileName, encoder.PlaylistName)
		if err := os.WriteFile(path, []byte(playlist), 0o644); err != nil {
			return fmt.Errorf("failed to write media playlist: %w", err)
		}
	}

	mpdPath := filepath.Join(stagingDir, publish.DASHDir, publish.MPDManifest)
	if err := os.WriteFile(mpdPath, []byte(mpd), 0o644); err != nil {
		return fmt.Errorf("failed to write mpd: %w", err)
	}

	// Master last: its presence marks the tree complete.
	masterPath := filepath.Join(stagingDir, publish.HLSDir, publish.MasterPlaylist)
	if err := os.WriteFile(masterPath, []byte(hls.Master), 0o644); err != nil {
		return fmt.Errorf("failed to write master playlist: %w", err)
	}
	return nil
}

// shutdownInterrupted handles the pool-shutdown path: the staging tree is
// discarded and the job is left running so the startup reset requeues it.
func (w *Worker) shutdownInterrupted(jobCtx context.Context, job *Job, name string) bool {
	if jobCtx.Err() == nil || w.ctx.Err() == nil {
		return false
	}
	w.discardStaging(job, name)
	logger.Info("Job interrupted by shutdown", "job_id", job.ID, "source", job.SourcePath)
	return true
}

func (w *Worker) discardStaging(job *Job, name string) {
	if w.pool.opts.KeepFailedRenditions {
		logger.Debug("Keeping failed staging tree", "job_id", job.ID,
			"path", w.publisher.StagingDir(name))
		return
	}
	if err := w.publisher.Discard(name); err != nil {
		logger.Warn("Failed to discard staging tree", "job_id", job.ID, "error", err)
	}
}
