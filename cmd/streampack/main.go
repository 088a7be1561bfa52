package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gwlsn/streampack/internal/config"
	"github.com/gwlsn/streampack/internal/encoder"
	"github.com/gwlsn/streampack/internal/ladder"
	"github.com/gwlsn/streampack/internal/logger"
	"github.com/gwlsn/streampack/internal/publish"
	"github.com/gwlsn/streampack/internal/scheduler"
	"github.com/gwlsn/streampack/internal/store"
	"github.com/gwlsn/streampack/internal/watch"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "submit":
		os.Exit(runSubmit(os.Args[2:]))
	case "watch":
		os.Exit(runWatch(os.Args[2:]))
	case "history":
		os.Exit(runHistory(os.Args[2:]))
	case "version":
		fmt.Printf("streampack v%s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  streampack submit <file> [flags]   transcode one file and exit")
	fmt.Fprintln(os.Stderr, "  streampack watch [flags]           watch an intake directory")
	fmt.Fprintln(os.Stderr, "  streampack history [flags]         show the job history log")
	fmt.Fprintln(os.Stderr, "  streampack version")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -config string            path to config file (default: ./config/streampack.yaml)")
	fmt.Fprintln(os.Stderr, "  -output string            override output root")
	fmt.Fprintln(os.Stderr, "  -segment-duration float   override segment duration in seconds")
	fmt.Fprintln(os.Stderr, "  -workers int              override worker count")
	fmt.Fprintln(os.Stderr, "  -profiles string          ladder override, e.g. 720p,360p")
}

// cliFlags holds the flag values shared by both commands.
type cliFlags struct {
	configPath      string
	outputRoot      string
	segmentDuration float64
	workers         int
	profiles        string
	watchPath       string
}

func registerFlags(fs *flag.FlagSet, f *cliFlags) {
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default: ./config/streampack.yaml)")
	fs.StringVar(&f.outputRoot, "output", "", "Override output root from config")
	fs.Float64Var(&f.segmentDuration, "segment-duration", 0, "Override segment duration in seconds")
	fs.IntVar(&f.workers, "workers", 0, "Override worker count from config")
	fs.StringVar(&f.profiles, "profiles", "", "Ladder override (profile names or name:WxH:video:audio specs)")
	fs.StringVar(&f.watchPath, "watch-path", "", "Override intake directory from config")
}

// loadConfig resolves the config file, applies flag and environment
// overrides, and initializes logging.
func loadConfig(f *cliFlags) (*config.Config, error) {
	cfgPath := f.configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/streampack.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Init("info")
		logger.Warn("Could not load config", "path", cfgPath, "error", err)
		cfg = config.DefaultConfig()
	}

	logger.Init(cfg.LogLevel)

	if envWatch := os.Getenv("WATCH_PATH"); envWatch != "" {
		cfg.WatchPath = envWatch
	}
	if envOutput := os.Getenv("OUTPUT_ROOT"); envOutput != "" {
		cfg.OutputRoot = envOutput
	}
	if f.watchPath != "" {
		cfg.WatchPath = f.watchPath
	}
	if f.outputRoot != "" {
		cfg.OutputRoot = f.outputRoot
	}
	if f.segmentDuration != 0 {
		cfg.SegmentDuration = f.segmentDuration
	}
	if f.workers != 0 {
		cfg.Workers = f.workers
	}
	if f.profiles != "" {
		l, err := ladder.Parse(f.profiles)
		if err != nil {
			return nil, fmt.Errorf("invalid -profiles: %w", err)
		}
		cfg.Ladder = l
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pipeline bundles the components both commands wire up the same way.
type pipeline struct {
	cfg       *config.Config
	queue     *scheduler.Queue
	pool      *scheduler.WorkerPool
	publisher *publish.Publisher
	store     *store.SQLiteStore
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	var jobStore *store.SQLiteStore
	var queueStore scheduler.Store

	if cfg.HistoryDB != "" {
		s, err := store.NewSQLiteStore(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open job history: %w", err)
		}
		if reset, err := s.ResetInterruptedJobs(); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to reset interrupted jobs: %w", err)
		} else if reset > 0 {
			logger.Info("Requeued jobs interrupted by previous shutdown", "count", reset)
		}
		jobStore = s
		queueStore = s
	}

	queue, err := scheduler.NewQueueWithStore(queueStore, scheduler.Options{
		OutputRoot:      cfg.OutputRoot,
		Ladder:          cfg.EffectiveLadder(),
		SegmentDuration: cfg.SegmentDuration,
		MaxAttempts:     cfg.MaxAttempts,
		RetryBaseDelay:  cfg.RetryBaseDelay.Std(),
		RetryMaxDelay:   cfg.RetryMaxDelay.Std(),
	})
	if err != nil {
		if jobStore != nil {
			jobStore.Close()
		}
		return nil, fmt.Errorf("failed to initialize job queue: %w", err)
	}

	publisher := publish.New(cfg.OutputRoot)
	pool := scheduler.NewWorkerPool(
		queue,
		encoder.NewFFmpeg(cfg.FFmpegPath),
		encoder.NewFFprobe(cfg.FFprobePath),
		publisher,
		scheduler.PoolOptions{
			Workers:              cfg.Workers,
			EncodeSlots:          cfg.EncodeSlots,
			EncodeTimeout:        cfg.EncodeTimeout.Std(),
			KeepFailedRenditions: cfg.KeepFailedRenditions,
		},
	)

	return &pipeline{
		cfg:       cfg,
		queue:     queue,
		pool:      pool,
		publisher: publisher,
		store:     jobStore,
	}, nil
}

func (p *pipeline) close() {
	p.queue.Close()
	if p.store != nil {
		p.store.Close()
	}
}

func banner(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                        STREAMPACK                         ║")
	fmt.Println("║        Adaptive bitrate packaging for HLS and DASH        ║")
	versionLine := fmt.Sprintf("v%s", version)
	padding := 59 - len(versionLine)
	fmt.Printf("║%*s%s%*s║\n", padding/2, "", versionLine, (padding+1)/2, "")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Output root:  %s\n", cfg.OutputRoot)
	fmt.Printf("  Segments:     %.0fs\n", cfg.SegmentDuration)
	fmt.Printf("  Workers:      %d\n", scheduler.ClampWorkerCount(cfg.Workers))
	fmt.Printf("  Ladder:       %d profiles\n", len(cfg.EffectiveLadder()))
	if cfg.HistoryDB != "" {
		fmt.Printf("  History:      %s\n", cfg.HistoryDB)
	}
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:      %s\n", cfg.FFprobePath)
	fmt.Println()
}

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	var f cliFlags
	registerFlags(fs, &f)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "submit: no input file given")
		return 2
	}
	sourcePath := fs.Arg(0)
	if _, err := os.Stat(sourcePath); err != nil {
		fmt.Fprintf(os.Stderr, "submit: cannot read %s: %v\n", sourcePath, err)
		return 2
	}

	cfg, err := loadConfig(&f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		return 1
	}
	defer p.close()

	events := p.queue.Subscribe()
	defer p.queue.Unsubscribe(events)

	job, err := p.queue.Submit(sourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}

	p.pool.Start()
	defer p.pool.Stop()

	logger.Info("Streampack started", "version", version, "mode", "submit", "source", sourcePath)

	for ev := range events {
		if ev.Job.ID != job.ID || !ev.Job.IsTerminal() {
			continue
		}
		final := ev.Job
		switch final.State {
		case scheduler.StateSucceeded:
			fmt.Printf("Done: %s (%d renditions, %d segments)\n",
				p.publisher.FinalDir(publish.NameFor(sourcePath)), final.Renditions, final.Segments)
			return 0
		default:
			fmt.Fprintf(os.Stderr, "Failed after %d attempt(s): %s (%s)\n",
				final.Attempts, final.Error, final.ErrorKind)
			return 1
		}
	}
	return 1
}

// runHistory prints the persisted job log. It reads the store directly so it
// works while a watch daemon holds the queue, and without one.
func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var f cliFlags
	stateFilter := fs.String("state", "", "Only show jobs in this state (queued, running, succeeded, failed, failed_permanently)")
	limit := fs.Int("limit", 20, "Maximum number of jobs to show")
	registerFlags(fs, &f)
	_ = fs.Parse(args)

	cfg, err := loadConfig(&f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.HistoryDB == "" {
		fmt.Fprintln(os.Stderr, "history: no history_db configured")
		return 2
	}

	s, err := store.NewSQLiteStore(cfg.HistoryDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}
	defer s.Close()

	var jobs []*scheduler.Job
	if *stateFilter != "" {
		jobs, err = s.GetJobsByState(scheduler.State(*stateFilter))
	} else {
		jobs, err = s.RecentJobs(*limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}

	fmt.Printf("History: %s (%d jobs)\n\n", s.Path(), len(jobs))
	for _, job := range jobs {
		line := fmt.Sprintf("  %s  %-19s  attempt %d  %s",
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			job.State, job.Attempts, job.SourcePath)
		if job.State == scheduler.StateSucceeded {
			line += fmt.Sprintf("  (%d renditions, %d segments)", job.Renditions, job.Segments)
		} else if job.Error != "" {
			line += fmt.Sprintf("  [%s] %s", job.ErrorKind, job.Error)
		}
		fmt.Println(line)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var f cliFlags
	registerFlags(fs, &f)
	_ = fs.Parse(args)

	cfg, err := loadConfig(&f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if _, err := os.Stat(cfg.WatchPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "watch: intake directory does not exist: %s\n", cfg.WatchPath)
		return 2
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		return 1
	}
	defer p.close()

	banner(cfg)
	fmt.Printf("  Watching:     %s\n", cfg.WatchPath)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf("  Logging started (level: %s)\n", cfg.LogLevel)
	fmt.Println("─────────────────────────────────────────────────────────────")

	watcher := watch.New(cfg.WatchPath, watch.Options{
		RescanInterval: time.Minute,
		Skip: func(path string) bool {
			return p.publisher.IsPublished(publish.NameFor(path))
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcherDone := make(chan error, 1)
	go func() { watcherDone <- watcher.Run(ctx) }()

	go func() {
		for path := range watcher.Files() {
			if _, err := p.queue.Submit(path); err != nil {
				logger.Warn("Submission rejected", "path", path, "error", err)
			}
		}
	}()

	p.pool.Start()
	logger.Info("Streampack started", "version", version, "mode", "watch",
		"intake", cfg.WatchPath, "workers", p.pool.WorkerCount())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")
	case err := <-watcherDone:
		if err != nil {
			logger.Error("Watcher stopped", "error", err)
			cancel()
			p.pool.Stop()
			return 1
		}
	}

	cancel()
	p.pool.Stop()
	logger.Info("Streampack stopped")
	fmt.Println("  Goodbye!")
	return 0
}
