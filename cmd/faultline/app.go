package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"faultline/internal/blamecache"
	"faultline/internal/blamer"
	"faultline/internal/config"
	"faultline/internal/jobs"
	"faultline/internal/model"
	"faultline/internal/msgfilter"
	"faultline/internal/project"
	"faultline/internal/repo"
	"faultline/internal/scoring"
	"faultline/internal/slogutil"
	"faultline/internal/storage"
)

// app wires the ingestion pipeline for one command invocation.
type app struct {
	cfg      *config.Config
	factory  *slogutil.LoggerFactory
	logger   *slog.Logger
	db       *storage.DB
	registry *repo.Registry
	cache    *blamecache.Cache
	filter   *msgfilter.Filter
	scorer   *scoring.Scorer
	blamer   *blamer.Blamer

	jobStore *jobs.Store
	runner   *jobs.Runner
	started  bool
}

// appOptions selects the optional parts of the pipeline.
type appOptions struct {
	// ingestLog tees logs into the ingest log file
	ingestLog bool
	// jobs opens the job store and builds a runner
	jobs bool
}

func openApp(opts appOptions) (*app, error) {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, factory: slogutil.NewLoggerFactory(cfg, cliLevel())}
	if opts.ingestLog {
		a.logger = a.factory.IngestLogger()
	} else {
		a.logger = a.factory.CLILogger()
	}

	db, err := storage.Open(cfg.DataDir, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db

	catalog, err := project.LoadCatalog(cfg.ProjectsFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = repo.NewGitRegistry(catalog, repo.OptionsFromConfig(cfg), a.logger)
	a.cache = blamecache.New(storage.NewBlameRepository(db), cfg.BlameCache.MaxEntries, a.logger)

	dict, err := loadDictionary(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.filter = msgfilter.New(dict, cfg.Messages.MaxLength)
	a.scorer = scoring.New(a.cache, a.logger)
	a.blamer = blamer.New(a.registry, a.scorer, a.filter, db, blamer.Options{
		StaleFixDays: cfg.Reopen.StaleFixDays,
		OnReopen:     a.logReopen,
	}, a.logger)

	if opts.jobs {
		store, err := jobs.OpenStore(cfg.DataDir, a.logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.jobStore = store

		runnerCfg := jobs.DefaultRunnerConfig()
		runnerCfg.WorkerCount = cfg.Jobs.Workers
		runnerCfg.QueueSize = cfg.Jobs.QueueSize
		a.runner = jobs.NewRunner(store, a.logger, runnerCfg)
		a.runner.RegisterHandler(jobs.JobTypeAssignOccurrence, jobs.AssignHandler(a.blamer))
	}

	return a, nil
}

// mustOpenApp returns the wired pipeline or exits on error.
func mustOpenApp(opts appOptions) *app {
	a, err := openApp(opts)
	exitOnError("initializing", err)
	return a
}

func loadDictionary(cfg *config.Config) (*msgfilter.Dictionary, error) {
	if cfg.Messages.DictionaryPath != "" {
		return msgfilter.LoadDictionary(cfg.Messages.DictionaryPath)
	}
	return msgfilter.DefaultDictionary()
}

func (a *app) logReopen(_ context.Context, bug *model.Bug, occ *model.Occurrence, reason string) {
	a.logger.Warn("Bug reopened",
		"bugId", bug.ID,
		"class", bug.ClassName,
		"file", bug.File,
		"line", bug.Line,
		"occurrenceId", occ.ID,
		"reason", reason,
	)
}

// startRunner begins processing queued jobs.
func (a *app) startRunner(ctx context.Context) error {
	if err := a.runner.Start(ctx); err != nil {
		return err
	}
	a.started = true
	return nil
}

// Close stops the runner and releases every open resource.
func (a *app) Close() {
	if a.started && a.runner.IsRunning() {
		if err := a.runner.Stop(30 * time.Second); err != nil {
			a.logger.Warn("Job runner did not stop", "error", err)
		}
	}
	if a.jobStore != nil {
		_ = a.jobStore.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if err := a.factory.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing logs: %v\n", err)
	}
}
