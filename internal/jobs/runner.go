package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// JobHandler executes a specific type of job.
type JobHandler func(ctx context.Context, job *Job) (interface{}, error)

// Runner manages background job execution.
type Runner struct {
	store    *Store
	logger   *slog.Logger
	handlers map[JobType]JobHandler

	queue       chan *Job
	queueSize   int
	workerCount int
	maxAttempts int

	// Control channels
	done   chan struct{}
	cancel map[string]context.CancelFunc

	mu sync.RWMutex
	wg sync.WaitGroup

	processedCount atomic.Int64
	failedCount    atomic.Int64
	retriedCount   atomic.Int64

	recoveryInterval time.Duration
}

// RunnerConfig contains configuration for the job runner.
type RunnerConfig struct {
	QueueSize   int
	WorkerCount int
	// MaxAttempts bounds retries of transient failures.
	MaxAttempts      int
	RecoveryInterval time.Duration // How often queued jobs are reloaded from the store
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		QueueSize:        100,
		WorkerCount:      4,
		MaxAttempts:      3,
		RecoveryInterval: 30 * time.Second,
	}
}

// NewRunner creates a new job runner.
func NewRunner(store *Store, logger *slog.Logger, config RunnerConfig) *Runner {
	defaults := DefaultRunnerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RecoveryInterval <= 0 {
		config.RecoveryInterval = defaults.RecoveryInterval
	}

	return &Runner{
		store:            store,
		logger:           logger,
		handlers:         make(map[JobType]JobHandler),
		queue:            make(chan *Job, config.QueueSize),
		queueSize:        config.QueueSize,
		workerCount:      config.WorkerCount,
		maxAttempts:      config.MaxAttempts,
		done:             make(chan struct{}),
		cancel:           make(map[string]context.CancelFunc),
		recoveryInterval: config.RecoveryInterval,
	}
}

// RegisterHandler registers a handler for a job type.
func (r *Runner) RegisterHandler(jobType JobType, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
	r.logger.Debug("Registered job handler", "type", jobType)
}

// Start requeues jobs a previous process left running and begins processing.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Starting job runner",
		"workers", r.workerCount,
		"queueSize", r.queueSize,
		"recoveryInterval", r.recoveryInterval.String(),
	)

	if n, err := r.store.RequeueRunning(ctx); err != nil {
		return err
	} else if n > 0 {
		r.logger.Warn("Requeued interrupted jobs", "count", n)
	}

	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.wg.Add(1)
	go r.recoveryLoop()

	r.recoverPendingJobs()
	return nil
}

// recoveryLoop periodically reloads queued jobs that did not fit the queue
// or are waiting for a retry.
func (r *Runner) recoveryLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.recoverPendingJobs()
		case <-r.done:
			r.logger.Debug("Recovery loop stopping")
			return
		}
	}
}

// recoverPendingJobs enqueues queued jobs from the store. A job enqueued twice
// runs once because workers claim it in the store first.
func (r *Runner) recoverPendingJobs() {
	pending, err := r.store.GetPendingJobs(context.Background())
	if err != nil {
		r.logger.Warn("Failed to recover pending jobs", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	recovered := 0
enqueue:
	for _, job := range pending {
		select {
		case r.queue <- job:
			recovered++
		case <-r.done:
			return
		default:
			// Queue still full, will retry on next interval
			break enqueue
		}
	}

	if recovered > 0 {
		r.logger.Debug("Recovered pending jobs",
			"recovered", recovered,
			"remaining", len(pending)-recovered,
		)
	}
}

// Stop gracefully shuts down the runner.
func (r *Runner) Stop(timeout time.Duration) error {
	r.logger.Info("Stopping job runner")

	close(r.done)

	r.mu.Lock()
	for id, cancel := range r.cancel {
		r.logger.Debug("Cancelling running job", "jobId", id)
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Job runner stopped cleanly")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job runner shutdown timed out after %v", timeout)
	}
}

// Submit persists a job and queues it.
func (r *Runner) Submit(ctx context.Context, job *Job) error {
	if err := r.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}

	select {
	case r.queue <- job:
		r.logger.Debug("Job queued", "jobId", job.ID, "type", job.Type)
		return nil
	case <-time.After(100 * time.Millisecond):
		// Queue is full, job remains in database and will be picked up later
		r.logger.Debug("Job queue full, job will be processed later", "jobId", job.ID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return fmt.Errorf("runner is shutting down")
	}
}

// Cancel attempts to cancel a job.
func (r *Runner) Cancel(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if !job.CanCancel() {
		return fmt.Errorf("job cannot be cancelled in state: %s", job.Status)
	}

	r.mu.Lock()
	if cancel, ok := r.cancel[jobID]; ok {
		cancel()
	}
	r.mu.Unlock()

	job.MarkCancelled()
	return r.store.UpdateJob(ctx, job)
}

// Drain blocks until no job is queued or running, polling the store.
func (r *Runner) Drain(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		counts, err := r.store.CountByStatus(ctx)
		if err != nil {
			return err
		}
		if counts[JobQueued] == 0 && counts[JobRunning] == 0 {
			return nil
		}

		select {
		case <-ticker.C:
			// Retries wait for the recovery loop; pull them in sooner while draining
			if len(r.queue) == 0 && counts[JobRunning] == 0 {
				r.recoverPendingJobs()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("Job worker started", "workerId", id)

	for {
		select {
		case job, ok := <-r.queue:
			if !ok {
				return
			}
			r.processJob(job)

		case <-r.done:
			r.logger.Debug("Job worker stopping", "workerId", id)
			return
		}
	}
}

// processJob executes a single job.
func (r *Runner) processJob(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	claimed, err := r.store.ClaimJob(ctx, job)
	if err != nil {
		r.logger.Error("Failed to claim job", "jobId", job.ID, "error", err)
		return
	}
	if !claimed {
		return
	}

	r.mu.RLock()
	handler, ok := r.handlers[job.Type]
	r.mu.RUnlock()

	if !ok {
		r.logger.Error("No handler for job type", "jobId", job.ID, "type", job.Type)
		job.MarkFailed(fmt.Errorf("no handler for job type: %s", job.Type))
		r.failedCount.Add(1)
		r.save(job)
		return
	}

	r.mu.Lock()
	r.cancel[job.ID] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.cancel, job.ID)
		r.mu.Unlock()
	}()

	startTime := time.Now()
	result, err := handler(ctx, job)
	duration := time.Since(startTime)

	switch {
	case err != nil && ctx.Err() == context.Canceled:
		job.MarkCancelled()
		r.logger.Info("Job cancelled", "jobId", job.ID, "duration", duration.String())

	case err != nil && Retryable(err) && job.Attempts < r.maxAttempts:
		job.MarkRetry(err)
		r.retriedCount.Add(1)
		r.logger.Warn("Job failed, will retry",
			"jobId", job.ID,
			"attempt", job.Attempts,
			"error", err,
		)

	case err != nil:
		job.MarkFailed(err)
		r.failedCount.Add(1)
		r.logger.Error("Job failed",
			"jobId", job.ID,
			"error", err,
			"duration", duration.String(),
		)

	default:
		if err := job.MarkCompleted(result); err != nil {
			r.logger.Error("Failed to serialize job result", "jobId", job.ID, "error", err)
			job.MarkFailed(err)
			r.failedCount.Add(1)
		} else {
			r.processedCount.Add(1)
			r.logger.Debug("Job completed", "jobId", job.ID, "duration", duration.String())
		}
	}

	r.save(job)
}

func (r *Runner) save(job *Job) {
	if err := r.store.UpdateJob(context.Background(), job); err != nil {
		r.logger.Error("Failed to save job state", "jobId", job.ID, "error", err)
	}
}

// RunnerStats summarises runner activity.
type RunnerStats struct {
	QueueLength    int   `json:"queueLength"`
	QueueCapacity  int   `json:"queueCapacity"`
	RunningJobs    int   `json:"runningJobs"`
	ProcessedTotal int64 `json:"processedTotal"`
	FailedTotal    int64 `json:"failedTotal"`
	RetriedTotal   int64 `json:"retriedTotal"`
	WorkerCount    int   `json:"workerCount"`
}

// Stats returns runner statistics.
func (r *Runner) Stats() RunnerStats {
	r.mu.RLock()
	runningCount := len(r.cancel)
	r.mu.RUnlock()

	return RunnerStats{
		QueueLength:    len(r.queue),
		QueueCapacity:  r.queueSize,
		RunningJobs:    runningCount,
		ProcessedTotal: r.processedCount.Load(),
		FailedTotal:    r.failedCount.Load(),
		RetriedTotal:   r.retriedCount.Load(),
		WorkerCount:    r.workerCount,
	}
}

// IsRunning returns true if the runner is active.
func (r *Runner) IsRunning() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
