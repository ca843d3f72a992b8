package jobs

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"faultline/internal/blamer"
	"faultline/internal/errors"
	"faultline/internal/model"
	"faultline/internal/slogutil"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(t.TempDir(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open jobs store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func startRunner(t *testing.T, store *Store, handler JobHandler) *Runner {
	t.Helper()

	runner := NewRunner(store, slogutil.NewDiscardLogger(), RunnerConfig{
		QueueSize:        10,
		WorkerCount:      2,
		MaxAttempts:      3,
		RecoveryInterval: 20 * time.Millisecond,
	})
	runner.RegisterHandler(JobTypeAssignOccurrence, handler)
	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = runner.Stop(5 * time.Second) })
	return runner
}

func drain(t *testing.T, runner *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runner.Drain(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job, err := NewJob(JobTypeAssignOccurrence, []byte(`{"id":"occ-1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got == nil || got.Payload != job.Payload || got.Status != JobQueued {
		t.Fatalf("GetJob() = %+v", got)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
	}

	missing, err := store.GetJob(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetJob(missing) = %v, %v", missing, err)
	}
}

func TestStore_ClaimOnce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job, _ := NewJob(JobTypeAssignOccurrence, nil)
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	copyA, _ := store.GetJob(ctx, job.ID)
	copyB, _ := store.GetJob(ctx, job.ID)

	first, err := store.ClaimJob(ctx, copyA)
	if err != nil || !first {
		t.Fatalf("first ClaimJob() = %v, %v", first, err)
	}
	second, err := store.ClaimJob(ctx, copyB)
	if err != nil || second {
		t.Errorf("second ClaimJob() = %v, %v, want false", second, err)
	}

	stored, _ := store.GetJob(ctx, job.ID)
	if stored.Status != JobRunning || stored.Attempts != 1 {
		t.Errorf("stored = %+v", stored)
	}
}

func TestStore_ListAndCount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job, _ := NewJob(JobTypeAssignOccurrence, nil)
		if i == 0 {
			job.MarkFailed(errors.New(errors.UnresolvableRevision, "no revision", nil, nil))
		}
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := store.ListJobs(ctx, ListJobsOptions{Status: []JobStatus{JobFailed}})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if resp.TotalCount != 1 || len(resp.Jobs) != 1 || resp.Jobs[0].ErrorCode != "UNRESOLVABLE_REVISION" {
		t.Errorf("ListJobs() = %+v", resp)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[JobQueued] != 2 || counts[JobFailed] != 1 {
		t.Errorf("CountByStatus() = %v", counts)
	}

	removed, err := store.CleanupOldJobs(ctx, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("CleanupOldJobs() removed %d, want 1", removed)
	}
}

func TestStore_RequeueRunning(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job, _ := NewJob(JobTypeAssignOccurrence, nil)
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	n, err := store.RequeueRunning(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RequeueRunning() = %d, %v", n, err)
	}
	pending, err := store.GetPendingJobs(ctx)
	if err != nil || len(pending) != 1 {
		t.Errorf("GetPendingJobs() = %v, %v", pending, err)
	}
}

func TestRunner_ProcessesJobs(t *testing.T) {
	store := setupStore(t)
	var calls atomic.Int32
	runner := startRunner(t, store, func(ctx context.Context, job *Job) (interface{}, error) {
		calls.Add(1)
		return map[string]string{"payload": job.Payload}, nil
	})

	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		job, _ := NewJob(JobTypeAssignOccurrence, map[string]int{"n": i})
		if err := runner.Submit(ctx, job); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids = append(ids, job.ID)
	}
	drain(t, runner)

	if calls.Load() != 5 {
		t.Errorf("handler calls = %d, want 5", calls.Load())
	}
	for _, id := range ids {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != JobCompleted || job.Result == "" {
			t.Errorf("job %s = %+v", id, job)
		}
	}
	if stats := runner.Stats(); stats.ProcessedTotal != 5 {
		t.Errorf("Stats().ProcessedTotal = %d", stats.ProcessedTotal)
	}
}

func TestRunner_RetriesTransientFailures(t *testing.T) {
	store := setupStore(t)
	var calls atomic.Int32
	runner := startRunner(t, store, func(ctx context.Context, job *Job) (interface{}, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New(errors.MirrorLockTimeout, "mirror locked", nil, nil)
		}
		return "ok", nil
	})

	job, _ := NewJob(JobTypeAssignOccurrence, nil)
	if err := runner.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	drain(t, runner)

	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != JobCompleted || got.Attempts != 3 {
		t.Errorf("job = %+v, want completed on third attempt", got)
	}
}

func TestRunner_GivesUpAfterMaxAttempts(t *testing.T) {
	store := setupStore(t)
	runner := startRunner(t, store, func(ctx context.Context, job *Job) (interface{}, error) {
		return nil, errors.New(errors.MirrorLockTimeout, "mirror locked", nil, nil)
	})

	job, _ := NewJob(JobTypeAssignOccurrence, nil)
	if err := runner.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	drain(t, runner)

	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != JobFailed || got.Attempts != 3 || got.ErrorCode != "MIRROR_LOCK_TIMEOUT" {
		t.Errorf("job = %+v", got)
	}
}

func TestRunner_PermanentFailureNotRetried(t *testing.T) {
	store := setupStore(t)
	var calls atomic.Int32
	runner := startRunner(t, store, func(ctx context.Context, job *Job) (interface{}, error) {
		calls.Add(1)
		return nil, errors.New(errors.UnresolvableRevision, "no revision", nil, nil)
	})

	job, _ := NewJob(JobTypeAssignOccurrence, nil)
	if err := runner.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	drain(t, runner)

	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	got, _ := store.GetJob(context.Background(), job.ID)
	if got.Status != JobFailed || got.ErrorCode != "UNRESOLVABLE_REVISION" {
		t.Errorf("job = %+v", got)
	}
}

func TestRunner_CancelQueuedJob(t *testing.T) {
	store := setupStore(t)
	runner := NewRunner(store, slogutil.NewDiscardLogger(), RunnerConfig{})
	ctx := context.Background()

	job, _ := NewJob(JobTypeAssignOccurrence, nil)
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := runner.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != JobCancelled {
		t.Errorf("Status = %v, want cancelled", got.Status)
	}
	if err := runner.Cancel(ctx, job.ID); err == nil {
		t.Error("cancelling a cancelled job should fail")
	}
	if err := runner.Cancel(ctx, "missing"); err == nil {
		t.Error("cancelling an unknown job should fail")
	}
}

type fakeAssigner struct {
	got *model.Occurrence
}

func (f *fakeAssigner) Ingest(ctx context.Context, occ *model.Occurrence) (*blamer.Assignment, error) {
	f.got = occ
	return &blamer.Assignment{
		Resolution: &blamer.Resolution{
			Bug:     &model.Bug{ID: 42, File: "app/models/user.rb", Line: 22},
			Outcome: "created",
		},
		Reopened: true,
	}, nil
}

func TestAssignHandler(t *testing.T) {
	assigner := &fakeAssigner{}
	job, err := NewAssignJob([]byte(`{"id":"occ-9","project":"web","environment":"production","revision":"abc"}`))
	if err != nil {
		t.Fatalf("NewAssignJob() error = %v", err)
	}

	out, err := AssignHandler(assigner)(context.Background(), job)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if assigner.got == nil || assigner.got.ID != "occ-9" {
		t.Fatalf("assigner got %+v", assigner.got)
	}

	data, _ := json.Marshal(out)
	var res AssignResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatal(err)
	}
	want := AssignResult{OccurrenceID: "occ-9", BugID: 42, Outcome: "created", Reopened: true, File: "app/models/user.rb", Line: 22}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
}

func TestNewAssignJob_RejectsInvalidJSON(t *testing.T) {
	if _, err := NewAssignJob([]byte(`not json`)); !errors.HasCode(err, errors.InvalidInput) {
		t.Errorf("NewAssignJob() error = %v, want INVALID_INPUT", err)
	}
}
