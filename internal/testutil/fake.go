// Package testutil provides fakes and fixtures shared by package tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/repo"
)

// BlameKey addresses one blamed line. An empty Revision matches any revision.
type BlameKey struct {
	Revision string
	File     string
	Line     int
}

// FakeRepository is an in-memory repo.Repository that counts its calls.
type FakeRepository struct {
	ID string

	// BlameErr, ResolveErr and FetchErr are returned by the matching method when set.
	BlameErr   error
	ResolveErr error
	FetchErr   error

	// BlameDelay is slept inside Blame so that concurrent callers overlap.
	BlameDelay time.Duration

	mu      sync.Mutex
	commits map[string]*repo.Commit
	blames  map[BlameKey]*repo.Commit

	blameCalls   atomic.Int64
	resolveCalls atomic.Int64
	fetchCalls   atomic.Int64
}

// NewFakeRepository creates an empty fake with the given identity.
func NewFakeRepository(id string) *FakeRepository {
	return &FakeRepository{
		ID:      id,
		commits: make(map[string]*repo.Commit),
		blames:  make(map[BlameKey]*repo.Commit),
	}
}

// AddCommit makes c resolvable by its SHA and by any extra revision names.
func (f *FakeRepository) AddCommit(c *repo.Commit, names ...string) *repo.Commit {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commits[c.SHA] = c
	for _, n := range names {
		f.commits[n] = c
	}
	return c
}

// SetBlame records that line of file was last changed by c at every revision.
func (f *FakeRepository) SetBlame(file string, line int, c *repo.Commit) {
	f.SetRevisionBlame("", file, line, c)
}

// SetRevisionBlame records the blame of one line as of a single revision.
func (f *FakeRepository) SetRevisionBlame(revision, file string, line int, c *repo.Commit) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.blames[BlameKey{Revision: revision, File: file, Line: line}] = c
	f.commits[c.SHA] = c
}

// Identity implements repo.Repository.
func (f *FakeRepository) Identity() string {
	return f.ID
}

// Resolve implements repo.Repository.
func (f *FakeRepository) Resolve(ctx context.Context, revision string) (*repo.Commit, error) {
	f.resolveCalls.Add(1)
	if f.ResolveErr != nil {
		return nil, f.ResolveErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[revision], nil
}

// Blame implements repo.Repository.
func (f *FakeRepository) Blame(ctx context.Context, revision, file string, line int) (*repo.Commit, error) {
	f.blameCalls.Add(1)
	if f.BlameDelay > 0 {
		select {
		case <-time.After(f.BlameDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.BlameErr != nil {
		return nil, f.BlameErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.blames[BlameKey{Revision: revision, File: file, Line: line}]; ok {
		return c, nil
	}
	return f.blames[BlameKey{File: file, Line: line}], nil
}

// Fetch implements repo.Repository.
func (f *FakeRepository) Fetch(ctx context.Context) error {
	f.fetchCalls.Add(1)
	return f.FetchErr
}

// BlameCalls returns how many times Blame was invoked.
func (f *FakeRepository) BlameCalls() int { return int(f.blameCalls.Load()) }

// ResolveCalls returns how many times Resolve was invoked.
func (f *FakeRepository) ResolveCalls() int { return int(f.resolveCalls.Load()) }

// FetchCalls returns how many times Fetch was invoked.
func (f *FakeRepository) FetchCalls() int { return int(f.fetchCalls.Load()) }
