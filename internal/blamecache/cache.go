// Package blamecache is a durable, size-bounded cache of line blames in
// front of a repo.Repository.
package blamecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"faultline/internal/errors"
	"faultline/internal/repo"
	"faultline/internal/storage"
	"faultline/internal/telemetry"
)

// DefaultMaxEntries is the default capacity of the cache.
const DefaultMaxEntries = 500000

// Cache stores the blamed revision of (repository, revision, file, line)
// tuples. Only successful blames are stored; a hit re-resolves the stored
// revision through the repository so callers always get current commit
// metadata.
type Cache struct {
	store      *storage.BlameRepository
	maxEntries int
	logger     *slog.Logger

	group singleflight.Group

	mu        sync.Mutex
	repoLocks map[string]*sync.Mutex
}

// Stats describes the cache contents.
type Stats struct {
	*storage.BlameStats
	MaxEntries int `json:"maxEntries"`
}

// New creates a cache over store holding at most maxEntries entries.
func New(store *storage.BlameRepository, maxEntries int, logger *slog.Logger) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		store:      store,
		maxEntries: maxEntries,
		logger:     logger,
		repoLocks:  make(map[string]*sync.Mutex),
	}
}

// Blame returns the commit that last modified line of file as of revision,
// or nil when no blame is available. Repository failures are logged and
// reported as nil, except a mirror lock timeout which is returned.
func (c *Cache) Blame(ctx context.Context, r repo.Repository, revision, file string, line int) (*repo.Commit, error) {
	key := storage.BlameKey{
		RepositoryID: r.Identity(),
		Revision:     revision,
		File:         file,
		Line:         line,
	}

	commit, hit, err := c.lookup(ctx, r, key)
	if err != nil || hit {
		return commit, err
	}

	flight := fmt.Sprintf("%s\x00%s\x00%s\x00%d", key.RepositoryID, key.Revision, key.File, key.Line)
	v, err, _ := c.group.Do(flight, func() (interface{}, error) {
		return c.fill(ctx, r, key)
	})
	if err != nil {
		return nil, err
	}
	commit, _ = v.(*repo.Commit)
	return commit, nil
}

// lookup touches a cached entry and resolves it. hit is false on a miss.
func (c *Cache) lookup(ctx context.Context, r repo.Repository, key storage.BlameKey) (*repo.Commit, bool, error) {
	sha, found, err := c.store.Touch(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	telemetry.BlameCacheHits.Inc()

	commit, err := r.Resolve(ctx, sha)
	if err != nil {
		if errors.HasCode(err, errors.MirrorLockTimeout) {
			return nil, true, err
		}
		c.logger.Warn("Failed to resolve cached blame", "revision", sha, "error", err)
		return nil, true, nil
	}
	return commit, true, nil
}

// fill runs one repository blame for a missed key and stores the result.
func (c *Cache) fill(ctx context.Context, r repo.Repository, key storage.BlameKey) (*repo.Commit, error) {
	// Another flight may have stored the key since our lookup
	if commit, hit, err := c.lookup(ctx, r, key); err != nil || hit {
		return commit, err
	}

	telemetry.BlameCacheMisses.Inc()

	commit, err := r.Blame(ctx, key.Revision, key.File, key.Line)
	if err != nil {
		if errors.HasCode(err, errors.MirrorLockTimeout) {
			return nil, err
		}
		code := string(errors.CodeOf(err))
		if code == "" {
			code = string(errors.BlameUnavailable)
		}
		telemetry.BlameFailures.WithLabelValues(code).Inc()
		c.logger.Warn("Blame unavailable",
			"repository", key.RepositoryID,
			"revision", key.Revision,
			"file", key.File,
			"line", key.Line,
			"error", err,
		)
		return nil, nil
	}
	if commit == nil {
		return nil, nil
	}

	lock := c.repoLock(key.RepositoryID)
	lock.Lock()
	evicted, err := c.store.Insert(ctx, key, commit.SHA, c.maxEntries)
	lock.Unlock()

	if err != nil {
		c.logger.Error("Failed to cache blame", "file", key.File, "line", key.Line, "error", err)
		return commit, nil
	}
	if evicted > 0 {
		telemetry.BlameCacheEvictions.Add(float64(evicted))
		c.logger.Debug("Evicted blame cache entries", "count", evicted)
	}
	return commit, nil
}

func (c *Cache) repoLock(repositoryID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.repoLocks[repositoryID]
	if !ok {
		l = &sync.Mutex{}
		c.repoLocks[repositoryID] = l
	}
	return l
}

// Stats returns the cache contents summary.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	s, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{BlameStats: s, MaxEntries: c.maxEntries}, nil
}

// Prune evicts least recently accessed entries until at most target remain.
// A negative target prunes to the configured capacity.
func (c *Cache) Prune(ctx context.Context, target int) (int, error) {
	if target < 0 {
		target = c.maxEntries
	}
	n, err := c.store.Prune(ctx, target)
	if err == nil && n > 0 {
		telemetry.BlameCacheEvictions.Add(float64(n))
	}
	return n, err
}

// Purge drops every entry of one repository.
func (c *Cache) Purge(ctx context.Context, repositoryID string) (int, error) {
	return c.store.Purge(ctx, repositoryID)
}
