package repo

import (
	"fmt"
	"log/slog"
	"sync"

	"faultline/internal/errors"
	"faultline/internal/project"
)

// OpenFunc creates the Repository for a repository URL.
type OpenFunc func(url string) Repository

// Registry hands out one Repository per repository URL for the projects of a
// catalog. Projects sharing a URL share the instance.
type Registry struct {
	catalog *project.Catalog
	open    OpenFunc

	mu    sync.Mutex
	byURL map[string]Repository
}

// NewRegistry creates a registry over catalog using open to build repositories.
func NewRegistry(catalog *project.Catalog, open OpenFunc) *Registry {
	return &Registry{
		catalog: catalog,
		open:    open,
		byURL:   make(map[string]Repository),
	}
}

// NewGitRegistry creates a registry of git mirrors.
func NewGitRegistry(catalog *project.Catalog, opts Options, logger *slog.Logger) *Registry {
	return NewRegistry(catalog, func(url string) Repository {
		return NewGitRepository(url, opts, logger)
	})
}

// Project returns the project definition and its repository.
func (r *Registry) Project(id string) (*project.Project, Repository, error) {
	p, ok := r.catalog.Get(id)
	if !ok {
		return nil, nil, errors.New(errors.NotFound, fmt.Sprintf("unknown project %q", id), nil, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	repository, ok := r.byURL[p.RepositoryURL]
	if !ok {
		repository = r.open(p.RepositoryURL)
		r.byURL[p.RepositoryURL] = repository
	}
	return p, repository, nil
}

// Catalog returns the underlying project catalog.
func (r *Registry) Catalog() *project.Catalog {
	return r.catalog
}
