// Package repo is the repository access port used for revision resolution
// and line blame, together with its git implementation.
package repo

import (
	"context"
	"time"
)

// Commit is a resolved commit.
type Commit struct {
	SHA           string    `json:"sha"`
	CommitterDate time.Time `json:"committerDate"`
	AuthorName    string    `json:"authorName,omitempty"`
	AuthorEmail   string    `json:"authorEmail,omitempty"`
}

// Repository gives read access to one source repository.
//
// Resolve and Blame return (nil, nil) when the revision, file or line does
// not exist. Errors are reserved for failures of the repository itself.
type Repository interface {
	// Identity is a stable key for the repository, used to partition caches.
	Identity() string

	// Resolve returns the commit a revision names.
	Resolve(ctx context.Context, revision string) (*Commit, error)

	// Blame returns the commit that last modified line of file as of revision.
	Blame(ctx context.Context, revision, file string, line int) (*Commit, error)

	// Fetch updates the local copy of the repository.
	Fetch(ctx context.Context) error
}
