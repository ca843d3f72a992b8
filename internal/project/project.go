// Package project holds project definitions and the backtrace path classifier.
package project

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"faultline/internal/paths"
)

// PathType is the classification of a backtrace file path.
type PathType string

const (
	// PathProject marks a file that belongs to the project's own source
	PathProject PathType = "project"
	// PathLibrary marks a file outside the repository (gems, system libraries)
	PathLibrary PathType = "library"
	// PathFiltered marks project files excluded from blame (vendored code, generated files)
	PathFiltered PathType = "filtered"
)

// Project is a tracked application and the repository its code lives in.
type Project struct {
	ID            string `toml:"id"`
	Name          string `toml:"name"`
	RepositoryURL string `toml:"repository_url"`

	// FilterPaths are repo-relative prefixes whose files are never blamed.
	FilterPaths []string `toml:"filter_paths,omitempty"`
	// WhitelistPaths re-admit files below a filtered prefix.
	WhitelistPaths []string `toml:"whitelist_paths,omitempty"`

	DisableMessageFiltering bool `toml:"disable_message_filtering,omitempty"`
}

// Classify returns the path type of a backtrace file. Absolute paths and
// paths escaping the repository are library code. A whitelist prefix only
// matters when a filter prefix matched.
func (p *Project) Classify(file string) PathType {
	file = paths.NormalizePath(file)
	if file == "" || paths.IsOutsideRepo(file) {
		return PathLibrary
	}

	if !hasAnyPrefix(file, p.FilterPaths) {
		return PathProject
	}
	if hasAnyPrefix(file, p.WhitelistPaths) {
		return PathProject
	}
	return PathFiltered
}

func hasAnyPrefix(file string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if paths.HasPathPrefix(file, prefix) {
			return true
		}
	}
	return false
}

// Validate checks that a project definition is usable.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project id is required")
	}
	if p.RepositoryURL == "" {
		return fmt.Errorf("project %q: repository_url is required", p.ID)
	}
	return nil
}

// Catalog is the set of configured projects, keyed by ID.
type Catalog struct {
	projects map[string]*Project
}

type catalogFile struct {
	Projects []*Project `toml:"projects"`
}

// NewCatalog builds a catalog from project definitions.
func NewCatalog(projects ...*Project) (*Catalog, error) {
	c := &Catalog{projects: make(map[string]*Project, len(projects))}
	for _, p := range projects {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.projects[p.ID]; dup {
			return nil, fmt.Errorf("duplicate project id %q", p.ID)
		}
		c.projects[p.ID] = p
	}
	return c, nil
}

// LoadCatalog reads project definitions from a TOML file of the form
//
//	[[projects]]
//	id = "web"
//	repository_url = "git@github.com:acme/web.git"
//	filter_paths = ["vendor"]
func LoadCatalog(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("project definitions not found: %w", err)
	}

	var file catalogFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to parse project definitions: %w", err)
	}

	return NewCatalog(file.Projects...)
}

// Get returns the project with the given ID.
func (c *Catalog) Get(id string) (*Project, bool) {
	p, ok := c.projects[id]
	return p, ok
}

// All returns every project sorted by ID.
func (c *Catalog) All() []*Project {
	out := make([]*Project, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes the catalog to path as TOML.
func (c *Catalog) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create project definitions: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := toml.NewEncoder(f).Encode(catalogFile{Projects: c.All()}); err != nil {
		return fmt.Errorf("failed to write project definitions: %w", err)
	}
	return nil
}
