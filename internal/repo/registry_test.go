package repo_test

import (
	"testing"

	"faultline/internal/errors"
	"faultline/internal/project"
	"faultline/internal/repo"
	"faultline/internal/testutil"
)

func TestRegistry_SharesRepositoryPerURL(t *testing.T) {
	catalog, err := project.NewCatalog(
		&project.Project{ID: "web", RepositoryURL: "git@example.com:acme/mono.git"},
		&project.Project{ID: "worker", RepositoryURL: "git@example.com:acme/mono.git"},
		&project.Project{ID: "ios", RepositoryURL: "git@example.com:acme/ios.git"},
	)
	if err != nil {
		t.Fatal(err)
	}

	opened := 0
	registry := repo.NewRegistry(catalog, func(url string) repo.Repository {
		opened++
		return testutil.NewFakeRepository(url)
	})

	_, web, err := registry.Project("web")
	if err != nil {
		t.Fatalf("Project(web) error = %v", err)
	}
	_, worker, _ := registry.Project("worker")
	p, ios, _ := registry.Project("ios")

	if web != worker {
		t.Error("projects sharing a URL should share a repository")
	}
	if ios == web {
		t.Error("different URLs should get different repositories")
	}
	if p.ID != "ios" {
		t.Errorf("project = %s, want ios", p.ID)
	}
	if opened != 2 {
		t.Errorf("opened %d repositories, want 2", opened)
	}

	if _, _, err := registry.Project("unknown"); !errors.HasCode(err, errors.NotFound) {
		t.Errorf("Project(unknown) error = %v, want NOT_FOUND", err)
	}
}
