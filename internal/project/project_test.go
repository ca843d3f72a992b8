package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProject_Classify(t *testing.T) {
	p := &Project{
		ID:             "web",
		RepositoryURL:  "git@github.com:acme/web.git",
		FilterPaths:    []string{"vendor", "lib/generated/"},
		WhitelistPaths: []string{"vendor/acme"},
	}

	tests := []struct {
		file string
		want PathType
	}{
		{"app/models/user.rb", PathProject},
		{"./app/models/user.rb", PathProject},
		{"vendor/rails/base.rb", PathFiltered},
		{"vendor/acme/patch.rb", PathProject},
		{"lib/generated/schema.rb", PathFiltered},
		{"lib/generator.rb", PathProject},
		{"/usr/lib/ruby/2.7.0/net/http.rb", PathLibrary},
		{"../shared/helper.rb", PathLibrary},
		{"", PathLibrary},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := p.Classify(tt.file); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}

func TestProject_ClassifyWhitelistWithoutFilter(t *testing.T) {
	p := &Project{ID: "web", RepositoryURL: "x", WhitelistPaths: []string{"app"}}

	if got := p.Classify("lib/task.rb"); got != PathProject {
		t.Errorf("Classify() = %v, want %v", got, PathProject)
	}
}

func TestNewCatalog(t *testing.T) {
	_, err := NewCatalog(
		&Project{ID: "web", RepositoryURL: "a"},
		&Project{ID: "web", RepositoryURL: "b"},
	)
	if err == nil {
		t.Error("expected duplicate id error")
	}

	_, err = NewCatalog(&Project{ID: "api"})
	if err == nil {
		t.Error("expected missing repository_url error")
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.toml")
	content := `
[[projects]]
id = "web"
name = "Web"
repository_url = "git@github.com:acme/web.git"
filter_paths = ["vendor"]
whitelist_paths = ["vendor/acme"]

[[projects]]
id = "android"
repository_url = "git@github.com:acme/android.git"
disable_message_filtering = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}

	web, ok := catalog.Get("web")
	if !ok {
		t.Fatal("expected project web")
	}
	if web.RepositoryURL != "git@github.com:acme/web.git" {
		t.Errorf("RepositoryURL = %q", web.RepositoryURL)
	}
	if len(web.FilterPaths) != 1 || web.FilterPaths[0] != "vendor" {
		t.Errorf("FilterPaths = %v", web.FilterPaths)
	}

	android, _ := catalog.Get("android")
	if !android.DisableMessageFiltering {
		t.Error("expected message filtering disabled for android")
	}

	all := catalog.All()
	if len(all) != 2 || all[0].ID != "android" || all[1].ID != "web" {
		t.Errorf("All() not sorted by id: %v", all)
	}
}

func TestCatalog_SaveAndLoad(t *testing.T) {
	catalog, err := NewCatalog(&Project{ID: "api", RepositoryURL: "https://example.com/api.git", FilterPaths: []string{"third_party"}})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "projects.toml")
	if err := catalog.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	api, ok := loaded.Get("api")
	if !ok || api.FilterPaths[0] != "third_party" {
		t.Errorf("reloaded project = %+v", api)
	}
}

func TestLoadCatalog_Missing(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
