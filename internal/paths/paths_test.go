package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"app/models/user.rb", "app/models/user.rb"},
		{"./app/models/user.rb", "app/models/user.rb"},
		{"app//models/../models/user.rb", "app/models/user.rb"},
		{`app\models\user.rb`, "app/models/user.rb"},
		{"/usr/lib/ruby/gems/foo.rb", "/usr/lib/ruby/gems/foo.rb"},
		{"../vendor/lib.rb", "../vendor/lib.rb"},
		{"", ""},
		{".", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizePath(tt.input); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsOutsideRepo(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"app/models/user.rb", false},
		{"/usr/lib/ruby.rb", true},
		{"../vendor/lib.rb", true},
		{"..", true},
		{"..foo/bar.rb", false},
	}

	for _, tt := range tests {
		if got := IsOutsideRepo(tt.path); got != tt.want {
			t.Errorf("IsOutsideRepo(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestHasPathPrefix(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"vendor/rails/base.rb", "vendor", true},
		{"vendor/rails/base.rb", "vendor/", true},
		{"vendor", "vendor", true},
		{"vendors/base.rb", "vendor", false},
		{"app/vendor/base.rb", "vendor", false},
		{"app/base.rb", "", false},
	}

	for _, tt := range tests {
		if got := HasPathPrefix(tt.path, tt.prefix); got != tt.want {
			t.Errorf("HasPathPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}

func TestRepositoryHash(t *testing.T) {
	a := RepositoryHash("git@github.com:acme/web.git")
	b := RepositoryHash("  git@github.com:acme/web.git\n")
	c := RepositoryHash("git@github.com:acme/api.git")

	if len(a) != 40 {
		t.Errorf("hash length = %d, want 40", len(a))
	}
	if a != b {
		t.Error("surrounding whitespace should not change the hash")
	}
	if a == c {
		t.Error("different URLs should hash differently")
	}
}

func TestEnsureDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), DefaultDataDir)

	if err := EnsureDataDir(dataDir); err != nil {
		t.Fatalf("EnsureDataDir() error = %v", err)
	}

	for _, dir := range []string{dataDir, LocksDir(dataDir), filepath.Dir(MirrorPath(dataDir, "abc"))} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	logDir, err := EnsureLogsDir(dataDir)
	if err != nil {
		t.Fatalf("EnsureLogsDir() error = %v", err)
	}
	if got := IngestLogPath(logDir); got != filepath.Join(dataDir, "logs", "ingest.log") {
		t.Errorf("IngestLogPath() = %q", got)
	}
}

func TestDataDirLayout(t *testing.T) {
	dataDir := "/var/lib/faultline"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", ConfigPath(dataDir), "/var/lib/faultline/config.json"},
		{"database", DatabasePath(dataDir), "/var/lib/faultline/faultline.db"},
		{"jobs", JobsDatabasePath(dataDir), "/var/lib/faultline/jobs.db"},
		{"projects", ProjectsPath(dataDir), "/var/lib/faultline/projects.toml"},
		{"mirror", MirrorPath(dataDir, "abc"), "/var/lib/faultline/mirrors/abc.git"},
	}

	for _, tt := range tests {
		if filepath.ToSlash(tt.got) != tt.want {
			t.Errorf("%s path = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
