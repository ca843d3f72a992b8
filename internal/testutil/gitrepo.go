package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// GitFixture is a throwaway git repository built with the git binary.
type GitFixture struct {
	t   *testing.T
	Dir string
}

// NewGitFixture initialises an empty repository in a temp dir. The test is
// skipped when git is not installed.
func NewGitFixture(t *testing.T) *GitFixture {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	f := &GitFixture{t: t, Dir: t.TempDir()}
	f.Git(nil, "init", "--quiet", "--initial-branch=main")
	f.Git(nil, "config", "user.name", "Fixture Author")
	f.Git(nil, "config", "user.email", "fixture@example.com")
	f.Git(nil, "config", "commit.gpgsign", "false")
	return f
}

// Commit writes files (path to content), commits everything with the given
// author and commit date, and returns the new commit SHA.
func (f *GitFixture) Commit(files map[string]string, message string, when time.Time) string {
	f.t.Helper()

	for name, content := range files {
		path := filepath.Join(f.Dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			f.t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			f.t.Fatalf("write %s: %v", name, err)
		}
	}

	date := fmt.Sprintf("@%d +0000", when.Unix())
	env := []string{"GIT_AUTHOR_DATE=" + date, "GIT_COMMITTER_DATE=" + date}

	f.Git(env, "add", "-A")
	f.Git(env, "commit", "--quiet", "-m", message)
	return f.Git(nil, "rev-parse", "HEAD")
}

// Git runs a git command in the fixture and returns its trimmed output.
func (f *GitFixture) Git(env []string, args ...string) string {
	f.t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = f.Dir
	cmd.Env = append(os.Environ(), env...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		f.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}
