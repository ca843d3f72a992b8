package repo_test

import (
	"context"
	"testing"
	"time"

	"faultline/internal/errors"
	"faultline/internal/lock"
	"faultline/internal/paths"
	"faultline/internal/repo"
	"faultline/internal/slogutil"
	"faultline/internal/testutil"
)

func newTestRepository(t *testing.T, url string) *repo.GitRepository {
	t.Helper()
	opts := repo.Options{
		DataDir:     t.TempDir(),
		LockTimeout: 200 * time.Millisecond,
	}
	return repo.NewGitRepository(url, opts, slogutil.NewDiscardLogger())
}

func TestGitRepository_ResolveAndBlame(t *testing.T) {
	fixture := testutil.NewGitFixture(t)

	t1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(48 * time.Hour)

	first := fixture.Commit(map[string]string{
		"app/models/user.rb": "class User\n  def name\n    @name\n  end\nend\n",
	}, "add user", t1)
	second := fixture.Commit(map[string]string{
		"app/models/user.rb": "class User\n  def name\n    @name.upcase\n  end\nend\n",
	}, "upcase name", t2)

	r := newTestRepository(t, fixture.Dir)
	ctx := context.Background()

	commit, err := r.Resolve(ctx, second)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if commit == nil || commit.SHA != second {
		t.Fatalf("Resolve() = %+v, want %s", commit, second)
	}
	if !commit.CommitterDate.Equal(t2) {
		t.Errorf("CommitterDate = %v, want %v", commit.CommitterDate, t2)
	}

	short, err := r.Resolve(ctx, second[:10])
	if err != nil || short == nil || short.SHA != second {
		t.Errorf("Resolve(short) = %+v, %v", short, err)
	}

	changed, err := r.Blame(ctx, second, "app/models/user.rb", 3)
	if err != nil {
		t.Fatalf("Blame() error = %v", err)
	}
	if changed == nil || changed.SHA != second {
		t.Errorf("Blame(line 3) = %+v, want %s", changed, second)
	}
	if changed != nil && changed.AuthorEmail != "fixture@example.com" {
		t.Errorf("AuthorEmail = %q", changed.AuthorEmail)
	}

	unchanged, err := r.Blame(ctx, second, "app/models/user.rb", 1)
	if err != nil {
		t.Fatalf("Blame() error = %v", err)
	}
	if unchanged == nil || unchanged.SHA != first {
		t.Errorf("Blame(line 1) = %+v, want %s", unchanged, first)
	}
	if unchanged != nil && !unchanged.CommitterDate.Equal(t1) {
		t.Errorf("CommitterDate = %v, want %v", unchanged.CommitterDate, t1)
	}
}

func TestGitRepository_NotFound(t *testing.T) {
	fixture := testutil.NewGitFixture(t)
	head := fixture.Commit(map[string]string{"lib/a.rb": "one\ntwo\n"}, "init", time.Now())

	r := newTestRepository(t, fixture.Dir)
	ctx := context.Background()

	tests := []struct {
		name     string
		revision string
		file     string
		line     int
	}{
		{"missing file", head, "lib/missing.rb", 1},
		{"line past end", head, "lib/a.rb", 40},
		{"unknown revision", "0123456789abcdef0123456789abcdef01234567", "lib/a.rb", 1},
		{"option-like revision", "--help", "lib/a.rb", 1},
		{"zero line", head, "lib/a.rb", 0},
		{"outside repository", head, "/usr/lib/ruby/net/http.rb", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.Blame(ctx, tt.revision, tt.file, tt.line)
			if err != nil {
				t.Fatalf("Blame() error = %v", err)
			}
			if c != nil {
				t.Errorf("Blame() = %+v, want nil", c)
			}
		})
	}

	c, err := r.Resolve(ctx, "0123456789abcdef0123456789abcdef01234567")
	if err != nil || c != nil {
		t.Errorf("Resolve(unknown) = %+v, %v", c, err)
	}
}

func TestGitRepository_FetchPicksUpNewCommits(t *testing.T) {
	fixture := testutil.NewGitFixture(t)
	fixture.Commit(map[string]string{"a.txt": "a\n"}, "one", time.Now())

	r := newTestRepository(t, fixture.Dir)
	ctx := context.Background()

	if err := r.Fetch(ctx); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	later := fixture.Commit(map[string]string{"a.txt": "b\n"}, "two", time.Now())

	// The mirror does not know the commit yet; Resolve fetches once and retries
	c, err := r.Resolve(ctx, later)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if c == nil || c.SHA != later {
		t.Errorf("Resolve() = %+v, want %s", c, later)
	}
}

func TestGitRepository_FetchLockTimeout(t *testing.T) {
	fixture := testutil.NewGitFixture(t)
	head := fixture.Commit(map[string]string{"a.txt": "a\n"}, "one", time.Now())

	dataDir := t.TempDir()
	r := repo.NewGitRepository(fixture.Dir, repo.Options{DataDir: dataDir, LockTimeout: 200 * time.Millisecond}, slogutil.NewDiscardLogger())
	ctx := context.Background()

	held, err := lock.Acquire(ctx, paths.LocksDir(dataDir), r.Identity(), time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release()

	_, err = r.Blame(ctx, head, "a.txt", 1)
	if !errors.HasCode(err, errors.MirrorLockTimeout) {
		t.Errorf("Blame() error = %v, want MIRROR_LOCK_TIMEOUT", err)
	}
}

func TestGitRepository_Identity(t *testing.T) {
	a := repo.NewGitRepository("git@github.com:acme/web.git", repo.Options{DataDir: t.TempDir()}, slogutil.NewDiscardLogger())
	b := repo.NewGitRepository(" git@github.com:acme/web.git ", repo.Options{DataDir: t.TempDir()}, slogutil.NewDiscardLogger())

	if a.Identity() != b.Identity() {
		t.Errorf("identity should ignore surrounding whitespace: %s vs %s", a.Identity(), b.Identity())
	}
	if len(a.Identity()) != 40 {
		t.Errorf("identity should be a SHA-1 hex digest, got %q", a.Identity())
	}
}
