package scoring

import (
	"context"
	"testing"
	"time"

	"faultline/internal/blamecache"
	"faultline/internal/errors"
	"faultline/internal/model"
	"faultline/internal/project"
	"faultline/internal/repo"
	"faultline/internal/slogutil"
	"faultline/internal/storage"
	"faultline/internal/testutil"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

const revision = "cafebabe"

func setupScorer(t *testing.T) (*Scorer, *testutil.FakeRepository) {
	t.Helper()

	db, err := storage.Open(t.TempDir(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cache := blamecache.New(storage.NewBlameRepository(db), 1000, slogutil.NewDiscardLogger())
	fake := testutil.NewFakeRepository("web")
	return New(cache, slogutil.NewDiscardLogger()), fake
}

func testProject() *project.Project {
	return &project.Project{
		ID:             "web",
		RepositoryURL:  "git@example.com:acme/web.git",
		FilterPaths:    []string{"vendor"},
		WhitelistPaths: []string{"vendor/acme"},
	}
}

func commitAt(sha string, d time.Duration) *repo.Commit {
	return &repo.Commit{SHA: sha, CommitterDate: base.Add(d)}
}

func faulted(frames ...model.Frame) *model.Backtrace {
	return &model.Backtrace{Name: "main", Faulted: true, Frames: frames}
}

func TestScore_LibraryFallback(t *testing.T) {
	s, fake := setupScorer(t)

	bt := faulted(
		model.NormalFrame("/usr/lib/ruby/2.7.0/net/http.rb", 933, "connect"),
		model.NormalFrame("/usr/lib/ruby/2.7.0/timeout.rb", 95, "timeout"),
	)
	got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if got.File != "/usr/lib/ruby/2.7.0/net/http.rb" || got.Line != 933 || got.Special || got.BlamedCommit != nil {
		t.Errorf("Score() = %+v, want outermost library frame", got)
	}
	if fake.BlameCalls() != 0 {
		t.Errorf("library frames should not be blamed, got %d calls", fake.BlameCalls())
	}
}

func TestScore_SpecialFrames(t *testing.T) {
	tests := []struct {
		name   string
		frames []model.Frame
		file   string
		line   int
	}{
		{
			name:   "address frames",
			frames: []model.Frame{model.AddressFrame(27), model.AddressFrame(11), model.AddressFrame(5)},
			file:   "0x0000001B",
			line:   1,
		},
		{
			name:   "negative obfuscated line",
			frames: []model.Frame{model.ObfuscatedFrame("A.java", -15, "a", "com.acme.A")},
			file:   "A.java",
			line:   15,
		},
		{
			name:   "minified",
			frames: []model.Frame{model.MinifiedFrame("https://cdn.example.com/app.js", 1, 4031, "r")},
			file:   "https://cdn.example.com/app.js",
			line:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := setupScorer(t)
			got, err := s.Score(context.Background(), testProject(), fake, faulted(tt.frames...), revision)
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if got.File != tt.file || got.Line != tt.line || !got.Special || got.BlamedCommit != nil {
				t.Errorf("Score() = %+v, want %s:%d special", got, tt.file, tt.line)
			}
		})
	}
}

func TestScore_EmptyBacktrace(t *testing.T) {
	s, fake := setupScorer(t)

	got, err := s.Score(context.Background(), testProject(), fake, faulted(), revision)
	if err != nil {
		t.Fatal(err)
	}
	if got.File != "(unknown)" || got.Line != 1 || !got.Special {
		t.Errorf("Score() = %+v", got)
	}
}

func TestScore_NoBlameFallsBackToFirstCandidate(t *testing.T) {
	s, fake := setupScorer(t)

	bt := faulted(
		model.NormalFrame("/gems/rack/lib/rack.rb", 3, "call"),
		model.NormalFrame("vendor/rails/base.rb", 7, "dispatch"),
		model.NormalFrame("app/controllers/users_controller.rb", 10, "show"),
		model.NormalFrame("app/models/user.rb", 22, "name"),
	)
	got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if err != nil {
		t.Fatal(err)
	}
	if got.File != "app/controllers/users_controller.rb" || got.Line != 10 || got.BlamedCommit != nil {
		t.Errorf("Score() = %+v, want first project frame", got)
	}
	if fake.BlameCalls() != 2 {
		t.Errorf("blame calls = %d, want 2", fake.BlameCalls())
	}
}

func TestScore_CandidateFiltering(t *testing.T) {
	s, fake := setupScorer(t)
	old := commitAt("old", 0)
	fake.SetBlame("vendor/rails/base.rb", 7, old)
	fake.SetBlame("vendor/acme/patch.rb", 4, old)
	fake.SetBlame("app/models/user.rb", 9, old)

	noLine := model.Frame{Kind: model.FrameNormal, File: "app/models/user.rb", Symbol: "name"}
	bt := faulted(
		noLine,
		model.NormalFrame("vendor/rails/base.rb", 7, "dispatch"),
		model.ObfuscatedFrame("app/models/user.rb", 9, "a", "A"),
		model.NormalFrame("vendor/acme/patch.rb", 4, "patched"),
	)
	got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if err != nil {
		t.Fatal(err)
	}
	if got.File != "vendor/acme/patch.rb" || got.Line != 4 || got.BlamedCommit == nil {
		t.Errorf("Score() = %+v, want whitelisted frame", got)
	}
	if fake.BlameCalls() != 1 {
		t.Errorf("blame calls = %d, want only the whitelisted frame blamed", fake.BlameCalls())
	}
}

func TestScore_HeightWinsWithoutRecency(t *testing.T) {
	s, fake := setupScorer(t)
	fake.AddCommit(commitAt("head", 1000*time.Hour), revision)
	same := commitAt("same", 0)
	fake.SetBlame("app/a.rb", 1, same)
	fake.SetBlame("app/b.rb", 2, same)

	bt := faulted(
		model.NormalFrame("app/a.rb", 1, "a"),
		model.NormalFrame("app/b.rb", 2, "b"),
	)
	got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if err != nil {
		t.Fatal(err)
	}
	if got.File != "app/a.rb" {
		t.Errorf("Score() = %+v, want app/a.rb", got)
	}
	if got.Score != 0.5 {
		t.Errorf("score = %v, want 0.5", got.Score)
	}
}

func TestScore_RecentLinePreferred(t *testing.T) {
	s, fake := setupScorer(t)
	fake.AddCommit(commitAt("head", 400*time.Hour), revision)
	fake.SetBlame("app/a.rb", 1, commitAt("old", 0))
	fake.SetBlame("app/b.rb", 2, commitAt("new", 400*time.Hour))

	bt := faulted(
		model.NormalFrame("app/a.rb", 1, "a"),
		model.NormalFrame("app/b.rb", 2, "b"),
	)
	got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if err != nil {
		t.Fatal(err)
	}
	if got.File != "app/b.rb" || got.BlamedCommit == nil || got.BlamedCommit.SHA != "new" {
		t.Errorf("Score() = %+v, want recently changed app/b.rb", got)
	}
	if got.Score != 0.625 {
		t.Errorf("score = %v, want 0.625", got.Score)
	}
}

func TestScore_UnresolvableRevisionDisablesRecency(t *testing.T) {
	s, fake := setupScorer(t)
	fake.SetBlame("app/a.rb", 1, commitAt("old", 0))
	fake.SetBlame("app/b.rb", 2, commitAt("new", 400*time.Hour))

	bt := faulted(
		model.NormalFrame("app/a.rb", 1, "a"),
		model.NormalFrame("app/b.rb", 2, "b"),
	)
	got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if err != nil {
		t.Fatal(err)
	}
	if got.File != "app/a.rb" {
		t.Errorf("Score() = %+v, want app/a.rb by height alone", got)
	}
}

func TestScore_TieKeepsEarlierFrame(t *testing.T) {
	// n=4: index 0 with recency 0.25 and index 2 with recency 1 both score 0.625.
	s, fake := setupScorer(t)
	fake.AddCommit(commitAt("head", 400*time.Hour), revision)
	fake.SetBlame("app/a.rb", 1, commitAt("a", 100*time.Hour))
	fake.SetBlame("app/c.rb", 3, commitAt("c", 400*time.Hour))
	fake.SetBlame("app/d.rb", 4, commitAt("d", 0))

	bt := faulted(
		model.NormalFrame("app/a.rb", 1, "a"),
		model.NormalFrame("/usr/lib/x.rb", 2, "x"),
		model.NormalFrame("app/c.rb", 3, "c"),
		model.NormalFrame("app/d.rb", 4, "d"),
	)

	for i := 0; i < 5; i++ {
		got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
		if err != nil {
			t.Fatal(err)
		}
		if got.File != "app/a.rb" || got.Score != 0.625 {
			t.Fatalf("run %d: Score() = %+v, want app/a.rb with 0.625", i, got)
		}
	}
}

func TestScore_BlameFailureDegrades(t *testing.T) {
	s, fake := setupScorer(t)
	fake.BlameErr = errors.New(errors.BlameUnavailable, "git blame failed", nil, nil)

	bt := faulted(model.NormalFrame("app/a.rb", 1, "a"))
	got, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if err != nil {
		t.Fatalf("Score() error = %v, want degraded result", err)
	}
	if got.File != "app/a.rb" || got.BlamedCommit != nil {
		t.Errorf("Score() = %+v", got)
	}
}

func TestScore_LockTimeoutSurfaces(t *testing.T) {
	s, fake := setupScorer(t)
	fake.BlameErr = errors.New(errors.MirrorLockTimeout, "mirror locked", nil, nil)

	bt := faulted(model.NormalFrame("app/a.rb", 1, "a"))
	_, err := s.Score(context.Background(), testProject(), fake, bt, revision)
	if !errors.HasCode(err, errors.MirrorLockTimeout) {
		t.Errorf("Score() error = %v, want MIRROR_LOCK_TIMEOUT", err)
	}
}

func TestResult_BlamedRevision(t *testing.T) {
	if (&Result{}).BlamedRevision() != nil {
		t.Error("expected nil revision without a commit")
	}
	r := &Result{BlamedCommit: &repo.Commit{SHA: "abc"}}
	if got := r.BlamedRevision(); got == nil || *got != "abc" {
		t.Errorf("BlamedRevision() = %v", got)
	}
}
