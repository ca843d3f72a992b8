// Package scoring picks the backtrace frame most likely at fault for an
// occurrence, weighing frame position against how recently each line changed.
package scoring

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"faultline/internal/backtrace"
	"faultline/internal/errors"
	"faultline/internal/model"
	"faultline/internal/paths"
	"faultline/internal/project"
	"faultline/internal/repo"
)

// LineBlamer returns the commit that last touched a line, or nil when no
// blame is available. blamecache.Cache implements it.
type LineBlamer interface {
	Blame(ctx context.Context, r repo.Repository, revision, file string, line int) (*repo.Commit, error)
}

// Result is the relevant location of an occurrence.
type Result struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Special bool   `json:"special"`
	// BlamedCommit is nil when no frame could be blamed.
	BlamedCommit *repo.Commit `json:"blamedCommit,omitempty"`
	// Score of the winning frame; zero for fallbacks.
	Score float64 `json:"score,omitempty"`
}

// BlamedRevision returns the SHA of the blamed commit, or nil.
func (r *Result) BlamedRevision() *string {
	if r.BlamedCommit == nil {
		return nil
	}
	sha := r.BlamedCommit.SHA
	return &sha
}

// Scorer selects the relevant frame of a faulted backtrace.
type Scorer struct {
	blames LineBlamer
	logger *slog.Logger
}

// New creates a scorer that consults blames for line history.
func New(blames LineBlamer, logger *slog.Logger) *Scorer {
	return &Scorer{blames: blames, logger: logger}
}

type candidate struct {
	frame  model.Frame
	index  int
	commit *repo.Commit
	score  float64
}

// Score returns the relevant location of bt as of revision.
//
// Only symbolicated frames with a line that p classifies as project code are
// candidates. Without candidates the outermost frame is used; when no
// candidate can be blamed the first candidate is used. Otherwise each blamed
// frame at index i of the n frames scores
//
//	0.5*((n-i)/n)^2 + 0.5*recency
//
// where recency places the frame's commit date between the earliest blamed
// date (0) and the commit date of revision (1). Equal scores keep the
// earlier frame.
func (s *Scorer) Score(ctx context.Context, p *project.Project, r repo.Repository, bt *model.Backtrace, revision string) (*Result, error) {
	if bt == nil || len(bt.Frames) == 0 {
		return fromLocation(backtrace.Display(model.Frame{Kind: model.FrameUnknown}), nil), nil
	}

	var candidates []candidate
	for i, f := range bt.Frames {
		if f.Kind != model.FrameNormal || f.Line == nil {
			continue
		}
		if p.Classify(f.File) != project.PathProject {
			continue
		}
		candidates = append(candidates, candidate{frame: f, index: i})
	}

	if len(candidates) == 0 {
		return fromLocation(backtrace.Display(bt.Frames[0]), nil), nil
	}

	var blamed []candidate
	for _, c := range candidates {
		commit, err := s.blames.Blame(ctx, r, revision, paths.NormalizePath(c.frame.File), *c.frame.Line)
		if err != nil {
			return nil, err
		}
		if commit == nil {
			continue
		}
		c.commit = commit
		blamed = append(blamed, c)
	}

	if len(blamed) == 0 {
		return fromLocation(backtrace.Display(candidates[0].frame), nil), nil
	}

	earliest := blamed[0].commit.CommitterDate
	for _, c := range blamed[1:] {
		if c.commit.CommitterDate.Before(earliest) {
			earliest = c.commit.CommitterDate
		}
	}

	latest, err := s.revisionDate(ctx, r, revision)
	if err != nil {
		return nil, err
	}

	n := float64(len(bt.Frames))
	for i := range blamed {
		height := (n - float64(blamed[i].index)) / n
		blamed[i].score = 0.5*height*height + 0.5*recency(blamed[i].commit.CommitterDate, earliest, latest)
	}

	sort.SliceStable(blamed, func(i, j int) bool {
		return blamed[i].score > blamed[j].score
	})

	best := blamed[0]
	s.logger.Debug("Scored backtrace",
		"candidates", len(candidates),
		"blamed", len(blamed),
		"file", best.frame.File,
		"line", *best.frame.Line,
		"score", best.score,
	)

	res := fromLocation(backtrace.Display(best.frame), best.commit)
	res.Score = best.score
	return res, nil
}

// revisionDate returns the commit date of revision, or the zero time when it
// cannot be resolved.
func (s *Scorer) revisionDate(ctx context.Context, r repo.Repository, revision string) (time.Time, error) {
	commit, err := r.Resolve(ctx, revision)
	if err != nil {
		if errors.HasCode(err, errors.MirrorLockTimeout) {
			return time.Time{}, err
		}
		s.logger.Warn("Failed to resolve occurrence revision", "revision", revision, "error", err)
		return time.Time{}, nil
	}
	if commit == nil {
		return time.Time{}, nil
	}
	return commit.CommitterDate, nil
}

func recency(date, earliest, latest time.Time) float64 {
	if latest.IsZero() || earliest.IsZero() || latest.Equal(earliest) {
		return 0
	}
	span := latest.Sub(earliest).Seconds()
	return 1 - latest.Sub(date).Seconds()/span
}

func fromLocation(loc backtrace.Location, commit *repo.Commit) *Result {
	return &Result{File: loc.File, Line: loc.Line, Special: loc.Special, BlamedCommit: commit}
}
