// Package blamer resolves occurrences to bugs and applies the reopen policy.
package blamer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faultline/internal/errors"
	"faultline/internal/model"
	"faultline/internal/msgfilter"
	"faultline/internal/repo"
	"faultline/internal/scoring"
	"faultline/internal/storage"
	"faultline/internal/telemetry"
)

// DefaultStaleFixDays is how long an undeployed fix is trusted before a new
// occurrence reopens the bug.
const DefaultStaleFixDays = 10

// repointAttempts bounds how often a lost repoint race restarts the search.
const repointAttempts = 3

// Reopen reasons
const (
	ReasonFixDeployed = "fix_deployed"
	ReasonStaleFix    = "stale_fix"
)

// ReopenHook is called after a bug was reopened by an occurrence.
type ReopenHook func(ctx context.Context, bug *model.Bug, occ *model.Occurrence, reason string)

// Options configures a Blamer.
type Options struct {
	StaleFixDays int
	OnReopen     ReopenHook
}

// Resolution is the bug an occurrence belongs to and how it was found.
type Resolution struct {
	Bug *model.Bug `json:"bug"`
	// Outcome is one of telemetry.OutcomeFound, OutcomeRepointed or OutcomeCreated.
	Outcome string `json:"outcome"`
	// Repointed is set when an open bug of another deploy was moved to the
	// occurrence's deploy. The move is already persisted.
	Repointed bool            `json:"repointed"`
	Location  *scoring.Result `json:"location"`
}

// Blamer matches occurrences to bugs.
type Blamer struct {
	registry *repo.Registry
	scorer   *scoring.Scorer
	filter   *msgfilter.Filter
	envs     *storage.EnvironmentRepository
	bugs     *storage.BugRepository
	deploys  *storage.DeployRepository
	logger   *slog.Logger

	staleFix time.Duration
	onReopen ReopenHook
	now      func() time.Time
}

// New creates a Blamer.
func New(
	registry *repo.Registry,
	scorer *scoring.Scorer,
	filter *msgfilter.Filter,
	db *storage.DB,
	opts Options,
	logger *slog.Logger,
) *Blamer {
	days := opts.StaleFixDays
	if days <= 0 {
		days = DefaultStaleFixDays
	}
	return &Blamer{
		registry: registry,
		scorer:   scorer,
		filter:   filter,
		envs:     storage.NewEnvironmentRepository(db),
		bugs:     storage.NewBugRepository(db),
		deploys:  storage.NewDeployRepository(db),
		logger:   logger,
		staleFix: time.Duration(days) * 24 * time.Hour,
		onReopen: opts.OnReopen,
		now:      time.Now,
	}
}

// Revision resolves the commit an occurrence is attributed to: its own
// revision when r knows it, else the revision of its deploy. Lock and git
// timeouts are returned as is so the caller can retry.
func (b *Blamer) Revision(ctx context.Context, r repo.Repository, occ *model.Occurrence) (*repo.Commit, error) {
	var names []string
	if occ.Revision != "" {
		names = append(names, occ.Revision)
	}
	if occ.Deploy != nil && occ.Deploy.Revision != "" && occ.Deploy.Revision != occ.Revision {
		names = append(names, occ.Deploy.Revision)
	}

	for _, name := range names {
		commit, err := r.Resolve(ctx, name)
		if err != nil {
			if errors.HasCode(err, errors.MirrorLockTimeout) || errors.HasCode(err, errors.Timeout) {
				return nil, err
			}
			b.logger.Warn("Failed to resolve revision", "occurrence", occ.ID, "revision", name, "error", err)
			continue
		}
		if commit != nil {
			return commit, nil
		}
		b.logger.Debug("Unknown revision", "occurrence", occ.ID, "revision", name)
	}

	msg := fmt.Sprintf("occurrence %s has no revision and no deployed revision", occ.ID)
	if len(names) > 0 {
		msg = fmt.Sprintf("occurrence %s: none of %s resolves to a commit", occ.ID, strings.Join(names, ", "))
	}
	return nil, errors.New(errors.UnresolvableRevision, msg, nil, errors.GetSuggestedFixes(errors.UnresolvableRevision))
}

// FindOrCreateBug returns the bug occ belongs to, creating it if needed.
// occ.EnvironmentID must be set. A non-nil occ.Deploy scopes the bug to that
// deploy. The occurrence itself is not persisted.
func (b *Blamer) FindOrCreateBug(ctx context.Context, occ *model.Occurrence) (*Resolution, error) {
	p, repository, err := b.registry.Project(occ.ProjectID)
	if err != nil {
		return nil, err
	}

	commit, err := b.Revision(ctx, repository, occ)
	if err != nil {
		return nil, err
	}
	revision := commit.SHA

	loc, err := b.scorer.Score(ctx, p, repository, occ.FaultedBacktrace(), revision)
	if err != nil {
		return nil, err
	}

	criteria := model.Criteria{
		EnvironmentID:  occ.EnvironmentID,
		ClassName:      occ.ClassName,
		File:           loc.File,
		Line:           loc.Line,
		BlamedRevision: loc.BlamedRevision(),
	}
	candidate := &model.Bug{
		EnvironmentID:    occ.EnvironmentID,
		ClassName:        occ.ClassName,
		File:             loc.File,
		Line:             loc.Line,
		BlamedRevision:   loc.BlamedRevision(),
		Revision:         revision,
		Client:           occ.Client,
		MessageTemplate:  b.filter.Template(p, occ.ClassName, occ.Message),
		SpecialFile:      loc.Special,
		FirstOccurrence:  occ.OccurredAt,
		LatestOccurrence: occ.OccurredAt,
	}

	var res *Resolution
	if occ.Deploy != nil {
		deployID := occ.Deploy.ID
		candidate.DeployID = &deployID
		res, err = b.findVersioned(ctx, criteria, candidate, deployID)
	} else {
		res, err = b.create(ctx, candidate)
	}
	if err != nil {
		return nil, err
	}

	if res.Bug.IsDuplicate() {
		target, err := b.bugs.ResolveDuplicate(ctx, res.Bug)
		if err != nil {
			return nil, err
		}
		b.logger.Debug("Followed duplicate", "bug", res.Bug.ID, "target", target.ID)
		res.Bug = target
	}

	res.Location = loc
	telemetry.BugResolutions.WithLabelValues(res.Outcome).Inc()
	b.logger.Debug("Resolved occurrence",
		"occurrence", occ.ID,
		"bug", res.Bug.ID,
		"outcome", res.Outcome,
		"file", loc.File,
		"line", loc.Line,
	)
	return res, nil
}

// findVersioned prefers a bug of the current deploy, then an open bug of any
// other deploy which is moved to the current one, then creates a new bug.
// Fixed bugs of other deploys are never reused.
func (b *Blamer) findVersioned(ctx context.Context, c model.Criteria, candidate *model.Bug, deployID int64) (*Resolution, error) {
	for attempt := 0; attempt < repointAttempts; attempt++ {
		bug, err := b.bugs.FindByCriteria(ctx, c, &deployID)
		if err != nil {
			return nil, err
		}
		if bug != nil {
			return &Resolution{Bug: bug, Outcome: telemetry.OutcomeFound}, nil
		}

		open, err := b.bugs.FindOpenAnyDeploy(ctx, c)
		if err != nil {
			return nil, err
		}
		if open == nil {
			break
		}

		moved, err := b.bugs.Repoint(ctx, open.ID, *open.DeployID, deployID)
		if err != nil {
			return nil, err
		}
		if !moved {
			b.logger.Debug("Lost repoint race, searching again", "bug", open.ID, "attempt", attempt+1)
			continue
		}

		open.DeployID = &deployID
		b.logger.Info("Repointed bug to newer deploy", "bug", open.ID, "deploy", deployID)
		return &Resolution{Bug: open, Outcome: telemetry.OutcomeRepointed, Repointed: true}, nil
	}

	return b.create(ctx, candidate)
}

func (b *Blamer) create(ctx context.Context, candidate *model.Bug) (*Resolution, error) {
	bug, created, err := b.bugs.FindOrCreate(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if created {
		b.logger.Info("Created bug", "bug", bug.ID, "class", bug.ClassName, "file", bug.File, "line", bug.Line)
		return &Resolution{Bug: bug, Outcome: telemetry.OutcomeCreated}, nil
	}
	return &Resolution{Bug: bug, Outcome: telemetry.OutcomeFound}, nil
}

// ReopenIfNecessary reopens a fixed bug that occurred again. Call it after the
// occurrence has been recorded against bug. Bugs scoped to a deploy are never
// reopened. On reopen bug is updated in place and the hook is called.
func (b *Blamer) ReopenIfNecessary(ctx context.Context, bug *model.Bug, occ *model.Occurrence) (bool, error) {
	if bug.DeployID != nil || !bug.Fixed {
		return false, nil
	}

	var reason string
	if bug.FixDeployed {
		var occurrenceDeploy *model.Deploy
		if occ.Revision != "" {
			d, err := b.deploys.LatestForRevision(ctx, bug.EnvironmentID, occ.Revision)
			if err != nil {
				return false, err
			}
			occurrenceDeploy = d
		}
		latest, err := b.deploys.Latest(ctx, bug.EnvironmentID)
		if err != nil {
			return false, err
		}
		if sameDeploy(occurrenceDeploy, latest) {
			reason = ReasonFixDeployed
		}
	} else if bug.FixedAt != nil && b.now().Sub(*bug.FixedAt) > b.staleFix {
		reason = ReasonStaleFix
	}
	if reason == "" {
		return false, nil
	}

	actor := "occurrence:" + occ.ID
	reopened, err := b.bugs.Reopen(ctx, bug.ID, actor)
	if err != nil {
		return false, err
	}
	if !reopened {
		return false, nil
	}

	bug.Fixed = false
	bug.FixedAt = nil
	bug.FixDeployed = false
	bug.ReopenedBy = actor

	telemetry.Reopens.WithLabelValues(reason).Inc()
	b.logger.Info("Reopened bug", "bug", bug.ID, "occurrence", occ.ID, "reason", reason)
	if b.onReopen != nil {
		b.onReopen(ctx, bug, occ, reason)
	}
	return true, nil
}

func sameDeploy(a, b *model.Deploy) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
