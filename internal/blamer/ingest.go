package blamer

import (
	"context"
	"fmt"

	"faultline/internal/errors"
	"faultline/internal/model"
)

// Assignment is the outcome of ingesting one occurrence.
type Assignment struct {
	*Resolution
	Reopened bool `json:"reopened"`
}

// Ingest runs the full pipeline for a decoded occurrence: it resolves the
// environment and, for distributed builds, the deploy; finds or creates the
// bug; records the occurrence against it; then applies the reopen policy.
func (b *Blamer) Ingest(ctx context.Context, occ *model.Occurrence) (*Assignment, error) {
	if occ.ID == "" || occ.ProjectID == "" || occ.Environment == "" {
		return nil, errors.New(errors.InvalidInput, "occurrence requires id, project and environment", nil, nil)
	}

	if _, _, err := b.registry.Project(occ.ProjectID); err != nil {
		return nil, err
	}

	env, err := b.envs.FindOrCreate(ctx, occ.ProjectID, occ.Environment)
	if err != nil {
		return nil, err
	}
	occ.EnvironmentID = env.ID

	if occ.Build != "" && occ.Deploy == nil {
		d, err := b.deploys.LatestForBuild(ctx, env.ID, occ.Build)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, errors.New(errors.NotFound,
				fmt.Sprintf("no deploy recorded for build %q in %s/%s", occ.Build, occ.ProjectID, occ.Environment), nil, nil)
		}
		occ.Deploy = d
	}

	res, err := b.FindOrCreateBug(ctx, occ)
	if err != nil {
		return nil, err
	}

	if err := b.bugs.RecordOccurrence(ctx, res.Bug.ID, occ); err != nil {
		return nil, err
	}

	reopened, err := b.ReopenIfNecessary(ctx, res.Bug, occ)
	if err != nil {
		return nil, err
	}
	return &Assignment{Resolution: res, Reopened: reopened}, nil
}
