package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"faultline/internal/model"
)

// EnvironmentRepository provides access to the environments table
type EnvironmentRepository struct {
	db *DB
}

// NewEnvironmentRepository creates a new environment repository
func NewEnvironmentRepository(db *DB) *EnvironmentRepository {
	return &EnvironmentRepository{db: db}
}

// FindOrCreate returns the environment of a project, creating it if needed.
func (r *EnvironmentRepository) FindOrCreate(ctx context.Context, projectID, name string) (*model.Environment, error) {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO environments (project_id, name) VALUES (?, ?)
		ON CONFLICT (project_id, name) DO NOTHING
	`, projectID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	env := &model.Environment{ProjectID: projectID, Name: name}
	err = r.db.conn.QueryRowContext(ctx, `
		SELECT id FROM environments WHERE project_id = ? AND name = ?
	`, projectID, name).Scan(&env.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return env, nil
}

// Get returns an environment by ID, or nil.
func (r *EnvironmentRepository) Get(ctx context.Context, id int64) (*model.Environment, error) {
	env := &model.Environment{ID: id}
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT project_id, name FROM environments WHERE id = ?
	`, id).Scan(&env.ProjectID, &env.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return env, nil
}

// DeployRepository provides access to the deploys table
type DeployRepository struct {
	db *DB
}

// NewDeployRepository creates a new deploy repository
func NewDeployRepository(db *DB) *DeployRepository {
	return &DeployRepository{db: db}
}

// Create records a deploy and marks the bugs of the environment fixed at or
// before the deploy as fix-deployed. Both writes share one transaction.
func (r *DeployRepository) Create(ctx context.Context, d *model.Deploy) error {
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now()
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO deploys (environment_id, revision, build, deployed_at) VALUES (?, ?, ?, ?)
		`, d.EnvironmentID, d.Revision, d.Build, toNanos(d.DeployedAt))
		if err != nil {
			return fmt.Errorf("failed to create deploy: %w", err)
		}
		if d.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		_, err = markFixesDeployed(ctx, tx, d.EnvironmentID, d.DeployedAt)
		return err
	})
}

// Get returns a deploy by ID, or nil.
func (r *DeployRepository) Get(ctx context.Context, id int64) (*model.Deploy, error) {
	return r.queryOne(ctx, `WHERE id = ?`, id)
}

// Latest returns the most recent deploy of an environment, or nil.
func (r *DeployRepository) Latest(ctx context.Context, environmentID int64) (*model.Deploy, error) {
	return r.queryOne(ctx, `WHERE environment_id = ? ORDER BY deployed_at DESC, id DESC LIMIT 1`, environmentID)
}

// LatestForRevision returns the most recent deploy of revision to an
// environment, or nil.
func (r *DeployRepository) LatestForRevision(ctx context.Context, environmentID int64, revision string) (*model.Deploy, error) {
	return r.queryOne(ctx, `WHERE environment_id = ? AND revision = ? ORDER BY deployed_at DESC, id DESC LIMIT 1`, environmentID, revision)
}

// LatestForBuild returns the most recent deploy of a distributed build, or nil.
func (r *DeployRepository) LatestForBuild(ctx context.Context, environmentID int64, build string) (*model.Deploy, error) {
	return r.queryOne(ctx, `WHERE environment_id = ? AND build = ? ORDER BY deployed_at DESC, id DESC LIMIT 1`, environmentID, build)
}

func (r *DeployRepository) queryOne(ctx context.Context, where string, args ...any) (*model.Deploy, error) {
	var d model.Deploy
	var deployedAt int64
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT id, environment_id, revision, build, deployed_at FROM deploys `+where,
		args...,
	).Scan(&d.ID, &d.EnvironmentID, &d.Revision, &d.Build, &deployedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deploy: %w", err)
	}
	d.DeployedAt = fromNanos(deployedAt)
	return &d, nil
}
