package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BlameKey addresses one cached blame.
type BlameKey struct {
	RepositoryID string
	Revision     string
	File         string
	Line         int
}

// BlameStats summarises the blame table.
type BlameStats struct {
	Entries      int            `json:"entries"`
	ByRepository map[string]int `json:"byRepository"`
	Oldest       *time.Time     `json:"oldest,omitempty"`
	Newest       *time.Time     `json:"newest,omitempty"`
}

// BlameRepository provides access to the blames table
type BlameRepository struct {
	db  *DB
	now func() time.Time
}

// NewBlameRepository creates a new blame repository
func NewBlameRepository(db *DB) *BlameRepository {
	return &BlameRepository{db: db, now: time.Now}
}

// Touch marks an entry as accessed and returns its blamed revision.
// found is false when the key is not cached.
func (r *BlameRepository) Touch(ctx context.Context, key BlameKey) (string, bool, error) {
	var blamed string
	err := r.db.conn.QueryRowContext(ctx, `
		UPDATE blames SET updated_at = ?
		WHERE repository_id = ? AND revision = ? AND file = ? AND line = ?
		RETURNING blamed_revision
	`, toNanos(r.now()), key.RepositoryID, key.Revision, key.File, key.Line).Scan(&blamed)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("blame lookup failed: %w", err)
	}
	return blamed, true, nil
}

// Insert stores a blamed revision. When the key is new and the table holds
// maxEntries or more rows, the least recently accessed rows are deleted first
// so that the table stays at or below maxEntries. Eviction and insert share
// one immediate transaction. It returns the number of evicted rows.
func (r *BlameRepository) Insert(ctx context.Context, key BlameKey, blamedRevision string, maxEntries int) (int, error) {
	evicted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM blames
			WHERE repository_id = ? AND revision = ? AND file = ? AND line = ?
		`, key.RepositoryID, key.Revision, key.File, key.Line).Scan(&exists)
		if err != nil {
			return err
		}

		if exists == 0 && maxEntries > 0 {
			n, err := evictTo(ctx, tx, maxEntries-1)
			if err != nil {
				return err
			}
			evicted = n
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO blames (repository_id, revision, file, line, blamed_revision, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (repository_id, revision, file, line)
			DO UPDATE SET blamed_revision = excluded.blamed_revision, updated_at = excluded.updated_at
		`, key.RepositoryID, key.Revision, key.File, key.Line, blamedRevision, toNanos(r.now()))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store blame: %w", err)
	}
	return evicted, nil
}

// Prune evicts least recently accessed entries until at most target remain.
func (r *BlameRepository) Prune(ctx context.Context, target int) (int, error) {
	if target < 0 {
		target = 0
	}
	evicted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := evictTo(ctx, tx, target)
		evicted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune blames: %w", err)
	}
	return evicted, nil
}

// Purge deletes every entry of one repository.
func (r *BlameRepository) Purge(ctx context.Context, repositoryID string) (int, error) {
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM blames WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge blames: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of cached entries.
func (r *BlameRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM blames`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count blames: %w", err)
	}
	return n, nil
}

// Stats returns entry counts per repository and the access time range.
func (r *BlameRepository) Stats(ctx context.Context) (*BlameStats, error) {
	stats := &BlameStats{ByRepository: make(map[string]int)}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT repository_id, COUNT(*) FROM blames GROUP BY repository_id ORDER BY repository_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blame stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var repoID string
		var n int
		if err := rows.Scan(&repoID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan blame stats: %w", err)
		}
		stats.ByRepository[repoID] = n
		stats.Entries += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blame stats: %w", err)
	}

	var oldest, newest sql.NullInt64
	err = r.db.conn.QueryRowContext(ctx, `SELECT MIN(updated_at), MAX(updated_at) FROM blames`).Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to query blame stats: %w", err)
	}
	stats.Oldest = timePtrFromNull(oldest)
	stats.Newest = timePtrFromNull(newest)

	return stats, nil
}

// evictTo deletes the oldest-accessed rows until at most target remain.
func evictTo(ctx context.Context, tx *sql.Tx, target int) (int, error) {
	var size int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM blames`).Scan(&size); err != nil {
		return 0, err
	}
	if size <= target {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM blames WHERE rowid IN (
			SELECT rowid FROM blames ORDER BY updated_at ASC LIMIT ?
		)
	`, size-target)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
