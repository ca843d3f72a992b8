package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"faultline/internal/errors"
	"faultline/internal/model"
)

// Bug event kinds
const (
	EventCreated   = "created"
	EventFixed     = "fixed"
	EventReopened  = "reopened"
	EventDuplicate = "duplicate"
	EventRepointed = "repointed"
)

// BugEvent is one entry of a bug's lifecycle log.
type BugEvent struct {
	ID        string          `json:"id"`
	BugID     int64           `json:"bugId"`
	Kind      string          `json:"kind"`
	Actor     string          `json:"actor,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

const bugColumns = `
	id, environment_id, class_name, file, line, blamed_revision, deploy_id,
	revision, client, message_template, special_file,
	fixed, fixed_at, fix_deployed, duplicate_of,
	first_occurrence, latest_occurrence, occurrence_count, reopened_by`

// criteriaWhere matches the expressions of idx_bugs_identity.
const criteriaWhere = `
	environment_id = ? AND class_name = ? AND file = ? AND line = ?
	AND COALESCE(blamed_revision, '') = COALESCE(?, '')`

// BugRepository provides access to the bugs table
type BugRepository struct {
	db  *DB
	now func() time.Time
}

// NewBugRepository creates a new bug repository
func NewBugRepository(db *DB) *BugRepository {
	return &BugRepository{db: db, now: time.Now}
}

// Get returns a bug by ID, or nil.
func (r *BugRepository) Get(ctx context.Context, id int64) (*model.Bug, error) {
	return r.queryOne(ctx, r.db.conn, `WHERE id = ?`, id)
}

// FindByCriteria returns the bug matching criteria under deployID exactly.
// A nil deployID matches only bugs without a deploy.
func (r *BugRepository) FindByCriteria(ctx context.Context, c model.Criteria, deployID *int64) (*model.Bug, error) {
	return r.queryOne(ctx, r.db.conn,
		`WHERE `+criteriaWhere+` AND COALESCE(deploy_id, 0) = COALESCE(?, 0)`,
		c.EnvironmentID, c.ClassName, c.File, c.Line, nullString(c.BlamedRevision), nullInt64(deployID),
	)
}

// FindOpenAnyDeploy returns the oldest open bug matching criteria under any
// deploy of the environment, or nil.
func (r *BugRepository) FindOpenAnyDeploy(ctx context.Context, c model.Criteria) (*model.Bug, error) {
	return r.queryOne(ctx, r.db.conn,
		`WHERE `+criteriaWhere+` AND deploy_id IS NOT NULL AND fixed = 0 ORDER BY id ASC LIMIT 1`,
		c.EnvironmentID, c.ClassName, c.File, c.Line, nullString(c.BlamedRevision),
	)
}

// FindOrCreate inserts b unless a bug with the same identity exists, and
// returns the stored bug. created reports whether b was inserted. Concurrent
// callers with the same identity converge on one row.
func (r *BugRepository) FindOrCreate(ctx context.Context, b *model.Bug) (*model.Bug, bool, error) {
	now := r.now()
	if b.FirstOccurrence.IsZero() {
		b.FirstOccurrence = now
	}
	if b.LatestOccurrence.IsZero() {
		b.LatestOccurrence = b.FirstOccurrence
	}

	var created *model.Bug
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bugs (
				environment_id, class_name, file, line, blamed_revision, deploy_id,
				revision, client, message_template, special_file,
				first_occurrence, latest_occurrence
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			b.EnvironmentID, b.ClassName, b.File, b.Line, nullString(b.BlamedRevision), nullInt64(b.DeployID),
			b.Revision, b.Client, b.MessageTemplate, b.SpecialFile,
			toNanos(b.FirstOccurrence), toNanos(b.LatestOccurrence),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, id, EventCreated, "", nil, now); err != nil {
			return err
		}
		created, err = r.queryOne(ctx, tx, `WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create bug: %w", err)
	}
	if created != nil {
		return created, true, nil
	}

	existing, err := r.FindByCriteria(ctx, criteriaOf(b), b.DeployID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New(errors.BugCreationConflict,
			"bug insert conflicted but no matching bug was found", nil, nil)
	}
	return existing, false, nil
}

// Repoint moves an open bug from one deploy to another. It returns false
// without error when the bug is no longer open under fromDeploy or when a bug
// with the same identity already exists under toDeploy.
func (r *BugRepository) Repoint(ctx context.Context, bugID, fromDeploy, toDeploy int64) (bool, error) {
	moved := false
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bugs SET deploy_id = ? WHERE id = ? AND deploy_id = ? AND fixed = 0
		`, toDeploy, bugID, fromDeploy)
		if err != nil {
			if isUniqueViolation(err) {
				return nil
			}
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		moved = true

		data := map[string]int64{"from": fromDeploy, "to": toDeploy}
		return insertEvent(ctx, tx, bugID, EventRepointed, "", data, r.now())
	})
	if err != nil {
		return false, fmt.Errorf("failed to repoint bug: %w", err)
	}
	return moved, nil
}

// RecordOccurrence links an occurrence to a bug and updates the bug's
// occurrence counters. Recording the same occurrence ID twice is a no-op.
func (r *BugRepository) RecordOccurrence(ctx context.Context, bugID int64, occ *model.Occurrence) error {
	payload, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("failed to encode occurrence: %w", err)
	}

	occurredAt := occ.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.now()
	}
	at := toNanos(occurredAt)

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO occurrences (id, bug_id, revision, message, occurred_at, payload_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, occ.ID, bugID, occ.Revision, occ.Message, at, string(payload))
		if err != nil {
			return fmt.Errorf("failed to record occurrence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE bugs SET
				occurrence_count = occurrence_count + 1,
				first_occurrence = MIN(first_occurrence, ?),
				latest_occurrence = MAX(latest_occurrence, ?)
			WHERE id = ?
		`, at, at, bugID)
		if err != nil {
			return fmt.Errorf("failed to update bug counters: %w", err)
		}
		return nil
	})
}

// MarkFixed marks a bug fixed now. The fix is not yet deployed.
func (r *BugRepository) MarkFixed(ctx context.Context, bugID int64, actor string) error {
	now := r.now()
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bugs SET fixed = 1, fixed_at = ?, fix_deployed = 0 WHERE id = ?
		`, toNanos(now), bugID)
		if err != nil {
			return fmt.Errorf("failed to mark bug fixed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound(bugID)
		}
		return insertEvent(ctx, tx, bugID, EventFixed, actor, nil, now)
	})
}

// markFixesDeployed flags the fixes of an environment made at or before
// deployedAt as shipped. It returns how many bugs changed.
func markFixesDeployed(ctx context.Context, tx *sql.Tx, environmentID int64, deployedAt time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE bugs SET fix_deployed = 1
		WHERE environment_id = ? AND fixed = 1 AND fix_deployed = 0 AND fixed_at <= ?
	`, environmentID, toNanos(deployedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to mark fixes deployed: %w", err)
	}
	return res.RowsAffected()
}

// Reopen clears the fixed state of a bug and records who caused it. It
// returns false when the bug was not fixed.
func (r *BugRepository) Reopen(ctx context.Context, bugID int64, actor string) (bool, error) {
	reopened := false
	now := r.now()
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bugs SET fixed = 0, fixed_at = NULL, fix_deployed = 0, reopened_by = ?
			WHERE id = ? AND fixed = 1
		`, actor, bugID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		reopened = true
		return insertEvent(ctx, tx, bugID, EventReopened, actor, nil, now)
	})
	if err != nil {
		return false, fmt.Errorf("failed to reopen bug: %w", err)
	}
	return reopened, nil
}

// MarkDuplicate marks bugID as a duplicate of targetID. A bug cannot be its
// own duplicate, a duplicate is never re-marked, a bug that others point to
// cannot become a duplicate, the target must not itself be a duplicate, and
// both bugs must share an environment.
func (r *BugRepository) MarkDuplicate(ctx context.Context, bugID, targetID int64, actor string) error {
	if bugID == targetID {
		return errors.New(errors.DuplicateInvalid, "a bug cannot be a duplicate of itself", nil, nil)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		bug, err := r.queryOne(ctx, tx, `WHERE id = ?`, bugID)
		if err != nil {
			return err
		}
		if bug == nil {
			return notFound(bugID)
		}
		target, err := r.queryOne(ctx, tx, `WHERE id = ?`, targetID)
		if err != nil {
			return err
		}
		if target == nil {
			return notFound(targetID)
		}

		switch {
		case bug.IsDuplicate():
			return errors.New(errors.DuplicateInvalid,
				fmt.Sprintf("bug %d is already a duplicate of bug %d", bugID, *bug.DuplicateOf), nil, nil)
		case target.IsDuplicate():
			return errors.New(errors.DuplicateInvalid,
				fmt.Sprintf("bug %d is itself a duplicate", targetID), nil, nil)
		case bug.EnvironmentID != target.EnvironmentID:
			return errors.New(errors.DuplicateInvalid, "bugs belong to different environments", nil, nil)
		}

		var referrers int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bugs WHERE duplicate_of = ?`, bugID).Scan(&referrers)
		if err != nil {
			return err
		}
		if referrers > 0 {
			return errors.New(errors.DuplicateInvalid,
				fmt.Sprintf("bug %d has duplicates and cannot become one", bugID), nil, nil)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE bugs SET duplicate_of = ? WHERE id = ?`, targetID, bugID); err != nil {
			return fmt.Errorf("failed to mark duplicate: %w", err)
		}
		return insertEvent(ctx, tx, bugID, EventDuplicate, actor, map[string]int64{"target": targetID}, r.now())
	})
}

// ResolveDuplicate follows duplicate_of references from b to the first bug
// that is not a duplicate. Cycles are reported as errors.
func (r *BugRepository) ResolveDuplicate(ctx context.Context, b *model.Bug) (*model.Bug, error) {
	seen := map[int64]bool{b.ID: true}
	for b.DuplicateOf != nil {
		next, err := r.Get(ctx, *b.DuplicateOf)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, notFound(*b.DuplicateOf)
		}
		if seen[next.ID] {
			return nil, errors.New(errors.InternalError,
				fmt.Sprintf("duplicate cycle through bug %d", next.ID), nil, nil)
		}
		seen[next.ID] = true
		b = next
	}
	return b, nil
}

// ListByEnvironment returns the bugs of an environment, newest activity first.
func (r *BugRepository) ListByEnvironment(ctx context.Context, environmentID int64, openOnly bool, limit int) ([]*model.Bug, error) {
	where := `WHERE environment_id = ?`
	if openOnly {
		where += ` AND fixed = 0 AND duplicate_of IS NULL`
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+bugColumns+` FROM bugs `+where+` ORDER BY latest_occurrence DESC, id DESC LIMIT ?`,
		environmentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bugs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bugs []*model.Bug
	for rows.Next() {
		b, err := scanBug(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bug: %w", err)
		}
		bugs = append(bugs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bugs: %w", err)
	}
	return bugs, nil
}

// Events returns the lifecycle log of a bug, oldest first.
func (r *BugRepository) Events(ctx context.Context, bugID int64) ([]*BugEvent, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, bug_id, kind, actor, data_json, created_at
		FROM bug_events WHERE bug_id = ? ORDER BY created_at ASC, rowid ASC
	`, bugID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bug events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*BugEvent
	for rows.Next() {
		var e BugEvent
		var data string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.BugID, &e.Kind, &e.Actor, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan bug event: %w", err)
		}
		e.Data = json.RawMessage(data)
		e.CreatedAt = fromNanos(createdAt)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bug events: %w", err)
	}
	return events, nil
}

func (r *BugRepository) queryOne(ctx context.Context, q querier, where string, args ...any) (*model.Bug, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs `+where, args...)
	b, err := scanBug(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bug: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBug(row rowScanner) (*model.Bug, error) {
	var b model.Bug
	var blamed sql.NullString
	var deployID, duplicateOf, fixedAt sql.NullInt64
	var first, latest int64

	err := row.Scan(
		&b.ID, &b.EnvironmentID, &b.ClassName, &b.File, &b.Line, &blamed, &deployID,
		&b.Revision, &b.Client, &b.MessageTemplate, &b.SpecialFile,
		&b.Fixed, &fixedAt, &b.FixDeployed, &duplicateOf,
		&first, &latest, &b.OccurrenceCount, &b.ReopenedBy,
	)
	if err != nil {
		return nil, err
	}

	b.BlamedRevision = stringPtrFromNull(blamed)
	b.DeployID = int64PtrFromNull(deployID)
	b.DuplicateOf = int64PtrFromNull(duplicateOf)
	b.FixedAt = timePtrFromNull(fixedAt)
	b.FirstOccurrence = fromNanos(first)
	b.LatestOccurrence = fromNanos(latest)
	return &b, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, bugID int64, kind, actor string, data any, at time.Time) error {
	payload := []byte("{}")
	if data != nil {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO bug_events (id, bug_id, kind, actor, data_json, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), bugID, kind, actor, string(payload), toNanos(at))
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", kind, err)
	}
	return nil
}

func criteriaOf(b *model.Bug) model.Criteria {
	return model.Criteria{
		EnvironmentID:  b.EnvironmentID,
		ClassName:      b.ClassName,
		File:           b.File,
		Line:           b.Line,
		BlamedRevision: b.BlamedRevision,
	}
}

func notFound(bugID int64) error {
	return errors.New(errors.NotFound, fmt.Sprintf("bug %d not found", bugID), nil, nil)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !stderrors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	// Primary result code only when extended codes are off
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
