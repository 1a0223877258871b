// internal/infra/database/postgres_followup_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"callcenter_crm/internal/domain/followup"

	"github.com/lib/pq" // For pq.Array
)

// Custom errors specific to the follow-up repository
var ErrRequestNotFound = fmt.Errorf("request not found")
var ErrStatusNotFound = fmt.Errorf("status not found")
var ErrLogEntryNotFound = fmt.Errorf("follow-up log entry not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresFollowUpRepository struct {
	db         *sql.DB // nil when bound to a transaction
	q          querier
	maxRetries int
}

// NewPostgresFollowUpRepository binds the repository to db. A negative maxRetries
// falls back to DefaultMaxRetries.
func NewPostgresFollowUpRepository(db *sql.DB, maxRetries int) *PostgresFollowUpRepository {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &PostgresFollowUpRepository{db: db, q: db, maxRetries: maxRetries}
}

// WithinTx runs fn in a transaction, retrying the whole unit when PostgreSQL
// aborts it for a serialization failure or deadlock. Nested calls reuse the
// outer transaction.
func (r *PostgresFollowUpRepository) WithinTx(ctx context.Context, fn func(repo followup.Repository) error) error {
	if r.db == nil {
		return fn(r)
	}

	return WithRetries(func() error {
		txn, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer txn.Rollback() // Rollback if not committed

		if err := fn(&PostgresFollowUpRepository{q: txn, maxRetries: r.maxRetries}); err != nil {
			return err
		}
		if err := txn.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}, r.maxRetries, IsTxConflict)
}

// --- Status Methods ---

const statusColumns = `s.id, s.name, s.requires_follow_up,
       p.id, p.max_attempts, p.interval_days, p.auto_close_days`

func scanStatus(row rowScanner) (*followup.Status, error) {
	s := followup.Status{}
	var pol nullPolicy
	if err := row.Scan(&s.ID, &s.Name, &s.RequiresFollowUp,
		&pol.ID, &pol.MaxAttempts, &pol.IntervalDays, &pol.AutoCloseDays); err != nil {
		return nil, err
	}
	s.Policy = pol.policy()
	return &s, nil
}

func (r *PostgresFollowUpRepository) GetStatus(ctx context.Context, id int64) (*followup.Status, error) {
	query := `SELECT ` + statusColumns + `
               FROM status_types s
               LEFT JOIN follow_up_policies p ON p.id = s.policy_id
               WHERE s.id = $1`
	s, err := scanStatus(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("error getting status by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresFollowUpRepository) ListStatuses(ctx context.Context) ([]*followup.Status, error) {
	query := `SELECT ` + statusColumns + `
               FROM status_types s
               LEFT JOIN follow_up_policies p ON p.id = s.policy_id
               ORDER BY s.name`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]*followup.Status, 0)
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning status row: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status rows: %w", err)
	}
	return statuses, nil
}

func (r *PostgresFollowUpRepository) FindClosureStatus(ctx context.Context) (*followup.Status, error) {
	query := `SELECT ` + statusColumns + `
               FROM status_types s
               LEFT JOIN follow_up_policies p ON p.id = s.policy_id
               WHERE lower(s.name) LIKE ANY($1::text[])
                 AND lower(s.name) LIKE ANY($2::text[])
               ORDER BY s.id
               LIMIT 1`
	s, err := scanStatus(r.q.QueryRowContext(ctx, query,
		pq.Array(followup.ClosureTargetPatterns()), pq.Array(followup.ClosedPatterns())))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("error finding closure status: %w", err)
	}
	return s, nil
}

// --- Request Methods ---

const requestSelect = `SELECT r.id, r.person_id, r.status_id, r.reason_id, r.follow_up_count,
       r.last_follow_up_date, r.comments, r.description,
       r.created_at, r.created_by, r.updated_at, r.updated_by,
       s.id, s.name, s.requires_follow_up,
       p.id, p.max_attempts, p.interval_days, p.auto_close_days,
       pe.id, pe.first_name, pe.last_name, pe.email, pe.phone
FROM requests r
JOIN persons pe ON pe.id = r.person_id
LEFT JOIN status_types s ON s.id = r.status_id
LEFT JOIN follow_up_policies p ON p.id = s.policy_id`

// nullPolicy holds the policy columns of an outer join.
type nullPolicy struct {
	ID            sql.NullInt64
	MaxAttempts   sql.NullInt64
	IntervalDays  sql.NullInt64
	AutoCloseDays sql.NullInt64
}

func (p nullPolicy) policy() *followup.Policy {
	if !p.ID.Valid {
		return nil
	}
	return &followup.Policy{
		ID:            p.ID.Int64,
		MaxAttempts:   int(p.MaxAttempts.Int64),
		IntervalDays:  int(p.IntervalDays.Int64),
		AutoCloseDays: int(p.AutoCloseDays.Int64),
	}
}

func scanRequest(row rowScanner) (*followup.Request, error) {
	req := followup.Request{}
	person := followup.Person{}
	var (
		statusID       sql.NullInt64
		statusName     sql.NullString
		statusRequires sql.NullBool
		pol            nullPolicy
	)
	err := row.Scan(
		&req.ID, &req.PersonID, &req.StatusID, &req.ReasonID, &req.FollowUpCount,
		&req.LastFollowUpDate, &req.Comments, &req.Description,
		&req.CreatedAt, &req.CreatedBy, &req.UpdatedAt, &req.UpdatedBy,
		&statusID, &statusName, &statusRequires,
		&pol.ID, &pol.MaxAttempts, &pol.IntervalDays, &pol.AutoCloseDays,
		&person.ID, &person.FirstName, &person.LastName, &person.Email, &person.Phone,
	)
	if err != nil {
		return nil, err
	}
	if statusID.Valid {
		req.Status = &followup.Status{
			ID:               statusID.Int64,
			Name:             statusName.String,
			RequiresFollowUp: statusRequires.Bool,
			Policy:           pol.policy(),
		}
	}
	req.Person = &person
	return &req, nil
}

func scanRequests(rows *sql.Rows) ([]*followup.Request, error) {
	requests := make([]*followup.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning request row: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request rows: %w", err)
	}
	return requests, nil
}

func (r *PostgresFollowUpRepository) getRequest(ctx context.Context, id int64, lock bool) (*followup.Request, error) {
	query := requestSelect + ` WHERE r.id = $1`
	if lock {
		query += ` FOR UPDATE OF r` // Nullable side of the outer joins cannot be locked
	}
	req, err := scanRequest(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("error getting request by ID: %w", err)
	}
	return req, nil
}

func (r *PostgresFollowUpRepository) GetRequest(ctx context.Context, id int64) (*followup.Request, error) {
	return r.getRequest(ctx, id, false)
}

func (r *PostgresFollowUpRepository) GetRequestForUpdate(ctx context.Context, id int64) (*followup.Request, error) {
	return r.getRequest(ctx, id, true)
}

func (r *PostgresFollowUpRepository) UpdateRequest(ctx context.Context, req *followup.Request) error {
	query := `UPDATE requests
               SET status_id = $1, follow_up_count = $2, last_follow_up_date = $3,
                   comments = $4, updated_at = $5, updated_by = $6
               WHERE id = $7`
	res, err := r.q.ExecContext(ctx, query,
		req.StatusID, req.FollowUpCount, req.LastFollowUpDate,
		req.Comments, req.UpdatedAt, req.UpdatedBy, req.ID)
	if err != nil {
		return fmt.Errorf("error updating request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (r *PostgresFollowUpRepository) ListTrackedRequests(ctx context.Context) ([]*followup.Request, error) {
	query := requestSelect + `
               WHERE s.requires_follow_up = TRUE OR s.policy_id IS NOT NULL
               ORDER BY r.id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying tracked requests: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (r *PostgresFollowUpRepository) ListExhaustedForAutoClose(ctx context.Context) ([]*followup.Request, error) {
	// Date window and closed-family checks are applied by the caller.
	query := requestSelect + `
               WHERE s.requires_follow_up = TRUE
                 AND p.auto_close_days > 0
                 AND r.follow_up_count >= p.max_attempts
                 AND r.last_follow_up_date IS NOT NULL
               ORDER BY r.id
               FOR UPDATE OF r`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying auto-close candidates: %w", err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

// --- Follow-up Log Methods ---

const logEntryColumns = `id, request_id, status_id, change_reason, comment, is_current,
       follow_up_type_id, updated_at, updated_by`

func scanLogEntry(row rowScanner) (*followup.LogEntry, error) {
	e := followup.LogEntry{}
	if err := row.Scan(&e.ID, &e.RequestID, &e.StatusID, &e.ChangeReason, &e.Comment, &e.IsCurrent,
		&e.FollowUpTypeID, &e.UpdatedAt, &e.UpdatedBy); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresFollowUpRepository) GetLogEntry(ctx context.Context, id int64) (*followup.LogEntry, error) {
	query := `SELECT ` + logEntryColumns + ` FROM follow_up_log WHERE id = $1`
	e, err := scanLogEntry(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogEntryNotFound
		}
		return nil, fmt.Errorf("error getting follow-up log entry by ID: %w", err)
	}
	return e, nil
}

func (r *PostgresFollowUpRepository) GetLatestLogEntry(ctx context.Context, requestID int64) (*followup.LogEntry, error) {
	query := `SELECT ` + logEntryColumns + `
               FROM follow_up_log
               WHERE request_id = $1
               ORDER BY updated_at DESC, id DESC
               LIMIT 1`
	e, err := scanLogEntry(r.q.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogEntryNotFound
		}
		return nil, fmt.Errorf("error getting latest follow-up log entry: %w", err)
	}
	return e, nil
}

func (r *PostgresFollowUpRepository) ListLogEntries(ctx context.Context, requestID int64) ([]*followup.LogEntry, error) {
	query := `SELECT ` + logEntryColumns + `
               FROM follow_up_log
               WHERE request_id = $1
               ORDER BY updated_at DESC, id DESC`
	rows, err := r.q.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("error querying follow-up log: %w", err)
	}
	defer rows.Close()

	entries := make([]*followup.LogEntry, 0)
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning follow-up log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating follow-up log rows: %w", err)
	}
	return entries, nil
}

func (r *PostgresFollowUpRepository) ClearCurrentLogEntries(ctx context.Context, requestID int64) error {
	query := `UPDATE follow_up_log SET is_current = FALSE WHERE request_id = $1 AND is_current`
	if _, err := r.q.ExecContext(ctx, query, requestID); err != nil {
		return fmt.Errorf("error clearing current follow-up log entries: %w", err)
	}
	return nil
}

func (r *PostgresFollowUpRepository) CreateLogEntry(ctx context.Context, e *followup.LogEntry) error {
	query := `INSERT INTO follow_up_log (request_id, status_id, change_reason, comment, is_current,
                                        follow_up_type_id, updated_at, updated_by)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
               RETURNING id`
	err := r.q.QueryRowContext(ctx, query, e.RequestID, e.StatusID, e.ChangeReason, e.Comment, e.IsCurrent,
		e.FollowUpTypeID, e.UpdatedAt, e.UpdatedBy).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("error creating follow-up log entry: %w", err)
	}
	return nil
}

func (r *PostgresFollowUpRepository) UpdateLogEntry(ctx context.Context, e *followup.LogEntry) error {
	query := `UPDATE follow_up_log
               SET status_id = $1, follow_up_type_id = $2, change_reason = $3, comment = $4,
                   updated_at = $5, updated_by = $6
               WHERE id = $7`
	res, err := r.q.ExecContext(ctx, query, e.StatusID, e.FollowUpTypeID, e.ChangeReason, e.Comment,
		e.UpdatedAt, e.UpdatedBy, e.ID)
	if err != nil {
		return fmt.Errorf("error updating follow-up log entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrLogEntryNotFound
	}
	return nil
}
