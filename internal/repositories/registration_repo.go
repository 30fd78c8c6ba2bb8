package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/carepath/internal/database"
	"github.com/BradenHooton/carepath/internal/models"
	"github.com/jackc/pgx/v5"
)

const registrationColumns = `
	id, email, first_name, last_name, requested_role, status,
	email_verified_at, verification_code_hash, verification_code_expires_at, verification_attempts, code_sent_at,
	completion_token_hash, completion_token_expires_at,
	decision_deadline, requested_at, decided_at, decided_by, admin_notes, rejection_reason,
	completed_at, user_id, updated_at, version`

type RegistrationRepository struct {
	db *database.DB
}

func NewRegistrationRepository(db *database.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRegistrationRow(scanner rowScanner) (*models.RegistrationRequest, error) {
	var req models.RegistrationRequest
	var codeHash, tokenHash *string

	err := scanner.Scan(
		&req.ID, &req.Email, &req.FirstName, &req.LastName, &req.RequestedRole, &req.Status,
		&req.EmailVerifiedAt, &codeHash, &req.VerificationCodeExpiresAt, &req.VerificationAttempts, &req.CodeSentAt,
		&tokenHash, &req.CompletionTokenExpiresAt,
		&req.DecisionDeadline, &req.RequestedAt, &req.DecidedAt, &req.DecidedBy, &req.AdminNotes, &req.RejectionReason,
		&req.CompletedAt, &req.UserID, &req.UpdatedAt, &req.Version,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if codeHash != nil {
		req.VerificationCodeHash = *codeHash
	}
	if tokenHash != nil {
		req.CompletionTokenHash = *tokenHash
	}

	return &req, nil
}

func scanRegistrationRows(rows pgx.Rows) ([]*models.RegistrationRequest, error) {
	defer rows.Close()

	out := make([]*models.RegistrationRequest, 0)
	for rows.Next() {
		req, err := scanRegistrationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration request: %w", err)
		}
		out = append(out, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a new PENDING request. A concurrent unresolved request for the
// same email surfaces as models.ErrConflict from the partial unique index.
func (r *RegistrationRepository) Create(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationRequest, error) {
	query := `
		INSERT INTO registration_requests (
			email, first_name, last_name, requested_role, status,
			verification_code_hash, verification_code_expires_at, verification_attempts, code_sent_at,
			decision_deadline, requested_at, updated_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $10, 1)
		RETURNING ` + registrationColumns

	return scanRegistrationRow(r.db.Querier(ctx).QueryRow(ctx, query,
		req.Email, req.FirstName, req.LastName, req.RequestedRole, req.Status,
		nullIfEmpty(req.VerificationCodeHash), req.VerificationCodeExpiresAt, req.CodeSentAt,
		req.DecisionDeadline, req.RequestedAt,
	))
}

func (r *RegistrationRepository) GetByID(ctx context.Context, id string) (*models.RegistrationRequest, error) {
	query := `SELECT ` + registrationColumns + ` FROM registration_requests WHERE id = $1`
	return scanRegistrationRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

// GetUnresolvedByEmail returns the PENDING or APPROVED request for email.
func (r *RegistrationRepository) GetUnresolvedByEmail(ctx context.Context, email string) (*models.RegistrationRequest, error) {
	query := `SELECT ` + registrationColumns + `
		FROM registration_requests
		WHERE LOWER(email) = LOWER($1) AND status IN ('PENDING', 'APPROVED')`
	return scanRegistrationRow(r.db.Querier(ctx).QueryRow(ctx, query, email))
}

// GetLatestByEmail returns the most recent request for email regardless of status.
func (r *RegistrationRepository) GetLatestByEmail(ctx context.Context, email string) (*models.RegistrationRequest, error) {
	query := `SELECT ` + registrationColumns + `
		FROM registration_requests
		WHERE LOWER(email) = LOWER($1)
		ORDER BY requested_at DESC, id DESC
		LIMIT 1`
	return scanRegistrationRow(r.db.Querier(ctx).QueryRow(ctx, query, email))
}

// List returns one page of requests, newest first, and the total matching count.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]*models.RegistrationRequest, int64, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	q := r.db.Querier(ctx)

	var total int64
	countQuery := `SELECT COUNT(*) FROM registration_requests WHERE ($1::text IS NULL OR status = $1)`
	if err := q.QueryRow(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count registration requests: %w", database.MapPostgresError(err))
	}

	query := `SELECT ` + registrationColumns + `
		FROM registration_requests
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY requested_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, query, status, filter.Limit, filter.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query registration requests: %w", database.MapPostgresError(err))
	}

	reqs, err := scanRegistrationRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

// Update writes next only if the stored row still has status expected and the
// version next was read at. Zero matching rows yields models.ErrStaleWrite.
func (r *RegistrationRepository) Update(ctx context.Context, next *models.RegistrationRequest, expected models.RegistrationStatus) (*models.RegistrationRequest, error) {
	query := `
		UPDATE registration_requests SET
			status = $4,
			email_verified_at = $5,
			verification_code_hash = $6,
			verification_code_expires_at = $7,
			verification_attempts = $8,
			code_sent_at = $9,
			completion_token_hash = $10,
			completion_token_expires_at = $11,
			decided_at = $12,
			decided_by = $13,
			admin_notes = $14,
			rejection_reason = $15,
			completed_at = $16,
			user_id = $17,
			updated_at = $18,
			version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING ` + registrationColumns

	updated, err := scanRegistrationRow(r.db.Querier(ctx).QueryRow(ctx, query,
		next.ID, expected, next.Version,
		next.Status,
		next.EmailVerifiedAt, nullIfEmpty(next.VerificationCodeHash), next.VerificationCodeExpiresAt,
		next.VerificationAttempts, next.CodeSentAt,
		nullIfEmpty(next.CompletionTokenHash), next.CompletionTokenExpiresAt,
		next.DecidedAt, next.DecidedBy, next.AdminNotes, next.RejectionReason,
		next.CompletedAt, next.UserID, next.UpdatedAt,
	))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrStaleWrite
	}
	return updated, err
}

// ReserveVerificationAttempt atomically consumes one verification attempt. It
// matches only unverified PENDING or APPROVED rows still under max attempts, so
// parallel guesses can never exceed the ceiling.
func (r *RegistrationRepository) ReserveVerificationAttempt(ctx context.Context, id string, max int, now time.Time) (*models.RegistrationRequest, error) {
	query := `
		UPDATE registration_requests SET
			verification_attempts = verification_attempts + 1,
			updated_at = $3,
			version = version + 1
		WHERE id = $1
			AND status IN ('PENDING', 'APPROVED')
			AND email_verified_at IS NULL
			AND verification_attempts < $2
		RETURNING ` + registrationColumns

	req, err := scanRegistrationRow(r.db.Querier(ctx).QueryRow(ctx, query, id, max, now))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrStaleWrite
	}
	return req, err
}

// MarkEmailVerified records a successful code check. The first verification
// timestamp is kept and the attempt counter resets.
func (r *RegistrationRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) (*models.RegistrationRequest, error) {
	query := `
		UPDATE registration_requests SET
			email_verified_at = COALESCE(email_verified_at, $2),
			verification_attempts = 0,
			updated_at = $2,
			version = version + 1
		WHERE id = $1 AND status IN ('PENDING', 'APPROVED')
		RETURNING ` + registrationColumns

	req, err := scanRegistrationRow(r.db.Querier(ctx).QueryRow(ctx, query, id, at))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrStaleWrite
	}
	return req, err
}

// ExpireStale moves PENDING requests past their decision deadline and APPROVED
// requests past their completion token expiry to EXPIRED and returns them. Rows
// locked by an in-flight write are left for the next run, so concurrent sweeps
// never report the same request twice.
func (r *RegistrationRepository) ExpireStale(ctx context.Context, now time.Time) ([]models.ExpiredRegistration, error) {
	query := `
		WITH due AS (
			SELECT id, status FROM registration_requests
			WHERE (status = 'PENDING' AND decision_deadline < $1)
			   OR (status = 'APPROVED' AND completed_at IS NULL AND completion_token_expires_at < $1)
			FOR UPDATE SKIP LOCKED
		)
		UPDATE registration_requests r SET
			status = 'EXPIRED',
			decided_at = NULL,
			decided_by = NULL,
			verification_code_hash = NULL,
			verification_code_expires_at = NULL,
			completion_token_hash = NULL,
			completion_token_expires_at = NULL,
			updated_at = $1,
			version = r.version + 1
		FROM due
		WHERE r.id = due.id
		RETURNING r.id, r.email, due.status`

	rows, err := r.db.Querier(ctx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale registration requests: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	expired := make([]models.ExpiredRegistration, 0)
	for rows.Next() {
		var e models.ExpiredRegistration
		if err := rows.Scan(&e.ID, &e.Email, &e.PreviousStatus); err != nil {
			return nil, fmt.Errorf("failed to scan expired registration: %w", err)
		}
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to expire stale registration requests: %w", database.MapPostgresError(err))
	}
	return expired, nil
}
