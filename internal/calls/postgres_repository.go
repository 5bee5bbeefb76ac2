package calls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores call logs in the relational database.
type PostgresRepository struct {
	pool querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("calls: querier required")
	}
	return &PostgresRepository{pool: q}
}

var _ Repository = (*PostgresRepository)(nil)

// referral_id is a nullable uuid; it comes back as '' when the call was
// placed without a matching referral.
const callColumns = `id, COALESCE(referral_id::text, '') AS referral_id, patient_name,
	patient_phone, direction, status, outcome, provider_call_sid, started_at,
	ended_at, duration_seconds, summary, created_at, updated_at`

func scanCallLog(row pgx.Row) (*CallLog, error) {
	var log CallLog
	err := row.Scan(
		&log.ID,
		&log.ReferralID,
		&log.PatientName,
		&log.PatientPhone,
		&log.Direction,
		&log.Status,
		&log.Outcome,
		&log.ProviderCallSID,
		&log.StartedAt,
		&log.EndedAt,
		&log.DurationSeconds,
		&log.Summary,
		&log.CreatedAt,
		&log.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func collectCallLogs(rows pgx.Rows) ([]*CallLog, error) {
	defer rows.Close()
	var out []*CallLog
	for rows.Next() {
		log, err := scanCallLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

// Create inserts a new call log row.
func (r *PostgresRepository) Create(ctx context.Context, log *CallLog) (*CallLog, error) {
	stored := *log
	stored.ID = uuid.New().String()
	if stored.Direction == "" {
		stored.Direction = DirectionOutbound
	}
	if stored.Status == "" {
		stored.Status = StatusPending
	}

	query := `
		INSERT INTO call_logs (id, referral_id, patient_name, patient_phone,
			direction, status, outcome, provider_call_sid, started_at, ended_at,
			duration_seconds, summary)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		stored.ID,
		stored.ReferralID,
		stored.PatientName,
		stored.PatientPhone,
		stored.Direction,
		stored.Status,
		stored.Outcome,
		stored.ProviderCallSID,
		stored.StartedAt,
		stored.EndedAt,
		stored.DurationSeconds,
		stored.Summary,
	).Scan(&stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("calls: create failed: %w", err)
	}
	return &stored, nil
}

// GetByID returns the call log with the given id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*CallLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM call_logs WHERE id = $1`, callColumns)
	log, err := scanCallLog(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("calls: get failed: %w", err)
	}
	return log, nil
}

// GetByProviderSID returns the most recent call log with the given provider SID.
func (r *PostgresRepository) GetByProviderSID(ctx context.Context, providerSID string) (*CallLog, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM call_logs
		WHERE provider_call_sid = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, callColumns)
	log, err := scanCallLog(r.pool.QueryRow(ctx, query, providerSID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("calls: get by sid failed: %w", err)
	}
	return log, nil
}

// UpdateStatus moves a call to the given status. Entering in_progress stamps
// started_at once.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, providerSID string, status Status) error {
	query := `
		UPDATE call_logs
		SET status = $2,
			started_at = CASE WHEN $2 = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
			updated_at = now()
		WHERE provider_call_sid = $1
	`
	tag, err := r.pool.Exec(ctx, query, providerSID, status)
	if err != nil {
		return fmt.Errorf("calls: update status failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

// RecordOutcome writes the terminal status and outcome in one update. A zero
// duration leaves any previously stored duration alone.
func (r *PostgresRepository) RecordOutcome(ctx context.Context, providerSID string, status Status, outcome Outcome, durationSeconds int) error {
	query := `
		UPDATE call_logs
		SET status = $2,
			outcome = $3,
			ended_at = COALESCE(ended_at, now()),
			duration_seconds = CASE WHEN $4 > 0 THEN $4 ELSE duration_seconds END,
			updated_at = now()
		WHERE provider_call_sid = $1
	`
	tag, err := r.pool.Exec(ctx, query, providerSID, status, outcome, durationSeconds)
	if err != nil {
		return fmt.Errorf("calls: record outcome failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

// SetSummary attaches the post-call summary to the log.
func (r *PostgresRepository) SetSummary(ctx context.Context, providerSID, summary string) error {
	query := `
		UPDATE call_logs
		SET summary = $2, updated_at = now()
		WHERE provider_call_sid = $1
	`
	tag, err := r.pool.Exec(ctx, query, providerSID, summary)
	if err != nil {
		return fmt.Errorf("calls: set summary failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

// ListByReferral returns the call history for one referral, newest first.
func (r *PostgresRepository) ListByReferral(ctx context.Context, referralID string) ([]*CallLog, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM call_logs
		WHERE referral_id = $1::uuid
		ORDER BY created_at DESC
	`, callColumns)
	rows, err := r.pool.Query(ctx, query, referralID)
	if err != nil {
		return nil, fmt.Errorf("calls: list by referral failed: %w", err)
	}
	logs, err := collectCallLogs(rows)
	if err != nil {
		return nil, fmt.Errorf("calls: list by referral failed: %w", err)
	}
	return logs, nil
}

// ListRecent returns the newest call logs up to limit.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*CallLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM call_logs
		ORDER BY created_at DESC
		LIMIT %d
	`, callColumns, limit)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("calls: list recent failed: %w", err)
	}
	logs, err := collectCallLogs(rows)
	if err != nil {
		return nil, fmt.Errorf("calls: list recent failed: %w", err)
	}
	return logs, nil
}
