package referrals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

// PostgresRepository stores referrals in the relational database.
type PostgresRepository struct {
	pool querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("referrals: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("referrals: querier required")
	}
	return &PostgresRepository{pool: q}
}

var _ Repository = (*PostgresRepository)(nil)

const referralColumns = `id, patient_name, patient_phone, patient_email, patient_dob,
	condition, specialist_type, urgency, is_high_risk, status, referral_date,
	scheduled_date, completed_date, notes, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(
		&ref.ID,
		&ref.PatientName,
		&ref.PatientPhone,
		&ref.PatientEmail,
		&ref.PatientDOB,
		&ref.Condition,
		&ref.SpecialistType,
		&ref.Urgency,
		&ref.IsHighRisk,
		&ref.Status,
		&ref.ReferralDate,
		&ref.ScheduledDate,
		&ref.CompletedDate,
		&ref.Notes,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func collectReferrals(rows pgx.Rows) ([]*Referral, error) {
	defer rows.Close()
	var out []*Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Create inserts a new referral with status PENDING.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateReferralRequest) (*Referral, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = UrgencyRoutine
	}

	id := uuid.New()
	query := `
		INSERT INTO referrals (id, patient_name, patient_phone, patient_email, patient_dob,
			condition, specialist_type, urgency, is_high_risk, status, referral_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'PENDING', now(), $10)
		RETURNING referral_date, created_at, updated_at
	`
	ref := &Referral{
		ID:             id.String(),
		PatientName:    req.PatientName,
		PatientPhone:   req.PatientPhone,
		PatientEmail:   req.PatientEmail,
		PatientDOB:     req.PatientDOB,
		Condition:      req.Condition,
		SpecialistType: normalizeSpecialty(req.SpecialistType),
		Urgency:        urgency,
		IsHighRisk:     req.IsHighRisk,
		Status:         StatusPending,
		Notes:          req.Notes,
	}
	if err := r.pool.QueryRow(ctx, query,
		id,
		ref.PatientName,
		ref.PatientPhone,
		ref.PatientEmail,
		ref.PatientDOB,
		ref.Condition,
		ref.SpecialistType,
		ref.Urgency,
		ref.IsHighRisk,
		ref.Notes,
	).Scan(&ref.ReferralDate, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
		return nil, fmt.Errorf("referrals: insert failed: %w", err)
	}
	return ref, nil
}

// GetByID fetches a referral by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`
	ref, err := scanReferral(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("referrals: select failed: %w", err)
	}
	return ref, nil
}

// List returns referrals matching the filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals`

	var conds []string
	var args []any
	if filter.Date != "" {
		conds = append(conds, fmt.Sprintf("scheduled_date::date = $%d", len(args)+1))
		args = append(args, filter.Date)
	}
	if filter.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.SpecialistType != "" {
		conds = append(conds, fmt.Sprintf("specialist_type = $%d", len(args)+1))
		args = append(args, normalizeSpecialty(filter.SpecialistType))
	}
	if filter.PatientName != "" {
		conds = append(conds, fmt.Sprintf("patient_name = $%d", len(args)+1))
		args = append(args, filter.PatientName)
	}
	if filter.HighRisk != nil {
		conds = append(conds, fmt.Sprintf("is_high_risk = $%d", len(args)+1))
		args = append(args, *filter.HighRisk)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("referrals: list failed: %w", err)
	}
	return collectReferrals(rows)
}

// Update applies a partial update and returns the new row.
func (r *PostgresRepository) Update(ctx context.Context, id string, req *UpdateReferralRequest) (*Referral, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.PatientPhone != nil {
		add("patient_phone", *req.PatientPhone)
	}
	if req.PatientEmail != nil {
		add("patient_email", *req.PatientEmail)
	}
	if req.Condition != nil {
		add("condition", *req.Condition)
	}
	if req.SpecialistType != nil {
		add("specialist_type", normalizeSpecialty(*req.SpecialistType))
	}
	if req.Urgency != nil {
		add("urgency", *req.Urgency)
	}
	if req.IsHighRisk != nil {
		add("is_high_risk", *req.IsHighRisk)
	}
	if req.Status != nil {
		add("status", *req.Status)
	}
	if req.ScheduledDate != nil {
		add("scheduled_date", *req.ScheduledDate)
	}
	if req.Notes != nil {
		add("notes", *req.Notes)
	}

	query := "UPDATE referrals SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 RETURNING " + referralColumns
	ref, err := scanReferral(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("referrals: update failed: %w", err)
	}
	return ref, nil
}

// Schedule books a PENDING or NEEDS_REBOOK referral. The status gate lives
// in the WHERE clause so concurrent schedulers cannot double-book a row.
func (r *PostgresRepository) Schedule(ctx context.Context, id string, when time.Time, notes string) (*Referral, error) {
	note := ""
	if strings.TrimSpace(notes) != "" {
		note = "Scheduled: " + notes
	}
	query := `
		UPDATE referrals
		SET scheduled_date = $2,
			status = 'SCHEDULED',
			notes = TRIM(BOTH E' \n' FROM concat_ws(E'\n\n', NULLIF(notes, ''), NULLIF($3, ''))),
			updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'NEEDS_REBOOK')
		RETURNING ` + referralColumns
	ref, err := scanReferral(r.pool.QueryRow(ctx, query, id, when, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is missing or its status blocks scheduling.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrNotSchedulable
		}
		return nil, fmt.Errorf("referrals: schedule failed: %w", err)
	}
	return ref, nil
}

// Reschedule moves a referral to a new time and records the reason.
func (r *PostgresRepository) Reschedule(ctx context.Context, id string, when time.Time, reason string) (*Referral, error) {
	note := ""
	if strings.TrimSpace(reason) != "" {
		note = "Rescheduled: " + reason
	}
	query := `
		UPDATE referrals
		SET scheduled_date = $2,
			status = 'SCHEDULED',
			notes = TRIM(BOTH E' \n' FROM concat_ws(E'\n\n', NULLIF(notes, ''), NULLIF($3, ''))),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + referralColumns
	ref, err := scanReferral(r.pool.QueryRow(ctx, query, id, when, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("referrals: reschedule failed: %w", err)
	}
	return ref, nil
}

// RescheduleByPatientName updates every active referral for the named patient.
// Terminal rows are excluded so a cancelled referral cannot be resurrected by
// a voice call.
func (r *PostgresRepository) RescheduleByPatientName(ctx context.Context, patientName string, when time.Time) (int64, error) {
	query := `
		UPDATE referrals
		SET scheduled_date = $2, status = 'SCHEDULED', updated_at = now()
		WHERE patient_name = $1 AND status NOT IN ('ATTENDED', 'CANCELLED')
	`
	ct, err := r.pool.Exec(ctx, query, patientName, when)
	if err != nil {
		return 0, fmt.Errorf("referrals: reschedule by name failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return 0, ErrReferralNotFound
	}
	return ct.RowsAffected(), nil
}

// MarkMissed marks a referral as missed.
func (r *PostgresRepository) MarkMissed(ctx context.Context, id string) (*Referral, error) {
	query := `
		UPDATE referrals
		SET status = 'MISSED', updated_at = now()
		WHERE id = $1
		RETURNING ` + referralColumns
	ref, err := scanReferral(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("referrals: mark missed failed: %w", err)
	}
	return ref, nil
}

// MarkAttended marks a referral attended and stamps the completion time.
func (r *PostgresRepository) MarkAttended(ctx context.Context, id string) (*Referral, error) {
	query := `
		UPDATE referrals
		SET status = 'ATTENDED', completed_date = now(), updated_at = now()
		WHERE id = $1
		RETURNING ` + referralColumns
	ref, err := scanReferral(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReferralNotFound
		}
		return nil, fmt.Errorf("referrals: mark attended failed: %w", err)
	}
	return ref, nil
}

// Cancel marks a referral as cancelled.
func (r *PostgresRepository) Cancel(ctx context.Context, id string) error {
	query := `UPDATE referrals SET status = 'CANCELLED', updated_at = now() WHERE id = $1`
	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("referrals: cancel failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrReferralNotFound
	}
	return nil
}

// Overdue returns referrals needing nurse attention, oldest first.
func (r *PostgresRepository) Overdue(ctx context.Context, olderThanDays int) ([]*Referral, error) {
	query := `
		SELECT ` + referralColumns + `
		FROM referrals
		WHERE (status = 'PENDING' AND referral_date < now() - ($1 * interval '1 day'))
		   OR (status = 'SCHEDULED' AND scheduled_date < now())
		   OR (status = 'NEEDS_REBOOK' AND updated_at < now() - interval '7 days')
		ORDER BY referral_date ASC
	`
	rows, err := r.pool.Query(ctx, query, olderThanDays)
	if err != nil {
		return nil, fmt.Errorf("referrals: overdue query failed: %w", err)
	}
	return collectReferrals(rows)
}

// UnavailableSlots returns the booked times for a specialty.
func (r *PostgresRepository) UnavailableSlots(ctx context.Context, specialistType string) ([]time.Time, error) {
	query := `
		SELECT scheduled_date
		FROM referrals
		WHERE specialist_type = $1 AND scheduled_date IS NOT NULL
		ORDER BY scheduled_date ASC
	`
	rows, err := r.pool.Query(ctx, query, normalizeSpecialty(specialistType))
	if err != nil {
		return nil, fmt.Errorf("referrals: slots query failed: %w", err)
	}
	defer rows.Close()

	var slots []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("referrals: slots scan failed: %w", err)
		}
		slots = append(slots, t)
	}
	return slots, rows.Err()
}

// Stats computes the referral dashboard counters in one round trip.
func (r *PostgresRepository) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE status NOT IN ('ATTENDED', 'CANCELLED')) AS total_active,
			count(*) FILTER (WHERE status = 'PENDING') AS pending_count,
			count(*) FILTER (WHERE status = 'SCHEDULED') AS scheduled_count,
			count(*) FILTER (WHERE status = 'MISSED') AS missed_count,
			count(*) FILTER (WHERE status = 'ESCALATED') AS escalated_count,
			count(*) FILTER (WHERE is_high_risk AND status NOT IN ('ATTENDED', 'CANCELLED')) AS high_risk_active,
			count(*) FILTER (WHERE status = 'SCHEDULED'
				AND scheduled_date >= date_trunc('week', now())
				AND scheduled_date < date_trunc('week', now()) + interval '7 days') AS scheduled_this_week,
			count(*) FILTER (WHERE status = 'PENDING'
				AND referral_date < now() - interval '14 days') AS overdue_pending
		FROM referrals
	`
	var stats Stats
	if err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalActive,
		&stats.PendingCount,
		&stats.ScheduledCount,
		&stats.MissedCount,
		&stats.EscalatedCount,
		&stats.HighRiskActive,
		&stats.ScheduledThisWeek,
		&stats.OverduePending,
	); err != nil {
		return nil, fmt.Errorf("referrals: stats query failed: %w", err)
	}
	return &stats, nil
}
