package flags

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

// PostgresRepository stores flags in the relational database.
type PostgresRepository struct {
	pool querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("flags: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithQuerier(q querier) *PostgresRepository {
	if q == nil {
		panic("flags: querier required")
	}
	return &PostgresRepository{pool: q}
}

var _ Repository = (*PostgresRepository)(nil)

// referral_id is a nullable uuid; it comes back as '' when the flag was
// raised for a name no referral matched.
const flagColumns = `id, COALESCE(referral_id::text, '') AS referral_id, patient_name, title,
	description, priority, status, resolution_notes, resolved_by, resolved_at,
	created_at, updated_at`

// priorityOrder sorts urgent work to the top of the nurse dashboard.
const priorityOrder = `array_position(ARRAY['urgent', 'high', 'medium', 'low'], priority)`

func scanFlag(row pgx.Row) (*Flag, error) {
	var f Flag
	err := row.Scan(
		&f.ID,
		&f.ReferralID,
		&f.PatientName,
		&f.Title,
		&f.Description,
		&f.Priority,
		&f.Status,
		&f.ResolutionNotes,
		&f.ResolvedBy,
		&f.ResolvedAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func collectFlags(rows pgx.Rows) ([]*Flag, error) {
	defer rows.Close()
	var out []*Flag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Create inserts a new open flag.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateFlagRequest) (*Flag, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	id := uuid.New()
	query := `
		INSERT INTO flags (id, referral_id, patient_name, title, description, priority, status)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, 'open')
		RETURNING created_at, updated_at
	`
	flag := &Flag{
		ID:          id.String(),
		ReferralID:  req.ReferralID,
		PatientName: req.PatientName,
		Title:       req.Title,
		Description: req.Description,
		Priority:    priority,
		Status:      StatusOpen,
	}
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.ReferralID,
		req.PatientName,
		req.Title,
		req.Description,
		priority,
	).Scan(&flag.CreatedAt, &flag.UpdatedAt); err != nil {
		return nil, fmt.Errorf("flags: insert failed: %w", err)
	}
	return flag, nil
}

// GetByID fetches a flag by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM flags WHERE id = $1`
	flag, err := scanFlag(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("flags: select failed: %w", err)
	}
	return flag, nil
}

// List returns flags matching the filter, priority first then newest.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM flags`

	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		conds = append(conds, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, filter.Priority)
	}
	if filter.PatientName != "" {
		conds = append(conds, fmt.Sprintf("patient_name = $%d", len(args)+1))
		args = append(args, filter.PatientName)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + priorityOrder + ", created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("flags: list failed: %w", err)
	}
	return collectFlags(rows)
}

// ListOpen returns every open flag.
func (r *PostgresRepository) ListOpen(ctx context.Context) ([]*Flag, error) {
	return r.List(ctx, ListFilter{Status: StatusOpen})
}

// Update applies a partial update and returns the new row.
func (r *PostgresRepository) Update(ctx context.Context, id string, req *UpdateFlagRequest) (*Flag, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if req.Title != nil {
		add("title", *req.Title)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Priority != nil {
		add("priority", *req.Priority)
	}
	if req.Status != nil {
		add("status", *req.Status)
	}
	if req.ResolutionNotes != nil {
		add("resolution_notes", *req.ResolutionNotes)
	}

	query := "UPDATE flags SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 RETURNING " + flagColumns
	flag, err := scanFlag(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("flags: update failed: %w", err)
	}
	return flag, nil
}

// Resolve marks a flag resolved by a nurse.
func (r *PostgresRepository) Resolve(ctx context.Context, id, resolvedBy, notes string) (*Flag, error) {
	query := `
		UPDATE flags
		SET status = 'resolved',
			resolved_by = $2,
			resolution_notes = $3,
			resolved_at = now(),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + flagColumns
	flag, err := scanFlag(r.pool.QueryRow(ctx, query, id, resolvedBy, notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("flags: resolve failed: %w", err)
	}
	return flag, nil
}

// Dismiss closes a flag without resolving it.
func (r *PostgresRepository) Dismiss(ctx context.Context, id, reason string) (*Flag, error) {
	query := `
		UPDATE flags
		SET status = 'dismissed', resolution_notes = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + flagColumns
	flag, err := scanFlag(r.pool.QueryRow(ctx, query, id, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, fmt.Errorf("flags: dismiss failed: %w", err)
	}
	return flag, nil
}

// CountOpen returns the number of open flags.
func (r *PostgresRepository) CountOpen(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM flags WHERE status = 'open'`).Scan(&count); err != nil {
		return 0, fmt.Errorf("flags: count open failed: %w", err)
	}
	return count, nil
}
