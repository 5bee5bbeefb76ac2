package patients

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// ErrPatientNotFound is returned when no patient matches the lookup.
var ErrPatientNotFound = errors.New("patient not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Patient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, full_name, phones, email, date_of_birth, primary_nurse, notes, created_at, updated_at
		FROM patients ORDER BY full_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.FullName, pq.Array(&p.Phones), &p.Email,
			&p.DateOfBirth, &p.PrimaryNurse, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.Phones == nil {
			p.Phones = []string{}
		}
		out = append(out, p)
	}
	if out == nil {
		out = []Patient{}
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, phones, email, date_of_birth, primary_nurse, notes, created_at, updated_at
		FROM patients WHERE id = $1`, id).Scan(
		&p.ID, &p.FullName, pq.Array(&p.Phones), &p.Email,
		&p.DateOfBirth, &p.PrimaryNurse, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Phones == nil {
		p.Phones = []string{}
	}
	return &p, nil
}

// FindByName looks a patient up by exact full name. The voice agent only
// knows patients by spoken name, so the webhook processor uses this to
// attach a referral id to the follow-up flag when it can.
func (r *Repository) FindByName(ctx context.Context, fullName string) (*Patient, error) {
	var p Patient
	err := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, phones, email, date_of_birth, primary_nurse, notes, created_at, updated_at
		FROM patients WHERE lower(full_name) = lower($1)
		ORDER BY updated_at DESC LIMIT 1`, fullName).Scan(
		&p.ID, &p.FullName, pq.Array(&p.Phones), &p.Email,
		&p.DateOfBirth, &p.PrimaryNurse, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Phones == nil {
		p.Phones = []string{}
	}
	return &p, nil
}

func (r *Repository) Upsert(ctx context.Context, p *Patient) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO patients (id, full_name, phones, email, date_of_birth, primary_nurse, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (id) DO UPDATE SET
		    full_name=EXCLUDED.full_name, phones=EXCLUDED.phones, email=EXCLUDED.email,
		    date_of_birth=EXCLUDED.date_of_birth, primary_nurse=EXCLUDED.primary_nurse,
		    notes=EXCLUDED.notes, updated_at=$8`,
		p.ID, p.FullName, pq.Array(p.Phones), p.Email, p.DateOfBirth, p.PrimaryNurse, p.Notes, now)
	return err
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, id)
	return err
}
