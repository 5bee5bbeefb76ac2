package referrals

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for referral storage.
type Repository interface {
	Create(ctx context.Context, req *CreateReferralRequest) (*Referral, error)
	GetByID(ctx context.Context, id string) (*Referral, error)
	List(ctx context.Context, filter ListFilter) ([]*Referral, error)
	Update(ctx context.Context, id string, req *UpdateReferralRequest) (*Referral, error)

	// Schedule books a PENDING or NEEDS_REBOOK referral; any other status
	// returns ErrNotSchedulable.
	Schedule(ctx context.Context, id string, when time.Time, notes string) (*Referral, error)

	// Reschedule moves an existing booking and records the reason in notes.
	Reschedule(ctx context.Context, id string, when time.Time, reason string) (*Referral, error)

	// RescheduleByPatientName updates every active referral for the named
	// patient to the new time. The voice agent identifies patients by
	// spoken name, not by id, so this is the write the call bridge makes.
	// Returns the number of rows updated; zero rows is ErrReferralNotFound.
	RescheduleByPatientName(ctx context.Context, patientName string, when time.Time) (int64, error)

	MarkMissed(ctx context.Context, id string) (*Referral, error)
	MarkAttended(ctx context.Context, id string) (*Referral, error)
	Cancel(ctx context.Context, id string) error

	// Overdue returns referrals needing nurse attention: PENDING older than
	// the threshold, SCHEDULED with a past date, or NEEDS_REBOOK untouched
	// for a week.
	Overdue(ctx context.Context, olderThanDays int) ([]*Referral, error)

	// UnavailableSlots returns the booked times for a specialty. The call
	// initiator hands these to the voice agent so it never offers a taken
	// slot.
	UnavailableSlots(ctx context.Context, specialistType string) ([]time.Time, error)

	Stats(ctx context.Context) (*Stats, error)
}

// InMemoryRepository is an in-memory Repository used in tests and local dev.
type InMemoryRepository struct {
	mu        sync.RWMutex
	referrals map[string]*Referral
	now       func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		referrals: make(map[string]*Referral),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create creates a new referral with status PENDING.
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateReferralRequest) (*Referral, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = UrgencyRoutine
	}

	now := r.now()
	ref := &Referral{
		ID:             uuid.New().String(),
		PatientName:    req.PatientName,
		PatientPhone:   req.PatientPhone,
		PatientEmail:   req.PatientEmail,
		PatientDOB:     req.PatientDOB,
		Condition:      req.Condition,
		SpecialistType: normalizeSpecialty(req.SpecialistType),
		Urgency:        urgency,
		IsHighRisk:     req.IsHighRisk,
		Status:         StatusPending,
		ReferralDate:   now,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.mu.Lock()
	r.referrals[ref.ID] = ref
	r.mu.Unlock()

	return ref, nil
}

// GetByID retrieves a referral by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	return ref, nil
}

// List returns referrals matching the filter, newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specialty := normalizeSpecialty(filter.SpecialistType)

	var out []*Referral
	for _, ref := range r.referrals {
		if filter.Date != "" {
			if ref.ScheduledDate == nil || ref.ScheduledDate.UTC().Format("2006-01-02") != filter.Date {
				continue
			}
		}
		if filter.Status != "" && ref.Status != filter.Status {
			continue
		}
		if specialty != "" && ref.SpecialistType != specialty {
			continue
		}
		if filter.PatientName != "" && ref.PatientName != filter.PatientName {
			continue
		}
		if filter.HighRisk != nil && ref.IsHighRisk != *filter.HighRisk {
			continue
		}
		out = append(out, ref)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Update applies a partial update.
func (r *InMemoryRepository) Update(ctx context.Context, id string, req *UpdateReferralRequest) (*Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}

	if req.PatientPhone != nil {
		ref.PatientPhone = *req.PatientPhone
	}
	if req.PatientEmail != nil {
		ref.PatientEmail = *req.PatientEmail
	}
	if req.Condition != nil {
		ref.Condition = *req.Condition
	}
	if req.SpecialistType != nil {
		ref.SpecialistType = normalizeSpecialty(*req.SpecialistType)
	}
	if req.Urgency != nil {
		ref.Urgency = *req.Urgency
	}
	if req.IsHighRisk != nil {
		ref.IsHighRisk = *req.IsHighRisk
	}
	if req.Status != nil {
		ref.Status = *req.Status
	}
	if req.ScheduledDate != nil {
		d := req.ScheduledDate.UTC()
		ref.ScheduledDate = &d
	}
	if req.Notes != nil {
		ref.Notes = *req.Notes
	}
	ref.UpdatedAt = r.now()
	return ref, nil
}

// Schedule books a pending referral.
func (r *InMemoryRepository) Schedule(ctx context.Context, id string, when time.Time, notes string) (*Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	if ref.Status != StatusPending && ref.Status != StatusNeedsRebook {
		return nil, ErrNotSchedulable
	}

	d := when.UTC()
	ref.ScheduledDate = &d
	ref.Status = StatusScheduled
	ref.Notes = appendNote(ref.Notes, "Scheduled", notes)
	ref.UpdatedAt = r.now()
	return ref, nil
}

// Reschedule moves a referral to a new time.
func (r *InMemoryRepository) Reschedule(ctx context.Context, id string, when time.Time, reason string) (*Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}

	d := when.UTC()
	ref.ScheduledDate = &d
	ref.Status = StatusScheduled
	ref.Notes = appendNote(ref.Notes, "Rescheduled", reason)
	ref.UpdatedAt = r.now()
	return ref, nil
}

// RescheduleByPatientName updates all active referrals for a patient name.
func (r *InMemoryRepository) RescheduleByPatientName(ctx context.Context, patientName string, when time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated int64
	for _, ref := range r.referrals {
		if ref.PatientName != patientName {
			continue
		}
		if ref.Status == StatusCancelled || ref.Status == StatusAttended {
			continue
		}
		d := when.UTC()
		ref.ScheduledDate = &d
		ref.Status = StatusScheduled
		ref.UpdatedAt = r.now()
		updated++
	}
	if updated == 0 {
		return 0, ErrReferralNotFound
	}
	return updated, nil
}

// MarkMissed marks a referral as missed.
func (r *InMemoryRepository) MarkMissed(ctx context.Context, id string) (*Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	ref.Status = StatusMissed
	ref.UpdatedAt = r.now()
	return ref, nil
}

// MarkAttended marks a referral as attended and stamps the completion time.
func (r *InMemoryRepository) MarkAttended(ctx context.Context, id string) (*Referral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	now := r.now()
	ref.Status = StatusAttended
	ref.CompletedDate = &now
	ref.UpdatedAt = now
	return ref, nil
}

// Cancel marks a referral as cancelled.
func (r *InMemoryRepository) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.referrals[id]
	if !ok {
		return ErrReferralNotFound
	}
	ref.Status = StatusCancelled
	ref.UpdatedAt = r.now()
	return nil
}

// Overdue returns referrals that have sat too long without progress.
func (r *InMemoryRepository) Overdue(ctx context.Context, olderThanDays int) ([]*Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	pendingCutoff := now.AddDate(0, 0, -olderThanDays)
	rebookCutoff := now.AddDate(0, 0, -7)

	var out []*Referral
	for _, ref := range r.referrals {
		switch ref.Status {
		case StatusPending:
			if ref.ReferralDate.Before(pendingCutoff) {
				out = append(out, ref)
			}
		case StatusScheduled:
			if ref.ScheduledDate != nil && ref.ScheduledDate.Before(now) {
				out = append(out, ref)
			}
		case StatusNeedsRebook:
			if ref.UpdatedAt.Before(rebookCutoff) {
				out = append(out, ref)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ReferralDate.Before(out[j].ReferralDate)
	})
	return out, nil
}

// UnavailableSlots returns booked times for a specialty.
func (r *InMemoryRepository) UnavailableSlots(ctx context.Context, specialistType string) ([]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specialty := normalizeSpecialty(specialistType)

	var slots []time.Time
	for _, ref := range r.referrals {
		if ref.SpecialistType != specialty || ref.ScheduledDate == nil {
			continue
		}
		slots = append(slots, *ref.ScheduledDate)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots, nil
}

// Stats computes the referral dashboard counters.
func (r *InMemoryRepository) Stats(ctx context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	weekStart := startOfWeek(now)
	weekEnd := weekStart.AddDate(0, 0, 7)
	overdueCutoff := now.AddDate(0, 0, -14)

	stats := &Stats{}
	for _, ref := range r.referrals {
		active := ref.Status != StatusAttended && ref.Status != StatusCancelled
		if active {
			stats.TotalActive++
			if ref.IsHighRisk {
				stats.HighRiskActive++
			}
		}
		switch ref.Status {
		case StatusPending:
			stats.PendingCount++
			if ref.ReferralDate.Before(overdueCutoff) {
				stats.OverduePending++
			}
		case StatusScheduled:
			stats.ScheduledCount++
			if ref.ScheduledDate != nil && !ref.ScheduledDate.Before(weekStart) && ref.ScheduledDate.Before(weekEnd) {
				stats.ScheduledThisWeek++
			}
		case StatusMissed:
			stats.MissedCount++
		case StatusEscalated:
			stats.EscalatedCount++
		}
	}
	return stats, nil
}

// startOfWeek truncates to Monday 00:00 UTC, matching Postgres date_trunc('week').
func startOfWeek(t time.Time) time.Time {
	t = t.UTC()
	day := t.Truncate(24 * time.Hour)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return day.AddDate(0, 0, 1-weekday)
}
