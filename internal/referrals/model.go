package referrals

import (
	"strings"
	"time"
)

// Status tracks a referral through the missed-appointment workflow.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusScheduled   Status = "SCHEDULED"
	StatusMissed      Status = "MISSED"
	StatusNeedsRebook Status = "NEEDS_REBOOK"
	StatusAttended    Status = "ATTENDED"
	StatusCancelled   Status = "CANCELLED"
	StatusEscalated   Status = "ESCALATED"
)

// Urgency classifies how quickly a referral should be seen.
type Urgency string

const (
	UrgencyRoutine  Urgency = "ROUTINE"
	UrgencyUrgent   Urgency = "URGENT"
	UrgencyEmergent Urgency = "EMERGENT"
)

// Referral is a patient referral to a specialist. Patient identity is
// embedded on the record so the calling workflow never needs a join to
// know who to phone.
type Referral struct {
	ID             string     `json:"id"`
	PatientName    string     `json:"patient_name"`
	PatientPhone   string     `json:"patient_phone"`
	PatientEmail   string     `json:"patient_email,omitempty"`
	PatientDOB     string     `json:"patient_dob,omitempty"`
	Condition      string     `json:"condition,omitempty"`
	SpecialistType string     `json:"specialist_type"`
	Urgency        Urgency    `json:"urgency"`
	IsHighRisk     bool       `json:"is_high_risk"`
	Status         Status     `json:"status"`
	ReferralDate   time.Time  `json:"referral_date"`
	ScheduledDate  *time.Time `json:"scheduled_date,omitempty"`
	CompletedDate  *time.Time `json:"completed_date,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateReferralRequest is the request body for creating a referral.
type CreateReferralRequest struct {
	PatientName    string  `json:"patient_name"`
	PatientPhone   string  `json:"patient_phone"`
	PatientEmail   string  `json:"patient_email"`
	PatientDOB     string  `json:"patient_dob"`
	Condition      string  `json:"condition"`
	SpecialistType string  `json:"specialist_type"`
	Urgency        Urgency `json:"urgency"`
	IsHighRisk     bool    `json:"is_high_risk"`
	Notes          string  `json:"notes"`
}

// Validate validates the create referral request.
func (r *CreateReferralRequest) Validate() error {
	if strings.TrimSpace(r.PatientName) == "" {
		return ErrMissingPatientName
	}
	if strings.TrimSpace(r.PatientPhone) == "" {
		return ErrMissingPhone
	}
	if strings.TrimSpace(r.SpecialistType) == "" {
		return ErrMissingSpecialty
	}
	return nil
}

// UpdateReferralRequest carries a partial update; nil fields are left as-is.
type UpdateReferralRequest struct {
	PatientPhone   *string    `json:"patient_phone,omitempty"`
	PatientEmail   *string    `json:"patient_email,omitempty"`
	Condition      *string    `json:"condition,omitempty"`
	SpecialistType *string    `json:"specialist_type,omitempty"`
	Urgency        *Urgency   `json:"urgency,omitempty"`
	IsHighRisk     *bool      `json:"is_high_risk,omitempty"`
	Status         *Status    `json:"status,omitempty"`
	ScheduledDate  *time.Time `json:"scheduled_date,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

// ScheduleRequest books a pending referral into a concrete slot.
type ScheduleRequest struct {
	ScheduledDate time.Time `json:"scheduled_date"`
	Notes         string    `json:"notes"`
}

// Validate validates the schedule request.
func (r *ScheduleRequest) Validate() error {
	if r.ScheduledDate.IsZero() {
		return ErrMissingScheduledDate
	}
	return nil
}

// RescheduleRequest moves an already-booked referral to a new time.
type RescheduleRequest struct {
	NewDatetime time.Time `json:"new_datetime"`
	Reason      string    `json:"reason"`
}

// Validate validates the reschedule request.
func (r *RescheduleRequest) Validate() error {
	if r.NewDatetime.IsZero() {
		return ErrMissingScheduledDate
	}
	return nil
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	// Date restricts to referrals scheduled on a calendar day (YYYY-MM-DD).
	Date           string
	Status         Status
	SpecialistType string
	PatientName    string
	HighRisk       *bool
	Limit          int
	Offset         int
}

// Stats is the referral-side slice of the nurse dashboard counters.
type Stats struct {
	TotalActive       int `json:"total_active"`
	PendingCount      int `json:"pending_count"`
	ScheduledCount    int `json:"scheduled_count"`
	MissedCount       int `json:"missed_count"`
	EscalatedCount    int `json:"escalated_count"`
	HighRiskActive    int `json:"high_risk_active"`
	ScheduledThisWeek int `json:"scheduled_this_week"`
	OverduePending    int `json:"overdue_pending"`
}

// normalizeSpecialty upper-cases the specialist type so lookups by
// specialty match regardless of the caller's casing.
func normalizeSpecialty(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// appendNote appends a labeled line to existing notes, preserving history.
func appendNote(existing, label, note string) string {
	if strings.TrimSpace(note) == "" {
		return existing
	}
	return strings.TrimSpace(existing + "\n\n" + label + ": " + note)
}
