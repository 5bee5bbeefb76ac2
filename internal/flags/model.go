package flags

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Priority orders flags on the nurse dashboard.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// rank positions a priority for sorting; lower sorts first.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// NeedsAlert reports whether the priority warrants an immediate nurse email.
func (p Priority) NeedsAlert() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// Status tracks a flag through nurse review.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusDismissed  Status = "dismissed"
)

// Flag is a follow-up item for a nurse: a patient who could not be
// rescheduled automatically, or any manually raised concern.
type Flag struct {
	ID              string     `json:"id"`
	ReferralID      string     `json:"referral_id,omitempty"`
	PatientName     string     `json:"patient_name"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Priority        Priority   `json:"priority"`
	Status          Status     `json:"status"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreateFlagRequest is the request body for creating a flag.
type CreateFlagRequest struct {
	ReferralID  string   `json:"referral_id"`
	PatientName string   `json:"patient_name"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

// Validate validates the create flag request.
func (r *CreateFlagRequest) Validate() error {
	if strings.TrimSpace(r.PatientName) == "" {
		return ErrMissingPatientName
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrMissingTitle
	}
	if utf8.RuneCountInString(r.Title) > 200 {
		return ErrTitleTooLong
	}
	return nil
}

// NewFollowUpFlag builds the canonical flag raised when an automated call
// cannot reschedule a patient. referralID may be empty when no referral
// matched the spoken name; the flag is still raised so the patient is never
// silently dropped.
func NewFollowUpFlag(patientName, referralID string, priority Priority) *CreateFlagRequest {
	if priority == "" {
		priority = PriorityMedium
	}
	return &CreateFlagRequest{
		ReferralID:  referralID,
		PatientName: patientName,
		Title:       fmt.Sprintf("Flagged: %s", patientName),
		Description: fmt.Sprintf("Patient %s has been flagged for follow-up from nurse.", patientName),
		Priority:    priority,
	}
}

// UpdateFlagRequest carries a partial update; nil fields are left as-is.
type UpdateFlagRequest struct {
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Priority        *Priority `json:"priority,omitempty"`
	Status          *Status   `json:"status,omitempty"`
	ResolutionNotes *string   `json:"resolution_notes,omitempty"`
}

// ResolveRequest closes a flag after the nurse has handled it.
type ResolveRequest struct {
	ResolvedBy      string `json:"resolved_by"`
	ResolutionNotes string `json:"resolution_notes"`
}

// DismissRequest closes a flag without action.
type DismissRequest struct {
	Reason string `json:"reason"`
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status      Status
	Priority    Priority
	PatientName string
	Limit       int
	Offset      int
}
