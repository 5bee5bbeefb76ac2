package calls

import "time"

// Status tracks the lifecycle of one call attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
)

// Outcome records how a completed call went. Empty until the bridge or the
// post-call webhook reports one.
type Outcome string

const (
	OutcomeRescheduled       Outcome = "rescheduled"
	OutcomeDeclined          Outcome = "declined"
	OutcomeNoAnswer          Outcome = "no_answer"
	OutcomeVoicemail         Outcome = "voicemail"
	OutcomeCallbackRequested Outcome = "callback_requested"
	OutcomeInvalidNumber     Outcome = "invalid_number"
	OutcomeFailed            Outcome = "failed"
)

// Direction distinguishes calls we place from calls patients make to us.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// CallLog is the durable record of one call attempt. The live Redis state is
// ephemeral; this row is what the dashboard and audits read after the call.
type CallLog struct {
	ID              string     `json:"id"`
	ReferralID      string     `json:"referral_id,omitempty"`
	PatientName     string     `json:"patient_name"`
	PatientPhone    string     `json:"patient_phone"`
	Direction       Direction  `json:"direction"`
	Status          Status     `json:"status"`
	Outcome         Outcome    `json:"outcome,omitempty"`
	ProviderCallSID string     `json:"provider_call_sid,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OutboundCallRequest is the payload for placing a call. DynamicVariables are
// handed to the voice agent verbatim, plus whatever enrichment the initiator
// adds.
type OutboundCallRequest struct {
	PhoneNumber      string            `json:"phone_number"`
	ReferralID       string            `json:"referral_id,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
}

// Validate checks required fields for an outbound call request.
func (r *OutboundCallRequest) Validate() error {
	if r.PhoneNumber == "" {
		return ErrMissingPhone
	}
	return nil
}

// CallResult is the placement response. A provider rejection is reported
// here, not as a transport error, so callers always get a structured answer.
type CallResult struct {
	Success bool   `json:"success"`
	CallSID string `json:"call_sid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dynamic variable keys the initiator reads or writes.
const (
	// VarPatientName is the spoken name the agent greets the patient with.
	VarPatientName = "patient_name"
	// VarSpecialistType keys the availability lookup during enrichment.
	VarSpecialistType = "specialist_type"
	// VarUnavailableTimes is written by the initiator: a JSON array of
	// RFC3339 times already booked for the specialty.
	VarUnavailableTimes = "unavailable_times"
)
