package patients

import "time"

// Patient is the normalized patient record behind the embedded identity
// fields on referrals. Referrals carry a denormalized copy so the calling
// workflow never needs a join; this table is the source of truth the nurse
// UI edits.
type Patient struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Phones       []string  `json:"phones"`
	Email        string    `json:"email,omitempty"`
	DateOfBirth  string    `json:"date_of_birth,omitempty"`
	PrimaryNurse string    `json:"primary_nurse,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
