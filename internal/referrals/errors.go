package referrals

import "errors"

var (
	// ErrMissingPatientName is returned when the patient name is empty
	ErrMissingPatientName = errors.New("patient name is required")

	// ErrMissingPhone is returned when the patient phone is empty
	ErrMissingPhone = errors.New("patient phone is required")

	// ErrMissingSpecialty is returned when the specialist type is empty
	ErrMissingSpecialty = errors.New("specialist type is required")

	// ErrMissingScheduledDate is returned when a schedule request has no date
	ErrMissingScheduledDate = errors.New("scheduled date is required")

	// ErrReferralNotFound is returned when a referral is not found
	ErrReferralNotFound = errors.New("referral not found")

	// ErrNotSchedulable is returned when the referral's current status does
	// not allow scheduling
	ErrNotSchedulable = errors.New("only pending or needs-rebook referrals can be scheduled")
)
