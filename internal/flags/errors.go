package flags

import "errors"

var (
	// ErrMissingPatientName is returned when the patient name is empty
	ErrMissingPatientName = errors.New("patient name is required")

	// ErrMissingTitle is returned when the flag title is empty
	ErrMissingTitle = errors.New("title is required")

	// ErrTitleTooLong is returned when the flag title exceeds 200 characters
	ErrTitleTooLong = errors.New("title must be 200 characters or fewer")

	// ErrFlagNotFound is returned when a flag is not found
	ErrFlagNotFound = errors.New("flag not found")
)
