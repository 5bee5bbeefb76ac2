package calls

import "errors"

// ErrCallNotFound is returned when no call log matches the lookup.
var ErrCallNotFound = errors.New("call not found")

// ErrMissingPhone is returned when an outbound call request has no phone number.
var ErrMissingPhone = errors.New("phone_number is required")
