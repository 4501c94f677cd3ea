package booking

import "errors"

// Booking-path errors surface synchronously to the caller; the caller is
// expected to re-query availability and retry with a fresh slot.
var (
	// ErrValidation marks malformed day/time input or an inconsistent
	// request (e.g. service and professional from different businesses).
	ErrValidation = errors.New("invalid booking request")

	// ErrConflict means the proposed interval overlaps an existing
	// pending/confirmed appointment or a manual block — the slot is no
	// longer available. No partial state is left behind.
	ErrConflict = errors.New("slot no longer available")
)
