package db

import "errors"

// Store-level sentinels. Callers match with errors.Is and translate into
// their own surface (HTTP status, job reason codes).
var (
	// ErrNotFound is returned on point lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrOverlap is returned when a reserving write would intersect an
	// existing pending/confirmed appointment or a manual block.
	ErrOverlap = errors.New("interval overlaps an existing booking")
)
