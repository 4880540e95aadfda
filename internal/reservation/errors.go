// ABOUTME: Error taxonomy for reservation operations
// ABOUTME: Validation, not-found, not-owner and overlap invariant errors

package reservation

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a reservation ID or task ID is unknown.
var ErrNotFound = errors.New("reservation not found")

// ErrNotOwner is returned when a caller acts on another requester's reservation.
var ErrNotOwner = errors.New("reservation owned by another requester")

// ValidationError reports a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// OverlapError reports that a state change would break the no-overlap invariant.
// It indicates a coordination bug between the resolver and the engine; it is
// never an expected outcome.
type OverlapError struct {
	DeviceID    string
	Reservation string
	Conflicting string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("reservation %s overlaps %s on device %s", e.Reservation, e.Conflicting, e.DeviceID)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsOverlap reports whether err is (or wraps) an OverlapError.
func IsOverlap(err error) bool {
	var oe *OverlapError
	return errors.As(err, &oe)
}
