package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the service and storage layers. Handlers map
// these onto transport status codes; everything else surfaces as internal.
var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate means an insert violated a uniqueness constraint.
	ErrDuplicate = errors.New("already exists")
	// ErrUnknownAgent means an address did not resolve to a live agent record.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNotOwner means the caller referenced a record another agent owns.
	ErrNotOwner = errors.New("not owner")
	// ErrNotRecipient means the caller is not a recipient of the message.
	ErrNotRecipient = errors.New("not a recipient")
	// ErrAlreadyReleased means the reservation was released earlier.
	ErrAlreadyReleased = errors.New("already released")
	// ErrLinkBlocked means a blocked link exists in the requested direction.
	ErrLinkBlocked = errors.New("link blocked")
	// ErrAlreadyDecided means a suggestion was already confirmed or dismissed
	// and the opposite transition is illegal.
	ErrAlreadyDecided = errors.New("already decided")
)

// ValidationError rejects malformed input before any store mutation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid request: " + e.Reason }

// Invalidf builds a ValidationError from a format string.
func Invalidf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a reservation request that overlaps active
// reservations held by other agents. Conflicts carries the full set so the
// caller can negotiate or wait.
type ConflictError struct {
	Conflicts []FileReservation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("path conflict with %d active reservation(s)", len(e.Conflicts))
}

// RecipientDenial names one recipient the policy resolver refused and why.
type RecipientDenial struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// DeliveryDeniedError fails a send atomically when any recipient is denied.
// No message or recipient rows exist after this error.
type DeliveryDeniedError struct {
	Denials []RecipientDenial
}

func (e *DeliveryDeniedError) Error() string {
	parts := make([]string, len(e.Denials))
	for i, d := range e.Denials {
		parts[i] = d.Recipient + ": " + d.Reason
	}
	return "delivery denied: " + strings.Join(parts, "; ")
}

// Denial reasons produced by the contact policy resolver.
const (
	DenyRecipientInactive = "recipient inactive"
	DenyBlocksAll         = "recipient blocks all contact"
	DenyLinkBlocked       = "link blocked"
	DenyNoContactPath     = "no contact path"
)

// Decision is the outcome of a contact-policy check. A pure value; the
// resolver never mutates state.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Allowed is the positive decision.
func Allowed() Decision { return Decision{Allow: true} }

// Denied carries the reason contact was refused.
func Denied(reason string) Decision { return Decision{Allow: false, Reason: reason} }
