// Package fault defines the error taxonomy shared by every cabinet
// component. Handlers map kinds to HTTP status codes; the client maps them
// back, so a CLI user sees the same kind the daemon produced.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a cabinet error.
type Kind string

const (
	// Validation covers malformed addresses, out-of-range calibration
	// values and non-monotonic position tables. Rejected before any side
	// effect.
	Validation Kind = "validation"
	// Busy means the mechanism is already performing another operation.
	Busy Kind = "busy"
	// OutOfRange means a requested position exceeds calibrated travel
	// bounds. Rejected before motion.
	OutOfRange Kind = "out_of_range"
	// HardwareTimeout means a sensor-confirmed transition did not occur
	// within budget.
	HardwareTimeout Kind = "hardware_timeout"
	// MechanismFault means the motion controller is faulted and needs
	// homing recovery.
	MechanismFault Kind = "mechanism_fault"
	// NotFound means the referenced book, user or cell has no matching
	// state.
	NotFound Kind = "not_found"
)

// Error is a classified cabinet error.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is lets errors.Is match two cabinet errors by kind alone, so callers can
// compare against a bare kind sentinel without caring about the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, or "" if err is not a cabinet error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
