package draw

import (
	"errors"
	"fmt"
)

const (
	ReasonInsufficientParticipants = "insufficient participants"
	ReasonOverRestricted           = "constraints over-restrict the roster"
)

// ErrInvariantViolation is returned when a generated assignment fails
// verification. It always indicates a bug, never bad input.
var ErrInvariantViolation = errors.New("draw: assignment violates invariants")

// ValidationError rejects a roster before any generation work.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "draw: invalid roster: " + e.Reason
}

// InfeasibleError reports that no valid assignment exists for the roster.
type InfeasibleError struct {
	Reason string
	Detail string
}

func (e *InfeasibleError) Error() string {
	if e.Detail == "" {
		return "draw: infeasible: " + e.Reason
	}
	return fmt.Sprintf("draw: infeasible: %s (%s)", e.Reason, e.Detail)
}
