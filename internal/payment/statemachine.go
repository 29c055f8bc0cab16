package payment

import "fmt"

// InvalidTransitionError is returned when a status transition is not
// permitted. It carries both states for diagnostics.
type InvalidTransitionError struct {
	From Status
	To   Status
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid payment status transition from %q to %q", e.From, e.To)
}

// CanTransition reports whether a payment may move from current to proposed.
// Final states reject every transition, including to themselves. From
// pending, the allowed moves are pending (idempotent replay), succeeded,
// and canceled. The function is pure; it knows nothing about persistence,
// webhooks, or the gateway, and is shared by the creation and
// reconciliation paths so there is a single transition authority.
func CanTransition(current, proposed Status) bool {
	if current != StatusPending {
		return false
	}
	return proposed.Valid()
}

// Transition returns proposed if the move from current is allowed, or an
// *InvalidTransitionError otherwise.
func Transition(current, proposed Status) (Status, error) {
	if !CanTransition(current, proposed) {
		return "", &InvalidTransitionError{From: current, To: proposed}
	}
	return proposed, nil
}
