// Package payment provides the payment domain model, status transition
// rules, and the create/reconcile services built on top of them.
package payment

import "time"

// Status represents the lifecycle state of a payment.
type Status string

// Payment status values. Succeeded and Canceled are final: once reached,
// no further transition is permitted.
const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusCanceled  Status = "canceled"
)

// Valid reports whether s is one of the known payment statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusCanceled:
		return true
	}
	return false
}

// Final reports whether s is a terminal status.
func (s Status) Final() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// MetadataUserIDKey is the metadata key under which the owning user's ID is
// carried to the gateway. Webhook restoration depends on this key surviving
// the round trip; if the gateway drops custom metadata, restoration fails.
const MetadataUserIDKey = "user_id"

// Payment represents a payment record mirroring the gateway of record.
// Amounts are exact decimal strings with two fraction digits, never floats.
type Payment struct {
	ID                 string            `json:"id"`
	ExternalID         string            `json:"external_id"` // gateway-assigned, globally unique
	UserID             string            `json:"user_id"`
	Status             Status            `json:"status"`
	Paid               bool              `json:"paid"`
	Amount             string            `json:"amount"`
	Currency           string            `json:"currency"`
	ConfirmationURL    string            `json:"confirmation_url,omitempty"`
	PaymentMethodType  string            `json:"payment_method_type,omitempty"`
	Description        string            `json:"description,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CancellationParty  string            `json:"cancellation_party,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	CapturedAt         *time.Time        `json:"captured_at,omitempty"`
	CreatedAt          *time.Time        `json:"created_at,omitempty"`
	UpdatedAt          *time.Time        `json:"updated_at,omitempty"`
}

// StatusUpdate carries the fields applied together with a status transition.
// Cancellation details are only populated on transitions to canceled, and
// CapturedAt only on transitions to succeeded.
type StatusUpdate struct {
	Status             Status
	Paid               bool
	CancellationParty  string
	CancellationReason string
	CanceledAt         *time.Time
	CapturedAt         *time.Time
}
