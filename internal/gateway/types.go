// Package gateway provides the HTTP client for the external payment gateway
// of record, including bounded retry with backoff for calls whose outcome
// may be unknown.
package gateway

import "time"

// Payment statuses reported by the gateway. The gateway vocabulary is wider
// than the domain's: waiting_for_capture maps to the domain's pending.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// Amount is a monetary value as an exact decimal string plus ISO currency code.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// ConfirmationRequest tells the gateway how the payer confirms the payment.
type ConfirmationRequest struct {
	Type      string `json:"type"` // "redirect"
	ReturnURL string `json:"return_url,omitempty"`
}

// Confirmation is the gateway's confirmation descriptor on a created payment.
type Confirmation struct {
	Type            string `json:"type"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// PaymentMethod describes how the payment is (to be) made.
type PaymentMethod struct {
	Type string `json:"type,omitempty"`
}

// CancellationDetails explains who canceled a payment and why.
type CancellationDetails struct {
	Party  string `json:"party,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CreateRequest is the payload for creating a payment at the gateway.
type CreateRequest struct {
	Amount       Amount              `json:"amount"`
	Confirmation ConfirmationRequest `json:"confirmation"`
	Capture      bool                `json:"capture"`
	Description  string              `json:"description,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

// Payment is the gateway's representation of a payment. It is the source of
// truth; local state is always verified against it before being trusted.
type Payment struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Paid                bool                 `json:"paid"`
	Amount              Amount               `json:"amount"`
	Confirmation        *Confirmation        `json:"confirmation,omitempty"`
	PaymentMethod       *PaymentMethod       `json:"payment_method,omitempty"`
	Description         string               `json:"description,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
	CapturedAt          *time.Time           `json:"captured_at,omitempty"`
	CanceledAt          *time.Time           `json:"canceled_at,omitempty"`
	CreatedAt           *time.Time           `json:"created_at,omitempty"`
}

// apiError is the gateway's JSON error body.
type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}
