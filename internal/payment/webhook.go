package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/paycore/internal/gateway"
)

// ErrRestorationFailed is returned when a webhook cannot be reconciled
// because the owning-user reference is unrecoverable from gateway metadata.
// This is a data-integrity problem and must not be silently swallowed.
var ErrRestorationFailed = errors.New("cannot restore payment: owning user reference missing from gateway metadata")

// Ignore reasons reported by the reconciler. Webhook delivery is
// adversarial and unreliable by nature, so these are first-class successful
// outcomes, never errors.
const (
	ReasonMissingExternalID = "missing_external_id"
	ReasonPaymentNotFound   = "payment_not_found"
	ReasonStatusMismatch    = "status_mismatch"
)

// Notification is an untrusted webhook delivery from the gateway. It is
// never trusted as a data source, only as a trigger to verify the payment
// against the gateway.
type Notification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object gateway.Payment `json:"object"`
}

// WebhookResult is the structured outcome of processing a notification.
type WebhookResult struct {
	Processed     bool   `json:"processed"`
	Reason        string `json:"reason,omitempty"`
	Restored      bool   `json:"restored,omitempty"`
	StatusUpdated bool   `json:"status_updated,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
}

// Reconciler drives the webhook use case: verify via gateway fetch, check
// status coherence, restore a missing local record, and apply the verified
// status through the same transition authority the creation path uses.
type Reconciler struct {
	repo    Repository
	gateway gateway.Client
	logger  *slog.Logger
	metrics *Metrics
}

// NewReconciler creates a webhook reconciler. Metrics may be nil.
func NewReconciler(repo Repository, gw gateway.Client, logger *slog.Logger, metrics *Metrics) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:    repo,
		gateway: gw,
		logger:  logger,
		metrics: metrics,
	}
}

// ProcessWebhook reconciles local state with the gateway for the payment
// named by the notification. Duplicate, out-of-order, stale, and forged
// deliveries all resolve to benign no-op results.
func (r *Reconciler) ProcessWebhook(ctx context.Context, n *Notification) (*WebhookResult, error) {
	externalID := n.Object.ID
	if externalID == "" {
		return r.ignored(ctx, "", ReasonMissingExternalID), nil
	}

	// The gateway is the sole source of truth; fetch before believing
	// anything the notification claims.
	verified, err := r.gateway.GetPayment(ctx, externalID)
	if errors.Is(err, gateway.ErrNotFound) {
		// Forged or stale notification.
		return r.ignored(ctx, externalID, ReasonPaymentNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify payment %s at gateway: %w", externalID, err)
	}

	if n.Object.Status != verified.Status {
		return r.ignored(ctx, externalID, ReasonStatusMismatch), nil
	}

	local, restored, err := r.locateOrRestore(ctx, externalID, verified)
	if err != nil {
		return nil, err
	}

	updated, changed, err := applyVerifiedStatus(ctx, r.repo, local, verified)
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		// Already final or otherwise illegal: expected under duplicated and
		// out-of-order delivery, so a no-op rather than an error.
		r.logger.InfoContext(ctx, "webhook transition rejected, ignoring",
			"external_id", externalID,
			"from", string(invalid.From),
			"to", string(invalid.To),
		)
		changed = false
	} else if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ObserveWebhookProcessed()
	}
	r.logger.InfoContext(ctx, "webhook processed",
		"external_id", externalID,
		"payment_id", updated.ID,
		"status", string(updated.Status),
		"restored", restored,
		"status_updated", changed,
	)
	return &WebhookResult{
		Processed:     true,
		Restored:      restored,
		StatusUpdated: changed,
		PaymentID:     updated.ID,
	}, nil
}

// locateOrRestore finds the local payment row, or reconstructs it from the
// verified gateway data when the webhook won the race against the creating
// request. The returned bool reports whether this call inserted the row.
func (r *Reconciler) locateOrRestore(ctx context.Context, externalID string, verified *gateway.Payment) (*Payment, bool, error) {
	local, err := r.repo.GetByExternalID(ctx, externalID)
	if err == nil {
		return local, false, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return nil, false, err
	}

	userID := verified.Metadata[MetadataUserIDKey]
	if userID == "" {
		return nil, false, fmt.Errorf("%w: external_id=%s", ErrRestorationFailed, externalID)
	}

	restored, err := fromGatewayPayment(verified, userID)
	if err != nil {
		return nil, false, err
	}

	inserted, err := r.repo.Insert(ctx, restored)
	if errors.Is(err, ErrDuplicateExternalID) {
		// Another concurrent path restored (or created) it first; converge
		// on the existing row.
		existing, readErr := r.repo.GetByExternalID(ctx, externalID)
		if readErr != nil {
			return nil, false, readErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if r.metrics != nil {
		r.metrics.ObserveRestoration()
	}
	r.logger.WarnContext(ctx, "restored missing payment record from gateway data",
		"external_id", externalID,
		"payment_id", inserted.ID,
		"status", string(inserted.Status),
	)
	return inserted, true, nil
}

// ignored records and returns a benign skip outcome.
func (r *Reconciler) ignored(ctx context.Context, externalID, reason string) *WebhookResult {
	if r.metrics != nil {
		r.metrics.ObserveWebhookIgnored(reason)
	}
	r.logger.InfoContext(ctx, "webhook ignored",
		"external_id", externalID,
		"reason", reason,
	)
	return &WebhookResult{Processed: false, Reason: reason}
}
