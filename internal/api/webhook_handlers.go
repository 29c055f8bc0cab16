package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/paycore/internal/gateway"
	"github.com/onnwee/paycore/internal/middleware"
	"github.com/onnwee/paycore/internal/payment"
)

// WebhookHandlers holds dependencies for webhook-related HTTP handlers.
type WebhookHandlers struct {
	reconciler *payment.Reconciler
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(reconciler *payment.Reconciler) *WebhookHandlers {
	return &WebhookHandlers{
		reconciler: reconciler,
	}
}

// HandleGatewayWebhook processes payment notifications from the gateway.
// POST /webhooks/gateway
//
// Ignored notifications (forged, stale, duplicated, out of order) are
// acknowledged with 200 so the gateway stops redelivering them; only
// genuine internal failures return 5xx.
func (h *WebhookHandlers) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var notification payment.Notification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to parse notification body")
		return
	}

	result, err := h.reconciler.ProcessWebhook(ctx, &notification)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrRestorationFailed):
			// Permanent data-loss risk; never swallowed.
			slog.ErrorContext(ctx, "webhook restoration failed",
				"external_id", notification.Object.ID,
				"error", err,
			)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to reconcile payment")

		case errors.Is(err, gateway.ErrUpstreamUnavailable):
			// Verification could not run; 5xx makes the gateway redeliver.
			ctx = middleware.SetErrorCode(ctx, ErrCodeUpstreamUnavailable)
			WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable, "verification against gateway failed")

		default:
			slog.ErrorContext(ctx, "webhook processing failed",
				"external_id", notification.Object.ID,
				"error", err,
			)
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to process webhook")
		}
		return
	}

	WriteJSON(w, ctx, http.StatusOK, result)
}
