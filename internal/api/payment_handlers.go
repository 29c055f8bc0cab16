package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/paycore/internal/gateway"
	"github.com/onnwee/paycore/internal/idempotency"
	"github.com/onnwee/paycore/internal/middleware"
	"github.com/onnwee/paycore/internal/payment"
	"github.com/onnwee/paycore/internal/validate"
)

// IdempotencyKeyHeader is the HTTP header carrying the client's idempotency token.
const IdempotencyKeyHeader = "Idempotency-Key"

// retryAfterInFlight is the Retry-After value returned when a duplicate
// request races an in-flight one.
const retryAfterInFlight = "1"

// retryAfterUpstream is the Retry-After value returned when the gateway is
// unavailable.
const retryAfterUpstream = "60"

// PaymentHandlers holds dependencies for payment-related HTTP handlers.
type PaymentHandlers struct {
	service *payment.Service
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(service *payment.Service) *PaymentHandlers {
	return &PaymentHandlers{
		service: service,
	}
}

// HandleCreatePayment creates a payment.
// POST /payments
//
// Responds 201 for a newly created payment and 200 when the result is
// replayed from the idempotency ledger.
func (h *PaymentHandlers) HandleCreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Idempotency-Key header is required")
		return
	}
	if err := idempotency.ValidateKey(key); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Idempotency-Key must be a UUID v4")
		return
	}

	var req payment.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "failed to parse request body")
		return
	}

	if msg, ok := validateCreateRequest(&req); !ok {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	result, err := h.service.CreatePayment(ctx, &req, key)
	if err != nil {
		h.writeCreateError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	WriteJSON(w, ctx, status, result.Payment)
}

// validateCreateRequest checks the request fields the orchestrator assumes
// are well-formed.
func validateCreateRequest(req *payment.CreateRequest) (string, bool) {
	if req.UserID == "" {
		return "user_id is required", false
	}
	if err := validate.Amount(req.Amount); err != nil {
		return err.Error(), false
	}
	if err := validate.Currency(req.Currency); err != nil {
		return err.Error(), false
	}
	if req.ReturnURL == "" {
		return "return_url is required", false
	}
	return "", true
}

// writeCreateError maps create-payment failures onto HTTP responses.
func (h *PaymentHandlers) writeCreateError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var apiErr *gateway.APIError
	switch {
	case errors.Is(err, payment.ErrUserNotFound):
		ctx = middleware.SetErrorCode(ctx, ErrCodeUserNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeUserNotFound, "user not found")

	case errors.Is(err, payment.ErrIdempotencyConflict):
		ctx = middleware.SetErrorCode(ctx, ErrCodeIdempotencyConflict)
		WriteError(w, ctx, http.StatusConflict, ErrCodeIdempotencyConflict,
			"this idempotency key was already used with a different request body")

	case errors.Is(err, payment.ErrRequestInFlight):
		ctx = middleware.SetErrorCode(ctx, ErrCodeRequestInFlight)
		w.Header().Set("Retry-After", retryAfterInFlight)
		WriteError(w, ctx, http.StatusConflict, ErrCodeRequestInFlight,
			"a request with this idempotency key is being processed; retry with the same key")

	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		// The outcome upstream is unknown, not negative. Retrying with the
		// same key within its 24-hour window is safe on both sides.
		ctx = middleware.SetErrorCode(ctx, ErrCodeUpstreamUnavailable)
		w.Header().Set("Retry-After", retryAfterUpstream)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUpstreamUnavailable,
			"payment gateway is unavailable; retry with the same Idempotency-Key")

	case errors.As(err, &apiErr):
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeBadRequest,
			"payment gateway rejected the request: "+apiErr.Description)

	default:
		slog.ErrorContext(ctx, "create payment failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

// HandleGetPayment retrieves a payment by ID.
// GET /payments/{id}
func (h *PaymentHandlers) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.PathValue("id")
	if id == "" {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "payment id is required")
		return
	}

	p, err := h.service.GetPayment(ctx, id)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "payment not found")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "get payment failed", "payment_id", id, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		return
	}

	WriteJSON(w, ctx, http.StatusOK, p)
}
