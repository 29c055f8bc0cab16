package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/paycore/internal/gateway"
	"github.com/onnwee/paycore/internal/idempotency"
	"github.com/onnwee/paycore/internal/user"
)

var (
	// ErrUserNotFound is returned when the owning user does not exist.
	// No gateway call is made in that case.
	ErrUserNotFound = errors.New("user not found")

	// ErrIdempotencyConflict is returned when an idempotency token is
	// reused for a materially different request.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request body")

	// ErrRequestInFlight is returned when a request bearing the same
	// idempotency token has not completed yet. The client retries later
	// with the same token.
	ErrRequestInFlight = errors.New("a request with this idempotency key is already in flight")
)

// CreateRequest is the input for creating a payment.
type CreateRequest struct {
	UserID      string            `json:"user_id"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	ReturnURL   string            `json:"return_url"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CreateResult is the outcome of a create call. Replayed distinguishes a
// newly created payment from one served out of the idempotency ledger.
type CreateResult struct {
	Payment  *Payment `json:"payment"`
	Replayed bool     `json:"replayed"`
}

// Service drives the create-payment use case: existence check, idempotency
// claim, gateway call, persistence, ledger completion.
type Service struct {
	repo    Repository
	users   user.Repository
	ledger  *idempotency.Ledger
	gateway gateway.Client
	logger  *slog.Logger
	metrics *Metrics
}

// NewService creates a payment service. Metrics may be nil.
func NewService(
	repo Repository,
	users user.Repository,
	ledger *idempotency.Ledger,
	gw gateway.Client,
	logger *slog.Logger,
	metrics *Metrics,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		users:   users,
		ledger:  ledger,
		gateway: gw,
		logger:  logger,
		metrics: metrics,
	}
}

// CreatePayment creates a payment exactly-once-effectively under the given
// idempotency key. The key must already be validated as a UUID v4 by the
// boundary layer.
//
// A replayed result is byte-identical to the originally returned payment;
// no new gateway call or persistence write happens on replay.
func (s *Service) CreatePayment(ctx context.Context, req *CreateRequest, idempotencyKey string) (*CreateResult, error) {
	exists, err := s.users.ExistsByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	fingerprint, err := idempotency.Fingerprint(req)
	if err != nil {
		return nil, err
	}

	cached, err := s.ledger.Claim(ctx, idempotencyKey, fingerprint)
	switch {
	case errors.Is(err, idempotency.ErrConflict):
		if s.metrics != nil {
			s.metrics.ObserveConflict()
		}
		return nil, ErrIdempotencyConflict
	case errors.Is(err, idempotency.ErrInFlight):
		return nil, ErrRequestInFlight
	case err != nil:
		// Ledger unavailability is a hard failure; correctness depends on it.
		return nil, err
	}

	if cached != nil {
		var replayed Payment
		if err := json.Unmarshal(cached.CachedResult, &replayed); err != nil {
			return nil, fmt.Errorf("failed to decode cached payment result: %w", err)
		}
		if s.metrics != nil {
			s.metrics.ObserveReplay()
		}
		s.logger.InfoContext(ctx, "payment create replayed from ledger",
			"idempotency_key", idempotencyKey,
			"payment_id", replayed.ID,
		)
		return &CreateResult{Payment: &replayed, Replayed: true}, nil
	}

	// Claim acquired: this request is the only one for the key that will
	// reach the gateway. Every failure path below must release the claim
	// so a client retry is not permanently blocked.
	payment, err := s.createUpstream(ctx, req, idempotencyKey)
	if err != nil {
		if relErr := s.ledger.Release(ctx, idempotencyKey); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to release idempotency claim",
				"idempotency_key", idempotencyKey,
				"error", relErr,
			)
		}
		return nil, err
	}

	if err := s.ledger.Complete(ctx, idempotencyKey, fingerprint, payment); err != nil {
		// The payment exists; the claim stays in place until its TTL so a
		// retry within the window is answered as in-flight rather than
		// triggering a second creation.
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveCreated()
	}
	s.logger.InfoContext(ctx, "payment created",
		"payment_id", payment.ID,
		"external_id", payment.ExternalID,
		"status", string(payment.Status),
		"amount", payment.Amount,
		"currency", payment.Currency,
	)
	return &CreateResult{Payment: payment, Replayed: false}, nil
}

// createUpstream performs the gateway call and persists the result.
func (s *Service) createUpstream(ctx context.Context, req *CreateRequest, idempotencyKey string) (*Payment, error) {
	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	// The owning user reference travels in gateway metadata so a webhook
	// arriving before this request finishes can restore the local record.
	metadata[MetadataUserIDKey] = req.UserID

	gatewayReq := &gateway.CreateRequest{
		Amount: gateway.Amount{
			Value:    req.Amount,
			Currency: req.Currency,
		},
		Confirmation: gateway.ConfirmationRequest{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Capture:     true,
		Description: req.Description,
		Metadata:    metadata,
	}

	gatewayPayment, err := s.gateway.CreatePayment(ctx, gatewayReq, idempotencyKey)
	if err != nil {
		return nil, err
	}

	payment, err := fromGatewayPayment(gatewayPayment, req.UserID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.repo.Insert(ctx, payment)
	if errors.Is(err, ErrDuplicateExternalID) {
		// A concurrent path already inserted the same external ID; treat
		// as already created and re-read.
		return s.repo.GetByExternalID(ctx, payment.ExternalID)
	}
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// GetPayment retrieves a payment by its internal ID.
func (s *Service) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.repo.GetByID(ctx, id)
}

// MapStatus translates a gateway status into the domain vocabulary.
// waiting_for_capture is not final and not yet paid from the domain's point
// of view, so it maps to pending.
func MapStatus(gatewayStatus string) (Status, error) {
	switch gatewayStatus {
	case gateway.StatusPending, gateway.StatusWaitingForCapture:
		return StatusPending, nil
	case gateway.StatusSucceeded:
		return StatusSucceeded, nil
	case gateway.StatusCanceled:
		return StatusCanceled, nil
	default:
		return "", fmt.Errorf("unknown gateway payment status %q", gatewayStatus)
	}
}

// fromGatewayPayment maps a verified gateway payment into a domain Payment
// owned by userID.
func fromGatewayPayment(gp *gateway.Payment, userID string) (*Payment, error) {
	status, err := MapStatus(gp.Status)
	if err != nil {
		return nil, err
	}

	p := &Payment{
		ExternalID:  gp.ID,
		UserID:      userID,
		Status:      status,
		Paid:        gp.Paid,
		Amount:      gp.Amount.Value,
		Currency:    gp.Amount.Currency,
		Description: gp.Description,
		Metadata:    gp.Metadata,
		CapturedAt:  gp.CapturedAt,
	}
	if gp.Confirmation != nil {
		p.ConfirmationURL = gp.Confirmation.ConfirmationURL
	}
	if gp.PaymentMethod != nil {
		p.PaymentMethodType = gp.PaymentMethod.Type
	}
	if status == StatusCanceled && gp.CancellationDetails != nil {
		p.CancellationParty = gp.CancellationDetails.Party
		p.CancellationReason = gp.CancellationDetails.Reason
		p.CanceledAt = gp.CanceledAt
	}
	return p, nil
}

// applyVerifiedStatus runs the verified gateway status through the state
// machine and the conditional persistence update. It is the single
// transition authority shared by the creation and reconciliation paths.
//
// Returns the current payment, whether a mutation actually occurred, and an
// *InvalidTransitionError when the machine rejects the move (callers on the
// webhook path downgrade that to a no-op).
func applyVerifiedStatus(ctx context.Context, repo Repository, p *Payment, gp *gateway.Payment) (*Payment, bool, error) {
	target, err := MapStatus(gp.Status)
	if err != nil {
		return p, false, err
	}

	if _, err := Transition(p.Status, target); err != nil {
		return p, false, err
	}

	if p.Status == target {
		// pending -> pending: idempotent replay, nothing to write.
		return p, false, nil
	}

	update := StatusUpdate{
		Status: target,
		Paid:   gp.Paid,
	}
	switch target {
	case StatusSucceeded:
		update.CapturedAt = gp.CapturedAt
	case StatusCanceled:
		update.CanceledAt = gp.CanceledAt
		if gp.CancellationDetails != nil {
			update.CancellationParty = gp.CancellationDetails.Party
			update.CancellationReason = gp.CancellationDetails.Reason
		}
	}

	updated, err := repo.UpdateStatus(ctx, p.ID, p.Status, update)
	if errors.Is(err, ErrStaleStatus) {
		// A concurrent transition won the conditional update. Re-read and
		// report no mutation from this caller.
		fresh, readErr := repo.GetByID(ctx, p.ID)
		if readErr != nil {
			return p, false, readErr
		}
		return fresh, false, nil
	}
	if err != nil {
		return p, false, err
	}
	return updated, true, nil
}
