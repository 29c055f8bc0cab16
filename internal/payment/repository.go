package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPaymentNotFound is returned when a payment record is not found.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateExternalID is returned when inserting a payment whose
	// external ID already exists. Callers treat this as "already created"
	// and re-read the existing row.
	ErrDuplicateExternalID = errors.New("payment with external id already exists")

	// ErrStaleStatus is returned by UpdateStatus when the row is no longer
	// in the expected current status. A concurrent transition won; callers
	// re-read and re-evaluate.
	ErrStaleStatus = errors.New("payment status changed concurrently")
)

// Repository defines persistence operations for payment records.
// Insert must fail distinctly on a unique external_id violation, and
// UpdateStatus must be a single-row conditional update so that concurrent
// transitions for the same payment are safe without external locking.
type Repository interface {
	Insert(ctx context.Context, p *Payment) (*Payment, error)
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*Payment, error)

	// UpdateStatus applies update to the payment iff it is still in the
	// `from` status. Returns the updated payment, ErrPaymentNotFound if no
	// such row exists, or ErrStaleStatus if the row left `from` concurrently.
	UpdateStatus(ctx context.Context, id string, from Status, update StatusUpdate) (*Payment, error)
}

// InMemoryRepository implements Repository with in-memory storage.
// Used for testing and development.
type InMemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*Payment
	byExternal map[string]string // external_id -> id
}

// NewInMemoryRepository creates a new in-memory payment repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:       make(map[string]*Payment),
		byExternal: make(map[string]string),
	}
}

// Insert adds a new payment record, enforcing external_id uniqueness.
func (r *InMemoryRepository) Insert(_ context.Context, p *Payment) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byExternal[p.ExternalID]; exists {
		return nil, ErrDuplicateExternalID
	}

	copied := copyPayment(p)
	if copied.ID == "" {
		copied.ID = uuid.New().String()
	}
	now := time.Now()
	if copied.CreatedAt == nil {
		copied.CreatedAt = &now
	}
	copied.UpdatedAt = &now

	r.byID[copied.ID] = copied
	r.byExternal[copied.ExternalID] = copied.ID

	return copyPayment(copied), nil
}

// GetByID retrieves a payment by its internal ID.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

// GetByExternalID retrieves a payment by its gateway-assigned ID.
func (r *InMemoryRepository) GetByExternalID(_ context.Context, externalID string) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return copyPayment(r.byID[id]), nil
}

// UpdateStatus applies update iff the payment is still in the `from` status.
func (r *InMemoryRepository) UpdateStatus(_ context.Context, id string, from Status, update StatusUpdate) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if p.Status != from {
		return nil, ErrStaleStatus
	}

	p.Status = update.Status
	p.Paid = update.Paid
	p.CancellationParty = update.CancellationParty
	p.CancellationReason = update.CancellationReason
	p.CanceledAt = copyTime(update.CanceledAt)
	p.CapturedAt = copyTime(update.CapturedAt)
	now := time.Now()
	p.UpdatedAt = &now

	return copyPayment(p), nil
}

// copyPayment creates a deep copy to prevent external mutation.
func copyPayment(p *Payment) *Payment {
	if p == nil {
		return nil
	}
	copied := *p
	if p.Metadata != nil {
		copied.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			copied.Metadata[k] = v
		}
	}
	copied.CanceledAt = copyTime(p.CanceledAt)
	copied.CapturedAt = copyTime(p.CapturedAt)
	copied.CreatedAt = copyTime(p.CreatedAt)
	copied.UpdatedAt = copyTime(p.UpdatedAt)
	return &copied
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
