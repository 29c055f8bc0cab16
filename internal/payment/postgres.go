package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

const paymentColumns = `id, external_id, user_id, status, paid, amount_value, amount_currency,
	confirmation_url, payment_method_type, description, metadata,
	cancellation_party, cancellation_reason, canceled_at, captured_at, created_at, updated_at`

// Insert stores a new payment row. A unique violation on external_id is
// reported as ErrDuplicateExternalID so callers can re-read instead of failing.
func (r *PostgresRepository) Insert(ctx context.Context, p *Payment) (*Payment, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	metadata, err := marshalMetadata(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment metadata: %w", err)
	}

	query := `
		INSERT INTO payments (
			id, external_id, user_id, status, paid, amount_value, amount_currency,
			confirmation_url, payment_method_type, description, metadata,
			cancellation_party, cancellation_reason, canceled_at, captured_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING ` + paymentColumns

	row := r.db.QueryRowContext(ctx, query,
		id, p.ExternalID, p.UserID, string(p.Status), p.Paid, p.Amount, p.Currency,
		nullString(p.ConfirmationURL), nullString(p.PaymentMethodType), nullString(p.Description), metadata,
		nullString(p.CancellationParty), nullString(p.CancellationReason), nullTime(p.CanceledAt), nullTime(p.CapturedAt),
	)

	inserted, err := scanPayment(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicateExternalID
		}
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}
	return inserted, nil
}

// GetByID retrieves a payment by its internal ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by id: %w", err)
	}
	return p, nil
}

// GetByExternalID retrieves a payment by its gateway-assigned ID.
func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_id = $1`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by external id: %w", err)
	}
	return p, nil
}

// UpdateStatus applies update as a single-row conditional update. The WHERE
// clause on the current status is what makes concurrent transitions safe
// without application-level locks.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from Status, update StatusUpdate) (*Payment, error) {
	query := `
		UPDATE payments
		SET status = $3, paid = $4,
			cancellation_party = $5, cancellation_reason = $6,
			canceled_at = $7, captured_at = $8,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + paymentColumns

	row := r.db.QueryRowContext(ctx, query,
		id, string(from), string(update.Status), update.Paid,
		nullString(update.CancellationParty), nullString(update.CancellationReason),
		nullTime(update.CanceledAt), nullTime(update.CapturedAt),
	)

	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing row from a concurrent transition.
		var exists bool
		checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			return nil, fmt.Errorf("failed to check payment existence: %w", checkErr)
		}
		if !exists {
			return nil, ErrPaymentNotFound
		}
		return nil, ErrStaleStatus
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	return p, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanning.
type scanner interface {
	Scan(dest ...any) error
}

// scanPayment scans a full payment row.
func scanPayment(s scanner) (*Payment, error) {
	var (
		p                  Payment
		status             string
		confirmationURL    sql.NullString
		paymentMethodType  sql.NullString
		description        sql.NullString
		metadata           []byte
		cancellationParty  sql.NullString
		cancellationReason sql.NullString
		canceledAt         sql.NullTime
		capturedAt         sql.NullTime
		createdAt          time.Time
		updatedAt          time.Time
	)

	err := s.Scan(
		&p.ID, &p.ExternalID, &p.UserID, &status, &p.Paid, &p.Amount, &p.Currency,
		&confirmationURL, &paymentMethodType, &description, &metadata,
		&cancellationParty, &cancellationReason, &canceledAt, &capturedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = Status(status)
	p.ConfirmationURL = confirmationURL.String
	p.PaymentMethodType = paymentMethodType.String
	p.Description = description.String
	p.CancellationParty = cancellationParty.String
	p.CancellationReason = cancellationReason.String
	if canceledAt.Valid {
		t := canceledAt.Time
		p.CanceledAt = &t
	}
	if capturedAt.Valid {
		t := capturedAt.Time
		p.CapturedAt = &t
	}
	p.CreatedAt = &createdAt
	p.UpdatedAt = &updatedAt

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
		}
	}

	return &p, nil
}

// marshalMetadata encodes metadata as JSON for the jsonb column.
// An empty map is stored as NULL.
func marshalMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
