package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record states. An in-flight record is an exclusive claim held while the
// upstream call is running; a completed record carries the cached result.
const (
	StateInFlight  = "in_flight"
	StateCompleted = "completed"
)

var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("idempotency record not found")

	// ErrConflict is returned when a key is reused with a different
	// request fingerprint.
	ErrConflict = errors.New("idempotency key reused with a different request")

	// ErrInFlight is returned when a record for the key exists but the
	// original request has not completed yet.
	ErrInFlight = errors.New("request with this idempotency key is still in flight")

	// ErrInvalidKey is returned when the key is not a well-formed UUID v4.
	ErrInvalidKey = errors.New("idempotency key must be a UUID v4")
)

// DefaultTTL matches the upstream gateway's own idempotency window.
const DefaultTTL = 24 * time.Hour

// DefaultClaimTTL bounds how long an in-flight claim can block retries if
// the claiming process dies before releasing it. It comfortably exceeds the
// gateway call deadline including retries.
const DefaultClaimTTL = 5 * time.Minute

// Record is the ledger entry stored per idempotency key.
type Record struct {
	State              string          `json:"state"`
	RequestFingerprint string          `json:"request_fingerprint"`
	CachedResult       json.RawMessage `json:"cached_result,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ValidateKey checks that key is a well-formed, case-insensitive UUID v4.
func ValidateKey(key string) error {
	u, err := uuid.Parse(strings.ToLower(key))
	if err != nil || u.Version() != 4 {
		return ErrInvalidKey
	}
	return nil
}

// Ledger maps idempotency keys to request fingerprints and cached results.
// It is backed by a TTL key-value store; store unavailability is surfaced
// as a hard failure because correctness depends on it.
type Ledger struct {
	store    Store
	ttl      time.Duration
	claimTTL time.Duration
}

// NewLedger creates a ledger over the given store. Zero durations fall back
// to DefaultTTL and DefaultClaimTTL.
func NewLedger(store Store, ttl, claimTTL time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &Ledger{
		store:    store,
		ttl:      ttl,
		claimTTL: claimTTL,
	}
}

// normalize lowercases the key so lookups are case-insensitive.
func normalize(key string) string {
	return strings.ToLower(key)
}

// Get retrieves the record for key. Returns ErrNotFound if absent.
func (l *Ledger) Get(ctx context.Context, key string) (*Record, error) {
	data, err := l.store.Get(ctx, normalize(key))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Claim acquires an exclusive, TTL-bounded claim on key before the upstream
// call is made. The atomic set-if-absent is what closes the window where two
// concurrent requests bearing the same key could both reach the gateway.
//
// Outcomes:
//   - (nil, nil): the claim was acquired; the caller proceeds upstream and
//     must either Complete or Release the key.
//   - (record, nil): a completed record with a matching fingerprint exists;
//     the caller serves the cached result as a replay.
//   - ErrConflict: a record exists whose fingerprint differs.
//   - ErrInFlight: the original request holding the claim has not finished.
func (l *Ledger) Claim(ctx context.Context, key, fingerprint string) (*Record, error) {
	claim := Record{
		State:              StateInFlight,
		RequestFingerprint: fingerprint,
		CreatedAt:          time.Now().UTC(),
	}
	data, err := json.Marshal(claim)
	if err != nil {
		return nil, fmt.Errorf("failed to encode idempotency claim: %w", err)
	}

	acquired, err := l.store.SetNX(ctx, normalize(key), data, l.claimTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire idempotency claim: %w", err)
	}
	if acquired {
		return nil, nil
	}

	existing, err := l.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		// The competing record expired between SetNX and Get. Treat as
		// in flight; the client retries and wins the claim next time.
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, err
	}

	if existing.RequestFingerprint != fingerprint {
		return nil, ErrConflict
	}
	if existing.State == StateInFlight {
		return nil, ErrInFlight
	}
	return existing, nil
}

// Complete upgrades the in-flight claim to the final cached result, setting
// the full 24-hour expiry.
func (l *Ledger) Complete(ctx context.Context, key, fingerprint string, result any) error {
	cached, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode cached result: %w", err)
	}
	rec := Record{
		State:              StateCompleted,
		RequestFingerprint: fingerprint,
		CachedResult:       cached,
		CreatedAt:          time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	if err := l.store.Set(ctx, normalize(key), data, l.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}

// Release drops the claim on key so a retry after a failed attempt is not
// permanently blocked.
func (l *Ledger) Release(ctx context.Context, key string) error {
	return l.store.Delete(ctx, normalize(key))
}
