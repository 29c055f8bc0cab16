package payment

import (
	"context"
	"errors"
	"testing"
)

func insertPending(t *testing.T, repo *InMemoryRepository, externalID string) *Payment {
	t.Helper()
	p, err := repo.Insert(context.Background(), &Payment{
		ExternalID: externalID,
		UserID:     "user-1",
		Status:     StatusPending,
		Amount:     "100.00",
		Currency:   "RUB",
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return p
}

// TestInMemoryRepository_Insert verifies insertion assigns an ID and the row
// is readable by both keys.
func TestInMemoryRepository_Insert(t *testing.T) {
	repo := NewInMemoryRepository()
	p := insertPending(t, repo, "ext-1")

	if p.ID == "" {
		t.Fatal("expected an assigned internal ID")
	}
	if p.CreatedAt == nil || p.UpdatedAt == nil {
		t.Error("expected timestamps to be set")
	}

	byID, err := repo.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if byID.ExternalID != "ext-1" {
		t.Errorf("external ID = %s, want ext-1", byID.ExternalID)
	}

	byExt, err := repo.GetByExternalID(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("GetByExternalID failed: %v", err)
	}
	if byExt.ID != p.ID {
		t.Errorf("ID via external lookup = %s, want %s", byExt.ID, p.ID)
	}
}

// TestInMemoryRepository_InsertDuplicateExternalID verifies the uniqueness
// constraint on external IDs.
func TestInMemoryRepository_InsertDuplicateExternalID(t *testing.T) {
	repo := NewInMemoryRepository()
	insertPending(t, repo, "ext-1")

	_, err := repo.Insert(context.Background(), &Payment{
		ExternalID: "ext-1",
		UserID:     "user-2",
		Status:     StatusPending,
	})
	if !errors.Is(err, ErrDuplicateExternalID) {
		t.Errorf("expected ErrDuplicateExternalID, got %v", err)
	}
}

// TestInMemoryRepository_GetMissing verifies lookups of absent rows.
func TestInMemoryRepository_GetMissing(t *testing.T) {
	repo := NewInMemoryRepository()

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("GetByID = %v, want ErrPaymentNotFound", err)
	}
	if _, err := repo.GetByExternalID(context.Background(), "missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("GetByExternalID = %v, want ErrPaymentNotFound", err)
	}
}

// TestInMemoryRepository_UpdateStatus verifies the conditional update applies
// when the expected status matches.
func TestInMemoryRepository_UpdateStatus(t *testing.T) {
	repo := NewInMemoryRepository()
	p := insertPending(t, repo, "ext-1")

	updated, err := repo.UpdateStatus(context.Background(), p.ID, StatusPending, StatusUpdate{
		Status: StatusSucceeded,
		Paid:   true,
	})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != StatusSucceeded || !updated.Paid {
		t.Errorf("unexpected payment after update: %+v", updated)
	}
}

// TestInMemoryRepository_UpdateStatusStale verifies the conditional update
// refuses to apply over a status that changed concurrently.
func TestInMemoryRepository_UpdateStatusStale(t *testing.T) {
	repo := NewInMemoryRepository()
	p := insertPending(t, repo, "ext-1")

	if _, err := repo.UpdateStatus(context.Background(), p.ID, StatusPending, StatusUpdate{
		Status: StatusCanceled,
	}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	_, err := repo.UpdateStatus(context.Background(), p.ID, StatusPending, StatusUpdate{
		Status: StatusSucceeded,
	})
	if !errors.Is(err, ErrStaleStatus) {
		t.Errorf("expected ErrStaleStatus, got %v", err)
	}
}

// TestInMemoryRepository_UpdateStatusMissing verifies a missing row is
// distinguished from a stale one.
func TestInMemoryRepository_UpdateStatusMissing(t *testing.T) {
	repo := NewInMemoryRepository()

	_, err := repo.UpdateStatus(context.Background(), "missing", StatusPending, StatusUpdate{
		Status: StatusSucceeded,
	})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound, got %v", err)
	}
}

// TestInMemoryRepository_ReturnsCopies verifies mutating a returned payment
// does not leak into the stored record.
func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository()
	p := insertPending(t, repo, "ext-1")

	p.Status = StatusCanceled

	stored, err := repo.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != StatusPending {
		t.Errorf("stored status = %s, want pending", stored.Status)
	}
}
