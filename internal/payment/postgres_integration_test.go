package payment

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a disposable Postgres container and applies the
// repository migrations.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("paycore_test"),
		tcpostgres.WithUsername("paycore"),
		tcpostgres.WithPassword("paycore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db)
	return db
}

// applyMigrations runs the up migrations from the migrations directory in
// lexical order.
func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()

	paths, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	if err != nil || len(paths) == 0 {
		t.Fatalf("failed to locate migrations: %v", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		ddl, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read migration %s: %v", path, err)
		}
		if _, err := db.Exec(string(ddl)); err != nil {
			t.Fatalf("failed to apply migration %s: %v", path, err)
		}
	}
}

func seedUser(t *testing.T, db *sql.DB) string {
	t.Helper()
	id := uuid.New().String()
	if _, err := db.Exec(`INSERT INTO users (id) VALUES ($1)`, id); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return id
}

// TestPostgresRepository_Integration exercises the Postgres repository
// against a real database, including the unique constraint and the
// conditional status update.
func TestPostgresRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	db := startPostgres(t)
	repo := NewPostgresRepository(db, nil)
	ctx := context.Background()
	userID := seedUser(t, db)

	newPayment := func(externalID string) *Payment {
		return &Payment{
			ID:         uuid.New().String(),
			ExternalID: externalID,
			UserID:     userID,
			Status:     StatusPending,
			Amount:     "100.00",
			Currency:   "RUB",
			Metadata:   map[string]string{MetadataUserIDKey: userID},
		}
	}

	t.Run("insert and read back", func(t *testing.T) {
		inserted, err := repo.Insert(ctx, newPayment("it-ext-1"))
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if inserted.CreatedAt == nil || inserted.UpdatedAt == nil {
			t.Error("expected database timestamps")
		}

		byID, err := repo.GetByID(ctx, inserted.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if byID.ExternalID != "it-ext-1" || byID.Status != StatusPending {
			t.Errorf("unexpected payment %+v", byID)
		}
		if byID.Metadata[MetadataUserIDKey] != userID {
			t.Errorf("metadata round trip lost user reference: %+v", byID.Metadata)
		}

		byExt, err := repo.GetByExternalID(ctx, "it-ext-1")
		if err != nil {
			t.Fatalf("GetByExternalID failed: %v", err)
		}
		if byExt.ID != inserted.ID {
			t.Errorf("ID via external lookup = %s, want %s", byExt.ID, inserted.ID)
		}
	})

	t.Run("duplicate external id", func(t *testing.T) {
		if _, err := repo.Insert(ctx, newPayment("it-ext-2")); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		_, err := repo.Insert(ctx, newPayment("it-ext-2"))
		if !errors.Is(err, ErrDuplicateExternalID) {
			t.Errorf("expected ErrDuplicateExternalID, got %v", err)
		}
	})

	t.Run("conditional status update", func(t *testing.T) {
		inserted, err := repo.Insert(ctx, newPayment("it-ext-3"))
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		captured := time.Now().UTC().Truncate(time.Microsecond)
		updated, err := repo.UpdateStatus(ctx, inserted.ID, StatusPending, StatusUpdate{
			Status:     StatusSucceeded,
			Paid:       true,
			CapturedAt: &captured,
		})
		if err != nil {
			t.Fatalf("UpdateStatus failed: %v", err)
		}
		if updated.Status != StatusSucceeded || !updated.Paid {
			t.Errorf("unexpected payment after update: %+v", updated)
		}
		if updated.CapturedAt == nil || !updated.CapturedAt.Equal(captured) {
			t.Errorf("captured_at = %v, want %v", updated.CapturedAt, captured)
		}

		// The row left pending; a competing transition must see staleness.
		_, err = repo.UpdateStatus(ctx, inserted.ID, StatusPending, StatusUpdate{
			Status: StatusCanceled,
		})
		if !errors.Is(err, ErrStaleStatus) {
			t.Errorf("expected ErrStaleStatus, got %v", err)
		}
	})

	t.Run("update missing row", func(t *testing.T) {
		_, err := repo.UpdateStatus(ctx, uuid.New().String(), StatusPending, StatusUpdate{
			Status: StatusSucceeded,
		})
		if !errors.Is(err, ErrPaymentNotFound) {
			t.Errorf("expected ErrPaymentNotFound, got %v", err)
		}
	})
}
