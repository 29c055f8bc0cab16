package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis spins up a disposable Redis container and returns a connected
// client.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return client
}

// TestRedisStore_Integration exercises the Redis store against a real
// instance, covering the atomic SetNX claim and expiry semantics the ledger
// depends on.
func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	store := NewRedisStore(startRedis(t))
	ctx := context.Background()

	t.Run("setnx is atomic", func(t *testing.T) {
		ok, err := store.SetNX(ctx, "claim-1", []byte("a"), time.Minute)
		if err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if !ok {
			t.Fatal("expected first SetNX to win")
		}

		ok, err = store.SetNX(ctx, "claim-1", []byte("b"), time.Minute)
		if err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if ok {
			t.Error("expected second SetNX to be refused")
		}

		value, err := store.Get(ctx, "claim-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(value) != "a" {
			t.Errorf("value = %q, want %q", value, "a")
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if _, err := store.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get = %v, want ErrNotFound", err)
		}
	})

	t.Run("ttl expires entries", func(t *testing.T) {
		if _, err := store.SetNX(ctx, "short-lived", []byte("a"), 100*time.Millisecond); err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		time.Sleep(300 * time.Millisecond)
		if _, err := store.Get(ctx, "short-lived"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get after TTL = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete releases claim", func(t *testing.T) {
		if _, err := store.SetNX(ctx, "claim-2", []byte("a"), time.Minute); err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if err := store.Delete(ctx, "claim-2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		ok, err := store.SetNX(ctx, "claim-2", []byte("b"), time.Minute)
		if err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if !ok {
			t.Error("expected SetNX to win after delete")
		}
	})

	t.Run("ledger over redis", func(t *testing.T) {
		ledger := NewLedger(store, time.Hour, time.Minute)
		key := "cc8f0a9e-1b2d-4c3e-8f4a-5b6c7d8e9f0a"

		rec, err := ledger.Claim(ctx, key, "fp-1")
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if rec != nil {
			t.Fatal("expected fresh claim")
		}

		if err := ledger.Complete(ctx, key, "fp-1", map[string]string{"id": "p-1"}); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}

		rec, err = ledger.Claim(ctx, key, "fp-1")
		if err != nil {
			t.Fatalf("replay claim failed: %v", err)
		}
		if rec == nil || rec.State != StateCompleted {
			t.Errorf("expected completed record, got %+v", rec)
		}

		if _, err := ledger.Claim(ctx, key, "fp-2"); !errors.Is(err, ErrConflict) {
			t.Errorf("conflicting claim = %v, want ErrConflict", err)
		}
	})
}
