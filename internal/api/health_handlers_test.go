package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/paycore/internal/health"
)

// checkerFunc adapts a function to the health.Checker interface.
type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// TestHandleHealth_AllHealthy verifies 200 with per-dependency statuses.
func TestHandleHealth_AllHealthy(t *testing.T) {
	handlers := NewHealthHandlers(map[string]health.Checker{
		"database": checkerFunc(func(context.Context) error { return nil }),
		"redis":    checkerFunc(func(context.Context) error { return nil }),
	})

	rec := httptest.NewRecorder()
	handlers.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %s, want healthy", resp.Status)
	}
	if resp.Checks["database"] != "ok" || resp.Checks["redis"] != "ok" {
		t.Errorf("unexpected checks %v", resp.Checks)
	}
}

// TestHandleHealth_DependencyDown verifies any failing probe flips the
// response to 503 while the healthy checks still report ok.
func TestHandleHealth_DependencyDown(t *testing.T) {
	handlers := NewHealthHandlers(map[string]health.Checker{
		"database": checkerFunc(func(context.Context) error { return nil }),
		"redis":    checkerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := httptest.NewRecorder()
	handlers.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %s, want unhealthy", resp.Status)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("database check = %s, want ok", resp.Checks["database"])
	}
	if resp.Checks["redis"] != "connection refused" {
		t.Errorf("redis check = %s, want the probe error", resp.Checks["redis"])
	}
}
