package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/paycore/internal/gateway"
	"github.com/onnwee/paycore/internal/payment"
)

func postWebhook(t *testing.T, f *apiFixture, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode notification: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// TestHandleGatewayWebhook_Applied verifies a verified status change is
// applied and acknowledged with the structured result.
func TestHandleGatewayWebhook_Applied(t *testing.T) {
	gw := defaultStubGateway()
	gw.getFn = func(externalID string) (*gateway.Payment, error) {
		return &gateway.Payment{
			ID:       externalID,
			Status:   gateway.StatusSucceeded,
			Paid:     true,
			Amount:   gateway.Amount{Value: "100.00", Currency: "RUB"},
			Metadata: map[string]string{payment.MetadataUserIDKey: "user-1"},
		}, nil
	}
	f := newAPIFixture(t, gw)

	if rec := doCreate(t, f, handlerTestKey); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}

	rec := postWebhook(t, f, map[string]any{
		"type":   "notification",
		"event":  "payment.succeeded",
		"object": map[string]any{"id": "ext-1", "status": "succeeded"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result payment.WebhookResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !result.Processed || !result.StatusUpdated {
		t.Errorf("unexpected result %+v", result)
	}

	stored, err := f.repo.GetByExternalID(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("GetByExternalID failed: %v", err)
	}
	if stored.Status != payment.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", stored.Status)
	}
}

// TestHandleGatewayWebhook_ForgedAcknowledged verifies an unverifiable
// notification is acknowledged with 200 so the gateway stops redelivering.
func TestHandleGatewayWebhook_ForgedAcknowledged(t *testing.T) {
	f := newAPIFixture(t, defaultStubGateway())

	rec := postWebhook(t, f, map[string]any{
		"type":   "notification",
		"event":  "payment.succeeded",
		"object": map[string]any{"id": "forged-1", "status": "succeeded"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var result payment.WebhookResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.Processed {
		t.Error("forged notification reported as processed")
	}
	if result.Reason != payment.ReasonPaymentNotFound {
		t.Errorf("reason = %s, want %s", result.Reason, payment.ReasonPaymentNotFound)
	}
}

// TestHandleGatewayWebhook_MalformedBody verifies unparseable payloads get 400.
func TestHandleGatewayWebhook_MalformedBody(t *testing.T) {
	f := newAPIFixture(t, defaultStubGateway())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestHandleGatewayWebhook_VerificationUnavailable verifies a gateway outage
// during verification returns 503 so the webhook is redelivered.
func TestHandleGatewayWebhook_VerificationUnavailable(t *testing.T) {
	gw := defaultStubGateway()
	gw.getFn = func(string) (*gateway.Payment, error) {
		return nil, gateway.ErrUpstreamUnavailable
	}
	f := newAPIFixture(t, gw)

	rec := postWebhook(t, f, map[string]any{
		"type":   "notification",
		"event":  "payment.succeeded",
		"object": map[string]any{"id": "ext-1", "status": "succeeded"},
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// TestHandleGatewayWebhook_RestorationFailure verifies an unrecoverable
// restoration returns 500.
func TestHandleGatewayWebhook_RestorationFailure(t *testing.T) {
	gw := defaultStubGateway()
	gw.getFn = func(externalID string) (*gateway.Payment, error) {
		// No metadata: the owning user cannot be recovered.
		return &gateway.Payment{
			ID:     externalID,
			Status: gateway.StatusSucceeded,
			Paid:   true,
			Amount: gateway.Amount{Value: "100.00", Currency: "RUB"},
		}, nil
	}
	f := newAPIFixture(t, gw)

	rec := postWebhook(t, f, map[string]any{
		"type":   "notification",
		"event":  "payment.succeeded",
		"object": map[string]any{"id": "ext-1", "status": "succeeded"},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
