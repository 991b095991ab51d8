package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kiranshivaraju/studycoach/internal/api/handler"
	"github.com/kiranshivaraju/studycoach/internal/billing"
	"github.com/stretchr/testify/assert"
)

type mockIngestor struct {
	err       error
	gotBody   []byte
	gotHeader string
}

func (m *mockIngestor) Ingest(_ context.Context, body []byte, sigHeader string) error {
	m.gotBody = body
	m.gotHeader = sigHeader
	return m.err
}

func webhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/billing/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return req
}

func TestWebhook_Accepted(t *testing.T) {
	ing := &mockIngestor{}
	h := handler.NewWebhookHandler(ing)

	w := httptest.NewRecorder()
	h(w, webhookRequest(`{"id":"evt_1"}`, "t=1,v1=abc"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte(`{"id":"evt_1"}`), ing.gotBody)
	assert.Equal(t, "t=1,v1=abc", ing.gotHeader)
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	h := handler.NewWebhookHandler(&mockIngestor{err: billing.ErrInvalidSignature})

	w := httptest.NewRecorder()
	h(w, webhookRequest(`{"id":"evt_1"}`, "t=1,v1=bad"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decodeBody(t, w)["error"].(map[string]any)
	assert.Equal(t, "INVALID_SIGNATURE", errObj["code"])
}

func TestWebhook_InvalidPayloadRejected(t *testing.T) {
	h := handler.NewWebhookHandler(&mockIngestor{err: billing.ErrInvalidPayload})

	w := httptest.NewRecorder()
	h(w, webhookRequest(`{broken`, "t=1,v1=abc"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decodeBody(t, w)["error"].(map[string]any)
	assert.Equal(t, "INVALID_PAYLOAD", errObj["code"])
}

func TestWebhook_MissingMetadataRejected(t *testing.T) {
	h := handler.NewWebhookHandler(&mockIngestor{err: billing.ErrMissingMetadata})

	w := httptest.NewRecorder()
	h(w, webhookRequest(`{"id":"evt_1"}`, "t=1,v1=abc"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	errObj := decodeBody(t, w)["error"].(map[string]any)
	assert.Equal(t, "MISSING_METADATA", errObj["code"])
}

func TestWebhook_TransientFailureRetryable(t *testing.T) {
	// A 5xx tells the processor to deliver the event again later
	h := handler.NewWebhookHandler(&mockIngestor{err: assert.AnError})

	w := httptest.NewRecorder()
	h(w, webhookRequest(`{"id":"evt_1"}`, "t=1,v1=abc"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhook_OversizedBodyRejected(t *testing.T) {
	h := handler.NewWebhookHandler(&mockIngestor{})

	big := strings.Repeat("x", 1<<17)
	w := httptest.NewRecorder()
	h(w, webhookRequest(big, "t=1,v1=abc"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
