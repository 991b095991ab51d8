package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/studycoach/internal/api/response"
	"github.com/kiranshivaraju/studycoach/internal/billing"
)

// Webhook bodies are small JSON envelopes; anything larger is abuse.
const maxWebhookBodyBytes = 1 << 16

// EventIngestor processes a raw webhook delivery.
type EventIngestor interface {
	Ingest(ctx context.Context, body []byte, sigHeader string) error
}

// NewWebhookHandler returns an http.HandlerFunc for POST /api/v1/billing/webhook.
//
// Status codes are the retry protocol with the payment processor: 2xx
// means accepted (never redeliver), 4xx means rejected (redelivery cannot
// help), 5xx means try again later.
func NewWebhookHandler(ingestor EventIngestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Failed to read request body", nil)
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")

		err = ingestor.Ingest(r.Context(), body, sigHeader)
		switch {
		case err == nil:
			response.JSON(w, map[string]string{"received": "true"})
		case errors.Is(err, billing.ErrInvalidSignature):
			response.Error(w, http.StatusBadRequest, "INVALID_SIGNATURE",
				"Webhook signature verification failed", nil)
		case errors.Is(err, billing.ErrInvalidPayload):
			response.Error(w, http.StatusBadRequest, "INVALID_PAYLOAD",
				"Webhook payload could not be parsed", nil)
		case errors.Is(err, billing.ErrMissingMetadata):
			response.Error(w, http.StatusBadRequest, "MISSING_METADATA",
				"Webhook event is missing required metadata", nil)
		default:
			slog.Error("webhook processing failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to process webhook event", nil)
		}
	}
}
