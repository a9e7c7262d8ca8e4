package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linenloft/api/internal/platform/httpx"
	"github.com/linenloft/api/internal/services"
)

// Stripe caps event payloads well below this; anything larger is hostile.
const maxWebhookBody = 256 * 1024

const stripeSignatureHeader = "Stripe-Signature"

// WebhookHandlers receives payment processor callbacks.
type WebhookHandlers struct {
	events services.PaymentEventService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(events services.PaymentEventService) *WebhookHandlers {
	return &WebhookHandlers{events: events}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if int64(len(payload)) > maxWebhookBody {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	outcome, err := h.events.HandleWebhook(ctx, payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, services.ErrWebhookUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		default:
			// Non-2xx makes the processor redeliver the event.
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook event", http.StatusInternalServerError))
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"outcome":  outcome.Outcome,
	})
}
