package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/confreg/internal/reconcile"
)

// SignatureHeader carries the gateway's HMAC of the notification.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

type WebhookHandler struct {
	reconciler *reconcile.Reconciler
}

func NewWebhookHandler(reconciler *reconcile.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

type PaymentWebhookRequest struct {
	Signature string `header:"X-Square-Hmacsha256-Signature" required:"false"`
	RawBody   []byte
}

type PaymentWebhookResponse struct {
	Body struct {
		Received bool `json:"received"`
	}
}

// HandlePayment acknowledges every authenticated delivery, including ones
// that reconcile to nothing. Only signature failures and store outages are
// errors, and only the latter asks the gateway to redeliver.
func (h *WebhookHandler) HandlePayment(ctx context.Context, input *PaymentWebhookRequest) (*PaymentWebhookResponse, error) {
	_, err := h.reconciler.Handle(ctx, reconcile.Delivery{Signature: input.Signature, Body: input.RawBody})
	switch {
	case errors.Is(err, reconcile.ErrInvalidSignature):
		return nil, huma.Error401Unauthorized("Invalid webhook signature")
	case err != nil:
		return nil, huma.Error503ServiceUnavailable("Temporarily unable to process event")
	}

	resp := &PaymentWebhookResponse{}
	resp.Body.Received = true
	return resp, nil
}
