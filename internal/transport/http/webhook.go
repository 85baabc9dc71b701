package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

// PaymentEventSink receives the order-side effects of provider webhook
// events. Signature validation happens upstream in the provider integration.
type PaymentEventSink interface {
	ToPaymentConfirmed(ctx context.Context, orderID, actor string) (domain.Order, error)
	ToPaymentFailed(ctx context.Context, orderID, reason, actor string) (domain.Order, error)
	CompleteCheckout(ctx context.Context, orderID, actor string) error
}

const (
	eventPaymentSucceeded = "payment_succeeded"
	eventPaymentFailed    = "payment_failed"
)

// HandlePaymentWebhook handles POST /webhooks/payment. A succeeded event
// confirms the order and completes the checkout; a reconciliation failure
// after capture is reported as 500 so the provider redelivers and operators
// see it.
func HandlePaymentWebhook(sink PaymentEventSink, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var ev paymentEvent
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if ev.Intent.OrderID == "" {
			writeError(w, http.StatusBadRequest, codeValidation, "intent.order_id is required")
			return
		}

		const actor = "payment-webhook"
		switch ev.Type {
		case eventPaymentSucceeded:
			if _, err := sink.ToPaymentConfirmed(r.Context(), ev.Intent.OrderID, actor); err != nil &&
				!errors.Is(err, domain.ErrInvalidTransition) {
				writeDomainError(w, logger, err)
				return
			}
			// An invalid transition means the confirmation already landed on
			// an earlier delivery. Completion still runs: it is idempotent,
			// so a redelivery finishes whatever a partial earlier attempt
			// (or a lost response) left behind.
			if err := sink.CompleteCheckout(r.Context(), ev.Intent.OrderID, actor); err != nil {
				// The order moved past PAYMENT_CONFIRMED on an earlier
				// delivery; nothing left to do.
				if errors.Is(err, domain.ErrInvalidOrderState) {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				writeDomainError(w, logger, err)
				return
			}
		case eventPaymentFailed:
			if _, err := sink.ToPaymentFailed(r.Context(), ev.Intent.OrderID, ev.Reason, actor); err != nil {
				writeDomainError(w, logger, err)
				return
			}
		default:
			writeError(w, http.StatusBadRequest, codeValidation, "unknown event type")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type paymentEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Intent struct {
		ID      string `json:"id"`
		OrderID string `json:"order_id"`
	} `json:"intent"`
}
