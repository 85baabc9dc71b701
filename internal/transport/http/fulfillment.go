package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

// FulfillmentService is the slice of the checkout service the fulfillment
// endpoints need.
type FulfillmentService interface {
	MarkProcessing(ctx context.Context, orderID, actor string) (domain.Order, error)
	MarkShipped(ctx context.Context, orderID, actor string) (domain.Order, error)
	MarkDelivered(ctx context.Context, orderID, actor string) (domain.Order, error)
	MarkRefunded(ctx context.Context, orderID, reason, actor string) (domain.Order, error)
}

// HandleFulfillment dispatches POST /orders/{id}/{process|ship|deliver|refund}.
func HandleFulfillment(svc FulfillmentService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "orders" || parts[1] == "" {
			http.NotFound(w, r)
			return
		}
		orderID, action := parts[1], parts[2]
		actor := actorFrom(r)

		var order domain.Order
		var err error
		switch action {
		case "process":
			order, err = svc.MarkProcessing(r.Context(), orderID, actor)
		case "ship":
			order, err = svc.MarkShipped(r.Context(), orderID, actor)
		case "deliver":
			order, err = svc.MarkDelivered(r.Context(), orderID, actor)
		case "refund":
			var req refundRequest
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if decErr := dec.Decode(&req); decErr != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
				return
			}
			order, err = svc.MarkRefunded(r.Context(), orderID, req.Reason, actor)
		default:
			http.NotFound(w, r)
			return
		}
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
	}
}

type refundRequest struct {
	Reason string `json:"reason"`
}
