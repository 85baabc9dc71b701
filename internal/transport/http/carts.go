package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/app"
	"github.com/vmoreno/curiosa-api/internal/domain"
)

// CartService is the slice of the checkout service the cart endpoints need.
type CartService interface {
	CreateCart(ctx context.Context, in app.CreateCartInput) (domain.Order, error)
	GetCart(ctx context.Context, orderID string) (domain.Order, []domain.OrderItem, error)
	AddToCart(ctx context.Context, orderID, lotID, actor string) (domain.Order, error)
	RemoveFromCart(ctx context.Context, orderID, lotID, actor string) (domain.Order, error)
	RecalculateTotals(ctx context.Context, orderID, shippingMethod string) (domain.Order, error)
	ValidateCart(ctx context.Context, orderID string) (app.CartReport, error)
	InitiateCheckout(ctx context.Context, orderID string, expectedTotal *float64, actor string) (domain.Order, error)
	CancelCheckout(ctx context.Context, orderID, reason, actor string) (domain.Order, error)
}

// HandleCreateCart handles POST /carts.
func HandleCreateCart(svc CartService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		var req createCartRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		order, err := svc.CreateCart(r.Context(), app.CreateCartInput{
			BuyerEmail: req.BuyerEmail,
			SessionID:  req.SessionID,
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toOrderResponse(order))
	}
}

// HandleCartRoutes dispatches /carts/{id}... subroutes.
func HandleCartRoutes(svc CartService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "carts" || parts[1] == "" {
			http.NotFound(w, r)
			return
		}
		orderID := parts[1]
		rest := parts[2:]

		switch {
		case len(rest) == 0 && r.Method == http.MethodGet:
			getCart(w, r, svc, logger, orderID)
		case len(rest) == 1 && rest[0] == "items" && r.Method == http.MethodPost:
			addItem(w, r, svc, logger, orderID)
		case len(rest) == 2 && rest[0] == "items" && r.Method == http.MethodDelete:
			removeItem(w, r, svc, logger, orderID, rest[1])
		case len(rest) == 1 && rest[0] == "recalculate" && r.Method == http.MethodPost:
			recalculate(w, r, svc, logger, orderID)
		case len(rest) == 1 && rest[0] == "validate" && r.Method == http.MethodGet:
			validateCart(w, r, svc, logger, orderID)
		case len(rest) == 1 && rest[0] == "checkout" && r.Method == http.MethodPost:
			initiateCheckout(w, r, svc, logger, orderID)
		case len(rest) == 1 && rest[0] == "cancel" && r.Method == http.MethodPost:
			cancelCheckout(w, r, svc, logger, orderID)
		default:
			http.NotFound(w, r)
		}
	}
}

func getCart(w http.ResponseWriter, r *http.Request, svc CartService, logger zerolog.Logger, orderID string) {
	order, items, err := svc.GetCart(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	resp := cartResponse{Order: toOrderResponse(order)}
	for _, it := range items {
		resp.Items = append(resp.Items, itemResponse{
			LotID:   it.LotID,
			Title:   it.Title,
			Price:   it.Price,
			AddedAt: it.AddedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func addItem(w http.ResponseWriter, r *http.Request, svc CartService, logger zerolog.Logger, orderID string) {
	var req addItemRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	if req.LotID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "lot_id is required")
		return
	}

	order, err := svc.AddToCart(r.Context(), orderID, req.LotID, actorFrom(r))
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func removeItem(w http.ResponseWriter, r *http.Request, svc CartService, logger zerolog.Logger, orderID, lotID string) {
	order, err := svc.RemoveFromCart(r.Context(), orderID, lotID, actorFrom(r))
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func recalculate(w http.ResponseWriter, r *http.Request, svc CartService, logger zerolog.Logger, orderID string) {
	var req recalculateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	order, err := svc.RecalculateTotals(r.Context(), orderID, req.ShippingMethod)
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func validateCart(w http.ResponseWriter, r *http.Request, svc CartService, logger zerolog.Logger, orderID string) {
	report, err := svc.ValidateCart(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}

	resp := validationResponse{IsValid: report.IsValid}
	for _, u := range report.UnavailableItems {
		resp.UnavailableItems = append(resp.UnavailableItems, unavailableItemResponse{
			LotID:  u.LotID,
			Title:  u.Title,
			Reason: u.Reason,
		})
	}
	for _, p := range report.PriceChanges {
		resp.PriceChanges = append(resp.PriceChanges, priceChangeResponse{
			LotID:    p.LotID,
			Title:    p.Title,
			OldPrice: p.OldPrice,
			NewPrice: p.NewPrice,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func initiateCheckout(w http.ResponseWriter, r *http.Request, svc CartService, logger zerolog.Logger, orderID string) {
	var req initiateCheckoutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	order, err := svc.InitiateCheckout(r.Context(), orderID, req.ExpectedTotal, actorFrom(r))
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func cancelCheckout(w http.ResponseWriter, r *http.Request, svc CartService, logger zerolog.Logger, orderID string) {
	var req cancelCheckoutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by buyer"
	}

	order, err := svc.CancelCheckout(r.Context(), orderID, req.Reason, actorFrom(r))
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

const actorHeader = "X-Actor"

func actorFrom(r *http.Request) string {
	return r.Header.Get(actorHeader)
}

type createCartRequest struct {
	BuyerEmail string `json:"buyer_email"`
	SessionID  string `json:"session_id"`
}

type addItemRequest struct {
	LotID string `json:"lot_id"`
}

type recalculateRequest struct {
	ShippingMethod string `json:"shipping_method"`
}

type initiateCheckoutRequest struct {
	ExpectedTotal *float64 `json:"expected_total"`
}

type cancelCheckoutRequest struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	ID             string  `json:"id"`
	OrderNumber    string  `json:"order_number"`
	Status         string  `json:"status"`
	ShippingMethod string  `json:"shipping_method"`
	Subtotal       float64 `json:"subtotal"`
	Tax            float64 `json:"tax"`
	Shipping       float64 `json:"shipping"`
	Total          float64 `json:"total"`
	PaymentRef     string  `json:"payment_ref,omitempty"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		Status:         string(o.Status),
		ShippingMethod: o.ShippingMethod,
		Subtotal:       o.Subtotal,
		Tax:            o.Tax,
		Shipping:       o.Shipping,
		Total:          o.Total,
		PaymentRef:     o.PaymentRef,
	}
}

type itemResponse struct {
	LotID   string    `json:"lot_id"`
	Title   string    `json:"title"`
	Price   float64   `json:"price"`
	AddedAt time.Time `json:"added_at"`
}

type cartResponse struct {
	Order orderResponse  `json:"order"`
	Items []itemResponse `json:"items"`
}

type unavailableItemResponse struct {
	LotID  string `json:"lot_id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

type priceChangeResponse struct {
	LotID    string  `json:"lot_id"`
	Title    string  `json:"title"`
	OldPrice float64 `json:"old_price"`
	NewPrice float64 `json:"new_price"`
}

type validationResponse struct {
	IsValid          bool                      `json:"is_valid"`
	UnavailableItems []unavailableItemResponse `json:"unavailable_items"`
	PriceChanges     []priceChangeResponse     `json:"price_changes"`
}
