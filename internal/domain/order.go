package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusCart             OrderStatus = "CART"
	OrderStatusPaymentPending   OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaymentConfirmed OrderStatus = "PAYMENT_CONFIRMED"
	OrderStatusPaymentFailed    OrderStatus = "PAYMENT_FAILED"
	OrderStatusProcessing       OrderStatus = "PROCESSING"
	OrderStatusShipped          OrderStatus = "SHIPPED"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
	OrderStatusRefunded         OrderStatus = "REFUNDED"
)

// OrderTransitions is the only legal outbound edge set per status. Statuses
// mapped to an empty set are terminal.
var OrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCart:             {OrderStatusPaymentPending, OrderStatusCancelled},
	OrderStatusPaymentPending:   {OrderStatusPaymentConfirmed, OrderStatusPaymentFailed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed: {OrderStatusProcessing, OrderStatusRefunded},
	OrderStatusProcessing:       {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:          {OrderStatusDelivered},
	OrderStatusPaymentFailed:    {OrderStatusCart, OrderStatusCancelled},
	OrderStatusDelivered:        {},
	OrderStatusCancelled:        {},
	OrderStatusRefunded:         {},
}

// ValidateTransition fails when to is not a legal outbound edge of from, or
// when from is not a recognized status.
func ValidateTransition(from, to OrderStatus) error {
	allowed, ok := OrderTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Terminal reports whether an order status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	allowed, ok := OrderTransitions[s]
	return ok && len(allowed) == 0
}

// Order is a cart that becomes a purchase. Status changes go through the
// order service exclusively; items and totals belong to the checkout flow.
type Order struct {
	ID             string
	OrderNumber    string
	BuyerEmail     string
	SessionID      string
	Status         OrderStatus
	ShippingMethod string
	Subtotal       float64
	Tax            float64
	Shipping       float64
	Total          float64
	PaymentRef     string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	PaymentPendingAt *time.Time
	PaidAt           *time.Time
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	RefundedAt       *time.Time
}

// OrderItem snapshots a lot at the moment it was added to the cart, so later
// catalog edits do not retroactively change the cart.
type OrderItem struct {
	ID      string
	OrderID string
	LotID   string
	Title   string
	Price   float64
	AddedAt time.Time
}

// OrderAudit is an append-only record of an order status change.
type OrderAudit struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Reason     string
	ChangedBy  string
	ChangedAt  time.Time
}
