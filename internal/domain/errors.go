package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLotNotFound   = errors.New("lot not found")
	ErrHoldNotFound  = errors.New("hold not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrItemNotFound  = errors.New("cart item not found")

	ErrLotHeld           = errors.New("lot already held")
	ErrDuplicateCartItem = errors.New("lot already in cart")
	ErrStaleCartTotal    = errors.New("cart total changed")

	ErrLotNotLive        = errors.New("lot is not live")
	ErrHoldNotActive     = errors.New("hold is not active")
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrInvalidOrderState = errors.New("operation not allowed in current order status")

	ErrOwnerRequired          = errors.New("exactly one of order or session owner required")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidID              = errors.New("invalid id")
	ErrEmptyCart              = errors.New("cart is empty")
	ErrUnknownShippingMethod  = errors.New("unknown shipping method")
	ErrBuyerOrSessionRequired = errors.New("buyer email or session id required")
)

// ErrReservationConflict is the sentinel behind ReservationConflictError.
var ErrReservationConflict = errors.New("could not reserve all cart items")

// ErrorKind classifies errors into the codes exposed to clients.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindConflict
	KindInvalidState
	KindValidation
)

// KindOf maps any error to its client-facing kind. Unrecognized errors are
// internal and must not leak details to callers.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrLotNotFound),
		errors.Is(err, ErrHoldNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrItemNotFound):
		return KindNotFound
	case errors.Is(err, ErrLotHeld),
		errors.Is(err, ErrDuplicateCartItem),
		errors.Is(err, ErrStaleCartTotal),
		errors.Is(err, ErrReservationConflict):
		return KindConflict
	case errors.Is(err, ErrLotNotLive),
		errors.Is(err, ErrHoldNotActive),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidOrderState):
		return KindInvalidState
	case errors.Is(err, ErrOwnerRequired),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrUnknownShippingMethod),
		errors.Is(err, ErrBuyerOrSessionRequired):
		return KindValidation
	default:
		return KindInternal
	}
}

// ItemFailure records why one cart item could not be reserved.
type ItemFailure struct {
	LotID  string
	Reason string
}

// ReservationConflictError reports which items failed during checkout
// initiation so the client can re-fetch cart state.
type ReservationConflictError struct {
	Failures []ItemFailure
}

func (e *ReservationConflictError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.LotID, f.Reason))
	}
	return fmt.Sprintf("%v (%s)", ErrReservationConflict, strings.Join(parts, "; "))
}

func (e *ReservationConflictError) Unwrap() error {
	return ErrReservationConflict
}

// ReconciliationError is returned when sale transfer fails after payment
// capture. The listed lots need manual reconciliation; the money has already
// moved so there is nothing to roll back.
type ReconciliationError struct {
	OrderID string
	LotIDs  []string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("order %s: sale transfer incomplete for lots %s",
		e.OrderID, strings.Join(e.LotIDs, ", "))
}
