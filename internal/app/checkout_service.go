package app

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/clock"
	"github.com/vmoreno/curiosa-api/internal/domain"
	"github.com/vmoreno/curiosa-api/internal/metrics"
)

type CartRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	GetLot(ctx context.Context, lotID string) (domain.Lot, error)
	GetLotForUpdate(ctx context.Context, lotID string) (domain.Lot, error)
	// SetLotStatus flips a lot's status only when it currently has the
	// expected one; anything else fails with ErrLotNotLive context.
	SetLotStatus(ctx context.Context, lotID string, from, to domain.LotStatus) error
	// MarkLotSold flips RESERVED -> SOLD and links the buying order.
	MarkLotSold(ctx context.Context, lotID, orderID string) error
	ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	FindItem(ctx context.Context, orderID, lotID string) (*domain.OrderItem, error)
	InsertItem(ctx context.Context, item domain.OrderItem) error
	DeleteItem(ctx context.Context, orderID, lotID string) error
	UpdateOrderTotals(ctx context.Context, orderID, shippingMethod string, totals domain.Totals) error
}

// CheckoutService composes hold management, the order state machine and the
// payment collaborator into the cart and checkout workflow.
type CheckoutService struct {
	repo     CartRepository
	holds    *HoldService
	orders   *OrderService
	payments PaymentProvider
	notifier Notifier
	clock    clock.Clock
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	taxRate       float64
	shippingRates map[string]float64
}

// totalEpsilon absorbs float noise when comparing a client-supplied expected
// total against the stored one.
const totalEpsilon = 0.005

const defaultShippingMethod = "STANDARD"

func NewCheckoutService(
	repo CartRepository,
	holds *HoldService,
	orders *OrderService,
	payments PaymentProvider,
	notifier Notifier,
	clk clock.Clock,
	logger zerolog.Logger,
	m *metrics.Metrics,
	taxRate float64,
	shippingRates map[string]float64,
) *CheckoutService {
	return &CheckoutService{
		repo:          repo,
		holds:         holds,
		orders:        orders,
		payments:      payments,
		notifier:      notifier,
		clock:         clk,
		logger:        logger,
		metrics:       m,
		taxRate:       taxRate,
		shippingRates: shippingRates,
	}
}

type CreateCartInput struct {
	BuyerEmail string
	SessionID  string
}

func (s *CheckoutService) CreateCart(ctx context.Context, in CreateCartInput) (domain.Order, error) {
	if in.BuyerEmail == "" && in.SessionID == "" {
		return domain.Order{}, domain.ErrBuyerOrSessionRequired
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:             uuid.NewString(),
		OrderNumber:    newOrderNumber(),
		BuyerEmail:     in.BuyerEmail,
		SessionID:      in.SessionID,
		Status:         domain.OrderStatusCart,
		ShippingMethod: defaultShippingMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func newOrderNumber() string {
	return "CM-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *CheckoutService) GetCart(ctx context.Context, orderID string) (domain.Order, []domain.OrderItem, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	items, err := s.repo.ListItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	return order, items, nil
}

// AddToCart snapshots the lot into an order item and places a hold on it. If
// the hold cannot be created the item insert is compensated, so a cart never
// contains an item without a backing hold.
func (s *CheckoutService) AddToCart(ctx context.Context, orderID, lotID, actor string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusCart {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, orderID, order.Status)
	}

	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return domain.Order{}, err
	}
	if lot.Status != domain.LotStatusLive {
		return domain.Order{}, fmt.Errorf("%w: lot %s is %s", domain.ErrLotNotLive, lotID, lot.Status)
	}

	if existing, err := s.repo.FindItem(ctx, orderID, lotID); err != nil {
		return domain.Order{}, err
	} else if existing != nil {
		return domain.Order{}, fmt.Errorf("%w: lot %s", domain.ErrDuplicateCartItem, lotID)
	}

	item := domain.OrderItem{
		ID:      uuid.NewString(),
		OrderID: orderID,
		LotID:   lotID,
		Title:   lot.Title,
		Price:   lot.Price,
		AddedAt: s.clock.Now(),
	}
	if err := s.repo.InsertItem(ctx, item); err != nil {
		return domain.Order{}, err
	}

	if _, err := s.holds.CreateHold(ctx, CreateHoldInput{
		LotID:    lotID,
		Owner:    domain.OrderOwner(orderID),
		Quantity: 1,
		Actor:    actor,
	}); err != nil {
		if delErr := s.repo.DeleteItem(ctx, orderID, lotID); delErr != nil {
			s.logger.Error().
				Err(delErr).
				Str("order_id", orderID).
				Str("lot_id", lotID).
				Msg("failed to compensate cart item after hold failure")
		}
		return domain.Order{}, err
	}

	return s.RecalculateTotals(ctx, orderID, order.ShippingMethod)
}

// RemoveFromCart deletes the item and best-effort releases its hold. A hold
// release failure is logged and does not block the removal; the sweeper picks
// the hold up at expiry.
func (s *CheckoutService) RemoveFromCart(ctx context.Context, orderID, lotID, actor string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusCart {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, orderID, order.Status)
	}

	item, err := s.repo.FindItem(ctx, orderID, lotID)
	if err != nil {
		return domain.Order{}, err
	}
	if item == nil {
		return domain.Order{}, fmt.Errorf("%w: lot %s", domain.ErrItemNotFound, lotID)
	}
	if err := s.repo.DeleteItem(ctx, orderID, lotID); err != nil {
		return domain.Order{}, err
	}

	holds, err := s.holds.GetHoldsForOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", orderID).Msg("failed to look up holds during cart removal")
	} else {
		for _, h := range holds {
			if h.LotID != lotID {
				continue
			}
			if _, err := s.holds.ReleaseHold(ctx, h.ID, "removed from cart", actor); err != nil {
				s.logger.Warn().
					Err(err).
					Str("hold_id", h.ID).
					Str("lot_id", lotID).
					Msg("failed to release hold during cart removal")
			}
		}
	}

	return s.RecalculateTotals(ctx, orderID, order.ShippingMethod)
}

// RecalculateTotals is a pure function of the current item snapshot and is
// safe to call repeatedly.
func (s *CheckoutService) RecalculateTotals(ctx context.Context, orderID, shippingMethod string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if shippingMethod == "" {
		shippingMethod = order.ShippingMethod
	}
	if shippingMethod == "" {
		shippingMethod = defaultShippingMethod
	}
	shipping, ok := s.shippingRates[shippingMethod]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrUnknownShippingMethod, shippingMethod)
	}

	items, err := s.repo.ListItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	prices := make([]float64, 0, len(items))
	for _, it := range items {
		prices = append(prices, it.Price)
	}

	totals := domain.CalculateTotals(prices, shipping, s.taxRate)
	if err := s.repo.UpdateOrderTotals(ctx, orderID, shippingMethod, totals); err != nil {
		return domain.Order{}, err
	}

	order.ShippingMethod = shippingMethod
	order.Subtotal = totals.Subtotal
	order.Tax = totals.Tax
	order.Shipping = totals.Shipping
	order.Total = totals.Total
	return order, nil
}

// UnavailableItem and PriceChange make up a cart validation report.
type UnavailableItem struct {
	LotID  string
	Title  string
	Reason string
}

type PriceChange struct {
	LotID    string
	Title    string
	OldPrice float64
	NewPrice float64
}

type CartReport struct {
	IsValid          bool
	UnavailableItems []UnavailableItem
	PriceChanges     []PriceChange
}

// ValidateCart re-checks every item against the live lot. Price drift is
// reported but never invalidates the cart on its own.
func (s *CheckoutService) ValidateCart(ctx context.Context, orderID string) (CartReport, error) {
	items, err := s.repo.ListItems(ctx, orderID)
	if err != nil {
		return CartReport{}, err
	}

	report := CartReport{IsValid: true}
	for _, item := range items {
		lot, err := s.repo.GetLot(ctx, item.LotID)
		if err != nil {
			if domain.KindOf(err) == domain.KindNotFound {
				report.UnavailableItems = append(report.UnavailableItems, UnavailableItem{
					LotID:  item.LotID,
					Title:  item.Title,
					Reason: "no longer exists",
				})
				continue
			}
			return CartReport{}, err
		}
		if lot.Status != domain.LotStatusLive {
			report.UnavailableItems = append(report.UnavailableItems, UnavailableItem{
				LotID:  item.LotID,
				Title:  item.Title,
				Reason: fmt.Sprintf("status changed to %s", lot.Status),
			})
			continue
		}
		if lot.Price != item.Price {
			report.PriceChanges = append(report.PriceChanges, PriceChange{
				LotID:    item.LotID,
				Title:    item.Title,
				OldPrice: item.Price,
				NewPrice: lot.Price,
			})
		}
	}
	report.IsValid = len(report.UnavailableItems) == 0
	return report, nil
}

// InitiateCheckout reserves every cart item (all-or-nothing), creates the
// payment intent, and moves the order to PAYMENT_PENDING. Any reservation
// failure rolls back the reservations taken in this call and leaves the
// order in CART.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, orderID string, expectedTotal *float64, actor string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusCart {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, orderID, order.Status)
	}

	items, err := s.repo.ListItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if len(items) == 0 {
		return domain.Order{}, domain.ErrEmptyCart
	}

	if expectedTotal != nil && math.Abs(*expectedTotal-order.Total) > totalEpsilon {
		return domain.Order{}, fmt.Errorf("%w: expected %.2f, current %.2f",
			domain.ErrStaleCartTotal, *expectedTotal, order.Total)
	}

	var reserved []string
	var failures []domain.ItemFailure
	for _, item := range items {
		if err := s.reserveLot(ctx, orderID, item.LotID); err != nil {
			failures = append(failures, domain.ItemFailure{LotID: item.LotID, Reason: err.Error()})
			continue
		}
		reserved = append(reserved, item.LotID)
	}
	if len(failures) > 0 {
		s.releaseReservations(ctx, reserved)
		s.metrics.CheckoutsTotal.WithLabelValues("conflict").Inc()
		return domain.Order{}, &domain.ReservationConflictError{Failures: failures}
	}

	intent, err := s.payments.CreateIntent(ctx, orderID, domain.MinorUnits(order.Total), order.BuyerEmail)
	if err != nil {
		s.releaseReservations(ctx, reserved)
		s.metrics.CheckoutsTotal.WithLabelValues("payment_error").Inc()
		return domain.Order{}, fmt.Errorf("create payment intent: %w", err)
	}

	updated, err := s.orders.ToPaymentPending(ctx, orderID, intent.ID, actor)
	if err != nil {
		s.releaseReservations(ctx, reserved)
		if cancelErr := s.payments.CancelIntent(ctx, intent.ID, "checkout aborted"); cancelErr != nil {
			s.logger.Warn().Err(cancelErr).Str("intent_id", intent.ID).Msg("failed to cancel orphaned payment intent")
		}
		return domain.Order{}, err
	}

	s.metrics.CheckoutsTotal.WithLabelValues("initiated").Inc()
	s.logger.Info().
		Str("order_id", orderID).
		Str("intent_id", intent.ID).
		Int("items", len(items)).
		Msg("checkout initiated")
	return updated, nil
}

// reserveLot flips one lot LIVE -> RESERVED after verifying this order's hold
// still backs it. A lot already RESERVED behind this order's active hold (a
// previous initiate that later failed payment) counts as reserved, so a
// checkout retry does not conflict with its own earlier reservation.
func (s *CheckoutService) reserveLot(ctx context.Context, orderID, lotID string) error {
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(txCtx, lotID)
		if err != nil {
			return err
		}
		if lot.Status != domain.LotStatusLive && lot.Status != domain.LotStatusReserved {
			return fmt.Errorf("%w: lot %s is %s", domain.ErrLotNotLive, lotID, lot.Status)
		}

		holds, err := s.holds.GetHoldsForOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		backed := false
		for _, h := range holds {
			if h.LotID == lotID && h.ExpiresAt.After(now) {
				backed = true
				break
			}
		}
		if !backed {
			return fmt.Errorf("%w: no active hold for lot %s", domain.ErrHoldNotActive, lotID)
		}

		// Only one ACTIVE hold per lot exists, so a RESERVED lot backed by
		// this order's hold can only be this order's own reservation.
		if lot.Status == domain.LotStatusReserved {
			return nil
		}
		return s.repo.SetLotStatus(txCtx, lotID, domain.LotStatusLive, domain.LotStatusReserved)
	})
}

func (s *CheckoutService) releaseReservations(ctx context.Context, lotIDs []string) {
	for _, lotID := range lotIDs {
		if err := s.repo.SetLotStatus(ctx, lotID, domain.LotStatusReserved, domain.LotStatusLive); err != nil {
			s.logger.Error().
				Err(err).
				Str("lot_id", lotID).
				Msg("failed to roll back lot reservation")
		}
	}
}

// CompleteCheckout transfers every item to SOLD after the payment webhook has
// confirmed the charge. Money has already moved, so per-item failures are
// collected and surfaced for manual reconciliation instead of aborting the
// remaining items. The call is idempotent: lots already SOLD to this order
// are skipped, so a webhook redelivery after a partial failure finishes the
// remaining items instead of failing them all again.
func (s *CheckoutService) CompleteCheckout(ctx context.Context, orderID, actor string) error {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPaymentConfirmed {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, orderID, order.Status)
	}

	items, err := s.repo.ListItems(ctx, orderID)
	if err != nil {
		return err
	}
	holds, err := s.holds.GetHoldsForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	holdByLot := make(map[string]domain.Hold, len(holds))
	for _, h := range holds {
		holdByLot[h.LotID] = h
	}

	var unreconciled []string
	for _, item := range items {
		lot, err := s.repo.GetLot(ctx, item.LotID)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("order_id", orderID).
				Str("lot_id", item.LotID).
				Msg("failed to read lot after payment capture")
			unreconciled = append(unreconciled, item.LotID)
			continue
		}
		if lot.Status == domain.LotStatusSold && lot.OrderID != nil && *lot.OrderID == orderID {
			// Transferred by an earlier attempt. If its conversion failed
			// back then, the hold is still in holdByLot and gets retried.
			if hold, ok := holdByLot[item.LotID]; ok {
				if _, err := s.holds.ConvertHoldToSale(ctx, hold.ID, "payment confirmed", actor); err != nil {
					s.logger.Error().
						Err(err).
						Str("order_id", orderID).
						Str("hold_id", hold.ID).
						Msg("failed to convert hold after payment capture")
					unreconciled = append(unreconciled, item.LotID)
				}
			}
			continue
		}

		if err := s.repo.MarkLotSold(ctx, item.LotID, orderID); err != nil {
			s.logger.Error().
				Err(err).
				Str("order_id", orderID).
				Str("lot_id", item.LotID).
				Msg("failed to mark lot sold after payment capture")
			unreconciled = append(unreconciled, item.LotID)
			continue
		}
		hold, ok := holdByLot[item.LotID]
		if !ok {
			s.logger.Error().
				Str("order_id", orderID).
				Str("lot_id", item.LotID).
				Msg("no active hold to convert after payment capture")
			unreconciled = append(unreconciled, item.LotID)
			continue
		}
		if _, err := s.holds.ConvertHoldToSale(ctx, hold.ID, "payment confirmed", actor); err != nil {
			s.logger.Error().
				Err(err).
				Str("order_id", orderID).
				Str("hold_id", hold.ID).
				Msg("failed to convert hold after payment capture")
			unreconciled = append(unreconciled, item.LotID)
		}
	}

	if len(unreconciled) > 0 {
		return &domain.ReconciliationError{OrderID: orderID, LotIDs: unreconciled}
	}

	s.logger.Info().Str("order_id", orderID).Int("items", len(items)).Msg("checkout completed")
	return nil
}

// CancelCheckout unwinds a PAYMENT_PENDING order: releases its holds (which
// puts the reserved lots back to LIVE), best-effort cancels the payment
// intent, and moves the order to CANCELLED. Individual hold failures never
// stop the cancellation; the sweeper releases what is left at expiry.
func (s *CheckoutService) CancelCheckout(ctx context.Context, orderID, reason, actor string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPaymentPending {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidOrderState, orderID, order.Status)
	}

	holds, err := s.holds.GetHoldsForOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	for _, h := range holds {
		if _, err := s.holds.ReleaseHold(ctx, h.ID, "checkout cancelled: "+reason, actor); err != nil {
			s.logger.Warn().
				Err(err).
				Str("hold_id", h.ID).
				Str("lot_id", h.LotID).
				Msg("failed to release hold during cancellation")
		}
	}

	if order.PaymentRef != "" {
		if err := s.payments.CancelIntent(ctx, order.PaymentRef, reason); err != nil {
			s.logger.Warn().
				Err(err).
				Str("intent_id", order.PaymentRef).
				Msg("failed to cancel payment intent")
		}
	}

	return s.orders.ToCancelled(ctx, orderID, reason, actor)
}

// MarkProcessing, MarkShipped, MarkDelivered and MarkRefunded are the
// fulfillment wrappers over the state machine. MarkShipped notifies the buyer
// fire-and-forget.
func (s *CheckoutService) MarkProcessing(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.orders.ToProcessing(ctx, orderID, actor)
}

func (s *CheckoutService) MarkShipped(ctx context.Context, orderID, actor string) (domain.Order, error) {
	order, err := s.orders.ToShipped(ctx, orderID, actor)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.notifier.ShipmentNotified(ctx, order); err != nil {
		s.logger.Warn().Err(err).Str("order_id", orderID).Msg("shipment notification failed")
	}
	return order, nil
}

func (s *CheckoutService) MarkDelivered(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.orders.ToDelivered(ctx, orderID, actor)
}

func (s *CheckoutService) MarkRefunded(ctx context.Context, orderID, reason, actor string) (domain.Order, error) {
	return s.orders.ToRefunded(ctx, orderID, reason, actor)
}
