package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/clock"
	"github.com/vmoreno/curiosa-api/internal/domain"
)

type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) error
	AppendOrderAudit(ctx context.Context, audit domain.OrderAudit) error
}

// OrderService is the only writer of order status. Every transition validates
// against the transition table and appends an audit row in the same
// transaction as the status write.
type OrderService struct {
	repo   OrderRepository
	clock  clock.Clock
	logger zerolog.Logger
}

func NewOrderService(repo OrderRepository, clk clock.Clock, logger zerolog.Logger) *OrderService {
	return &OrderService{
		repo:   repo,
		clock:  clk,
		logger: logger,
	}
}

// ValidateTransition exposes the transition table check without side effects.
func (s *OrderService) ValidateTransition(from, to domain.OrderStatus) error {
	return domain.ValidateTransition(from, to)
}

func (s *OrderService) ToPaymentPending(ctx context.Context, orderID, paymentRef, actor string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusPaymentPending, "checkout initiated", actor,
		func(o *domain.Order, now time.Time) {
			o.PaymentRef = paymentRef
			o.PaymentPendingAt = &now
		})
}

func (s *OrderService) ToPaymentConfirmed(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusPaymentConfirmed, "payment confirmed", actor,
		func(o *domain.Order, now time.Time) {
			o.PaidAt = &now
		})
}

func (s *OrderService) ToPaymentFailed(ctx context.Context, orderID, reason, actor string) (domain.Order, error) {
	if reason == "" {
		reason = "payment failed"
	}
	return s.transition(ctx, orderID, domain.OrderStatusPaymentFailed, reason, actor, nil)
}

func (s *OrderService) ToProcessing(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusProcessing, "order processing", actor, nil)
}

func (s *OrderService) ToShipped(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusShipped, "order shipped", actor,
		func(o *domain.Order, now time.Time) {
			o.ShippedAt = &now
		})
}

func (s *OrderService) ToDelivered(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusDelivered, "order delivered", actor,
		func(o *domain.Order, now time.Time) {
			o.DeliveredAt = &now
		})
}

func (s *OrderService) ToCancelled(ctx context.Context, orderID, reason, actor string) (domain.Order, error) {
	if reason == "" {
		reason = "order cancelled"
	}
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, reason, actor,
		func(o *domain.Order, now time.Time) {
			o.CancelledAt = &now
		})
}

func (s *OrderService) ToRefunded(ctx context.Context, orderID, reason, actor string) (domain.Order, error) {
	if reason == "" {
		reason = "order refunded"
	}
	return s.transition(ctx, orderID, domain.OrderStatusRefunded, reason, actor,
		func(o *domain.Order, now time.Time) {
			o.RefundedAt = &now
		})
}

// ReopenCart is the PAYMENT_FAILED -> CART edge: the buyer gets the cart back
// to retry with different payment details.
func (s *OrderService) ReopenCart(ctx context.Context, orderID, actor string) (domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderStatusCart, "cart reopened after payment failure", actor,
		func(o *domain.Order, _ time.Time) {
			o.PaymentRef = ""
			o.PaymentPendingAt = nil
		})
}

func (s *OrderService) transition(
	ctx context.Context,
	orderID string,
	to domain.OrderStatus,
	reason, actor string,
	apply func(*domain.Order, time.Time),
) (domain.Order, error) {
	now := s.clock.Now()
	var result domain.Order

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
		if err != nil {
			return err
		}
		if err := domain.ValidateTransition(order.Status, to); err != nil {
			return err
		}

		from := order.Status
		order.Status = to
		order.UpdatedAt = now
		if apply != nil {
			apply(&order, now)
		}

		if err := s.repo.UpdateOrder(txCtx, order); err != nil {
			return err
		}
		if err := s.repo.AppendOrderAudit(txCtx, domain.OrderAudit{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			FromStatus: from,
			ToStatus:   to,
			Reason:     reason,
			ChangedBy:  actor,
			ChangedAt:  now,
		}); err != nil {
			return err
		}

		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info().
		Str("order_id", result.ID).
		Str("status", string(to)).
		Str("reason", reason).
		Msg("order transition")
	return result, nil
}
