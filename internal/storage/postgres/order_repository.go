package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

// OrderRepository persists order status and the audit trail. It backs the
// order state machine; totals and items live in CartRepository.
type OrderRepository struct {
	q querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{q: querier{pool: pool}}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.q.pool, fn)
}

const orderColumns = `id, order_number, buyer_email, session_id, status, shipping_method,
subtotal, tax, shipping, total, payment_ref, created_at, updated_at,
payment_pending_at, paid_at, shipped_at, delivered_at, cancelled_at, refunded_at`

func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1 FOR UPDATE`, orderColumns)
	return scanOrder(r.q.queryRow(ctx, query, orderID))
}

func (r *OrderRepository) UpdateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
UPDATE orders
SET status = $2, payment_ref = $3, updated_at = $4,
    payment_pending_at = $5, paid_at = $6, shipped_at = $7,
    delivered_at = $8, cancelled_at = $9, refunded_at = $10
WHERE id = $1`

	tag, err := r.q.exec(ctx, stmt,
		order.ID,
		order.Status,
		nullable(order.PaymentRef),
		order.UpdatedAt,
		order.PaymentPendingAt,
		order.PaidAt,
		order.ShippedAt,
		order.DeliveredAt,
		order.CancelledAt,
		order.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) AppendOrderAudit(ctx context.Context, audit domain.OrderAudit) error {
	const stmt = `
INSERT INTO order_audits (id, order_id, from_status, to_status, reason, changed_by, changed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.q.exec(ctx, stmt,
		audit.ID,
		audit.OrderID,
		nullable(string(audit.FromStatus)),
		audit.ToStatus,
		nullable(audit.Reason),
		nullable(audit.ChangedBy),
		audit.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("append order audit: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var buyerEmail, sessionID, paymentRef *string
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&buyerEmail,
		&sessionID,
		&o.Status,
		&o.ShippingMethod,
		&o.Subtotal,
		&o.Tax,
		&o.Shipping,
		&o.Total,
		&paymentRef,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.PaymentPendingAt,
		&o.PaidAt,
		&o.ShippedAt,
		&o.DeliveredAt,
		&o.CancelledAt,
		&o.RefundedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	if buyerEmail != nil {
		o.BuyerEmail = *buyerEmail
	}
	if sessionID != nil {
		o.SessionID = *sessionID
	}
	if paymentRef != nil {
		o.PaymentRef = *paymentRef
	}
	return o, nil
}
