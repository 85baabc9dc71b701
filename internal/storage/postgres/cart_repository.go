package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

// CartRepository persists cart items, totals, and the lot status flips the
// checkout flow performs.
type CartRepository struct {
	q querier
}

func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{q: querier{pool: pool}}
}

func (r *CartRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.q.pool, fn)
}

func (r *CartRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, order_number, buyer_email, session_id, status, shipping_method, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.q.exec(ctx, stmt,
		order.ID,
		order.OrderNumber,
		nullable(order.BuyerEmail),
		nullable(order.SessionID),
		order.Status,
		order.ShippingMethod,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *CartRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)
	return scanOrder(r.q.queryRow(ctx, query, orderID))
}

func (r *CartRepository) GetLot(ctx context.Context, lotID string) (domain.Lot, error) {
	const query = `
SELECT id, title, status, price, order_id, created_at, updated_at
FROM lots
WHERE id = $1`

	return scanLot(r.q.queryRow(ctx, query, lotID))
}

func (r *CartRepository) GetLotForUpdate(ctx context.Context, lotID string) (domain.Lot, error) {
	const query = `
SELECT id, title, status, price, order_id, created_at, updated_at
FROM lots
WHERE id = $1
FOR UPDATE`

	return scanLot(r.q.queryRow(ctx, query, lotID))
}

// SetLotStatus is a compare-and-swap on lot status. Zero rows means the lot
// is gone or no longer in the expected state.
func (r *CartRepository) SetLotStatus(ctx context.Context, lotID string, from, to domain.LotStatus) error {
	const stmt = `UPDATE lots SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`

	tag, err := r.q.exec(ctx, stmt, lotID, from, to)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("set lot status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: lot %s not in status %s", domain.ErrLotNotLive, lotID, from)
	}
	return nil
}

func (r *CartRepository) MarkLotSold(ctx context.Context, lotID, orderID string) error {
	const stmt = `
UPDATE lots SET status = $3, order_id = $2, updated_at = NOW()
WHERE id = $1 AND status = $4`

	tag, err := r.q.exec(ctx, stmt, lotID, orderID, domain.LotStatusSold, domain.LotStatusReserved)
	if err != nil {
		return fmt.Errorf("mark lot sold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: lot %s not reserved", domain.ErrLotNotLive, lotID)
	}
	return nil
}

const itemColumns = `id, order_id, lot_id, title, price, added_at`

func (r *CartRepository) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM order_items WHERE order_id = $1 ORDER BY added_at`, itemColumns)

	rows, err := r.q.query(ctx, query, orderID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.LotID, &it.Title, &it.Price, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *CartRepository) FindItem(ctx context.Context, orderID, lotID string) (*domain.OrderItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM order_items WHERE order_id = $1 AND lot_id = $2`, itemColumns)

	var it domain.OrderItem
	err := r.q.queryRow(ctx, query, orderID, lotID).
		Scan(&it.ID, &it.OrderID, &it.LotID, &it.Title, &it.Price, &it.AddedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find item: %w", err)
	}
	return &it, nil
}

func (r *CartRepository) InsertItem(ctx context.Context, item domain.OrderItem) error {
	const stmt = `
INSERT INTO order_items (id, order_id, lot_id, title, price, added_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.q.exec(ctx, stmt, item.ID, item.OrderID, item.LotID, item.Title, item.Price, item.AddedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: lot %s", domain.ErrDuplicateCartItem, item.LotID)
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (r *CartRepository) DeleteItem(ctx context.Context, orderID, lotID string) error {
	const stmt = `DELETE FROM order_items WHERE order_id = $1 AND lot_id = $2`

	tag, err := r.q.exec(ctx, stmt, orderID, lotID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *CartRepository) UpdateOrderTotals(ctx context.Context, orderID, shippingMethod string, totals domain.Totals) error {
	const stmt = `
UPDATE orders
SET shipping_method = $2, subtotal = $3, tax = $4, shipping = $5, total = $6, updated_at = NOW()
WHERE id = $1`

	tag, err := r.q.exec(ctx, stmt, orderID, shippingMethod, totals.Subtotal, totals.Tax, totals.Shipping, totals.Total)
	if err != nil {
		return fmt.Errorf("update totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}
