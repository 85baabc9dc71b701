package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

// HoldRepository persists holds, their audit trail, and the lot reads the
// hold service needs. The partial unique index ux_holds_active_lot backs the
// one-active-hold-per-lot invariant.
type HoldRepository struct {
	q querier
}

func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{q: querier{pool: pool}}
}

func (r *HoldRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.q.pool, fn)
}

func (r *HoldRepository) GetLotForUpdate(ctx context.Context, lotID string) (domain.Lot, error) {
	const query = `
SELECT id, title, status, price, order_id, created_at, updated_at
FROM lots
WHERE id = $1
FOR UPDATE`

	return scanLot(r.q.queryRow(ctx, query, lotID))
}

// SetLotStatus is the same compare-and-swap the cart repository uses; the
// hold service needs it to put a lot back to LIVE when its hold is released.
func (r *HoldRepository) SetLotStatus(ctx context.Context, lotID string, from, to domain.LotStatus) error {
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

const holdColumns = `id, lot_id, order_id, session_id, quantity, status, expires_at, created_at, released_at, released_reason, created_by`

func (r *HoldRepository) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM holds WHERE id = $1 FOR UPDATE`, holdColumns)

	hold, err := scanHold(r.q.queryRow(ctx, query, holdID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Hold{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return hold, nil
}

func (r *HoldRepository) FindActiveHoldForLot(ctx context.Context, lotID string) (*domain.Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM holds WHERE lot_id = $1 AND status = 'ACTIVE'`, holdColumns)

	hold, err := scanHold(r.q.queryRow(ctx, query, lotID))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active hold: %w", err)
	}
	return &hold, nil
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
INSERT INTO holds (id, lot_id, order_id, session_id, quantity, status, expires_at, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	orderID, sessionID := ownerColumns(hold.Owner)
	_, err := r.q.exec(ctx, stmt,
		hold.ID,
		hold.LotID,
		orderID,
		sessionID,
		hold.Quantity,
		hold.Status,
		hold.ExpiresAt,
		hold.CreatedAt,
		nullable(hold.CreatedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: lot %s", domain.ErrLotHeld, hold.LotID)
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) UpdateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
UPDATE holds
SET status = $2, released_at = $3, released_reason = $4
WHERE id = $1`

	tag, err := r.q.exec(ctx, stmt, hold.ID, hold.Status, hold.ReleasedAt, nullable(hold.ReleasedReason))
	if err != nil {
		return fmt.Errorf("update hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

func (r *HoldRepository) ListActiveHoldsForLot(ctx context.Context, lotID string) ([]domain.Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM holds WHERE lot_id = $1 AND status = 'ACTIVE' ORDER BY created_at`, holdColumns)
	return r.listHolds(ctx, query, lotID)
}

func (r *HoldRepository) ListActiveHoldsForOrder(ctx context.Context, orderID string) ([]domain.Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM holds WHERE order_id = $1 AND status = 'ACTIVE' ORDER BY created_at`, holdColumns)
	return r.listHolds(ctx, query, orderID)
}

func (r *HoldRepository) ListActiveHoldsForSession(ctx context.Context, sessionID string) ([]domain.Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM holds WHERE session_id = $1 AND status = 'ACTIVE' ORDER BY created_at`, holdColumns)
	return r.listHolds(ctx, query, sessionID)
}

func (r *HoldRepository) ListExpiredActiveHolds(ctx context.Context, now time.Time) ([]domain.Hold, error) {
	query := fmt.Sprintf(`SELECT %s FROM holds WHERE status = 'ACTIVE' AND expires_at <= $1 ORDER BY expires_at`, holdColumns)
	return r.listHolds(ctx, query, now)
}

func (r *HoldRepository) listHolds(ctx context.Context, query string, args ...any) ([]domain.Hold, error) {
	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list holds: %w", err)
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, hold)
	}
	return holds, rows.Err()
}

func (r *HoldRepository) CountHoldsByStatus(ctx context.Context) (map[domain.HoldStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM holds GROUP BY status`

	rows, err := r.q.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count holds: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.HoldStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.HoldStatus(status)] = count
	}
	return counts, rows.Err()
}

func (r *HoldRepository) CountActiveExpiringBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM holds WHERE status = 'ACTIVE' AND expires_at <= $1`

	var count int
	if err := r.q.queryRow(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("count expiring holds: %w", err)
	}
	return count, nil
}

func (r *HoldRepository) AppendHoldAudit(ctx context.Context, audit domain.HoldAudit) error {
	const stmt = `
INSERT INTO hold_audits (id, hold_id, from_status, to_status, reason, changed_by, changed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.q.exec(ctx, stmt,
		audit.ID,
		audit.HoldID,
		nullable(string(audit.FromStatus)),
		audit.ToStatus,
		nullable(audit.Reason),
		nullable(audit.ChangedBy),
		audit.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("append hold audit: %w", err)
	}
	return nil
}

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	var orderID, sessionID, releasedReason, createdBy *string
	err := row.Scan(
		&h.ID,
		&h.LotID,
		&orderID,
		&sessionID,
		&h.Quantity,
		&h.Status,
		&h.ExpiresAt,
		&h.CreatedAt,
		&h.ReleasedAt,
		&releasedReason,
		&createdBy,
	)
	if err != nil {
		return domain.Hold{}, err
	}
	switch {
	case orderID != nil:
		h.Owner = domain.OrderOwner(*orderID)
	case sessionID != nil:
		h.Owner = domain.SessionOwner(*sessionID)
	}
	if releasedReason != nil {
		h.ReleasedReason = *releasedReason
	}
	if createdBy != nil {
		h.CreatedBy = *createdBy
	}
	return h, nil
}

func scanLot(row pgx.Row) (domain.Lot, error) {
	var l domain.Lot
	err := row.Scan(&l.ID, &l.Title, &l.Status, &l.Price, &l.OrderID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Lot{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Lot{}, domain.ErrLotNotFound
		}
		return domain.Lot{}, fmt.Errorf("get lot: %w", err)
	}
	return l, nil
}

func ownerColumns(owner domain.HoldOwner) (orderID, sessionID *string) {
	if id, ok := owner.OrderID(); ok {
		orderID = &id
	}
	if id, ok := owner.SessionID(); ok {
		sessionID = &id
	}
	return orderID, sessionID
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
