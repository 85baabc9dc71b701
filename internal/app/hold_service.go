package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/clock"
	"github.com/vmoreno/curiosa-api/internal/domain"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetLotForUpdate(ctx context.Context, lotID string) (domain.Lot, error)
	SetLotStatus(ctx context.Context, lotID string, from, to domain.LotStatus) error
	GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error)
	FindActiveHoldForLot(ctx context.Context, lotID string) (*domain.Hold, error)
	CreateHold(ctx context.Context, hold domain.Hold) error
	UpdateHold(ctx context.Context, hold domain.Hold) error
	ListActiveHoldsForLot(ctx context.Context, lotID string) ([]domain.Hold, error)
	ListActiveHoldsForOrder(ctx context.Context, orderID string) ([]domain.Hold, error)
	ListActiveHoldsForSession(ctx context.Context, sessionID string) ([]domain.Hold, error)
	ListExpiredActiveHolds(ctx context.Context, now time.Time) ([]domain.Hold, error)
	CountHoldsByStatus(ctx context.Context) (map[domain.HoldStatus]int, error)
	CountActiveExpiringBefore(ctx context.Context, cutoff time.Time) (int, error)
	AppendHoldAudit(ctx context.Context, audit domain.HoldAudit) error
}

// HoldService owns the inventory-hold lifecycle. The "at most one ACTIVE hold
// per lot" invariant is enforced by the store's partial unique index; the
// in-transaction lookup only produces a friendlier error for the common case.
type HoldService struct {
	repo    HoldRepository
	clock   clock.Clock
	logger  zerolog.Logger
	holdTTL time.Duration
}

const defaultHoldTTL = 30 * time.Minute

// expiringSoonWindow is the dashboard cutoff for "about to expire".
const expiringSoonWindow = 5 * time.Minute

func NewHoldService(repo HoldRepository, clk clock.Clock, logger zerolog.Logger, opts ...HoldServiceOption) *HoldService {
	svc := &HoldService{
		repo:    repo,
		clock:   clk,
		logger:  logger,
		holdTTL: defaultHoldTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type HoldServiceOption func(*HoldService)

// WithHoldTTL overrides the default duration for new holds.
func WithHoldTTL(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

type CreateHoldInput struct {
	LotID    string
	Owner    domain.HoldOwner
	Quantity int
	Duration time.Duration
	Actor    string
}

func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (domain.Hold, error) {
	if in.Quantity <= 0 {
		return domain.Hold{}, domain.ErrInvalidQuantity
	}
	if in.Owner.IsZero() {
		return domain.Hold{}, domain.ErrOwnerRequired
	}
	ttl := in.Duration
	if ttl <= 0 {
		ttl = s.holdTTL
	}

	now := s.clock.Now()
	var result domain.Hold

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		lot, err := s.repo.GetLotForUpdate(txCtx, in.LotID)
		if err != nil {
			return err
		}
		if lot.Status != domain.LotStatusLive {
			return fmt.Errorf("%w: lot %s is %s", domain.ErrLotNotLive, lot.ID, lot.Status)
		}

		if existing, err := s.repo.FindActiveHoldForLot(txCtx, in.LotID); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("%w: lot %s held by %s", domain.ErrLotHeld, in.LotID, existing.Owner)
		}

		hold := domain.Hold{
			ID:        uuid.NewString(),
			LotID:     in.LotID,
			Owner:     in.Owner,
			Quantity:  in.Quantity,
			Status:    domain.HoldStatusActive,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
			CreatedBy: in.Actor,
		}

		// The partial unique index makes the loser of a concurrent create
		// fail here with ErrLotHeld.
		if err := s.repo.CreateHold(txCtx, hold); err != nil {
			return err
		}
		if err := s.repo.AppendHoldAudit(txCtx, domain.HoldAudit{
			ID:        uuid.NewString(),
			HoldID:    hold.ID,
			ToStatus:  domain.HoldStatusActive,
			Reason:    "hold created",
			ChangedBy: in.Actor,
			ChangedAt: now,
		}); err != nil {
			return err
		}

		result = hold
		return nil
	})
	if err != nil {
		return domain.Hold{}, err
	}

	s.logger.Debug().
		Str("hold_id", result.ID).
		Str("lot_id", result.LotID).
		Str("owner", result.Owner.String()).
		Time("expires_at", result.ExpiresAt).
		Msg("hold created")
	return result, nil
}

// ReleaseHold moves an ACTIVE hold to RELEASED. Terminal holds are immutable;
// a second release fails with ErrHoldNotActive and never touches released_at.
func (s *HoldService) ReleaseHold(ctx context.Context, holdID, reason, actor string) (domain.Hold, error) {
	return s.closeHold(ctx, holdID, domain.HoldStatusReleased, reason, actor)
}

// ConvertHoldToSale moves an ACTIVE hold to CONVERTED_TO_SALE once payment is
// confirmed. Calling it twice fails the second time.
func (s *HoldService) ConvertHoldToSale(ctx context.Context, holdID, reason, actor string) (domain.Hold, error) {
	return s.closeHold(ctx, holdID, domain.HoldStatusConverted, reason, actor)
}

func (s *HoldService) closeHold(ctx context.Context, holdID string, to domain.HoldStatus, reason, actor string) (domain.Hold, error) {
	now := s.clock.Now()
	var result domain.Hold

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		hold, err := s.repo.GetHoldForUpdate(txCtx, holdID)
		if err != nil {
			return err
		}
		if hold.Status != domain.HoldStatusActive {
			return fmt.Errorf("%w: hold %s is %s", domain.ErrHoldNotActive, holdID, hold.Status)
		}

		from := hold.Status
		hold.Status = to
		hold.ReleasedAt = &now
		hold.ReleasedReason = reason

		if err := s.repo.UpdateHold(txCtx, hold); err != nil {
			return err
		}

		// A released hold makes the lot sellable again. The checkout flow
		// reserves lots behind its holds, so a hold that dies by expiry or
		// cancellation must put a RESERVED lot back to LIVE in the same
		// transaction.
		if to == domain.HoldStatusReleased {
			lot, err := s.repo.GetLotForUpdate(txCtx, hold.LotID)
			if err != nil {
				return err
			}
			if lot.Status == domain.LotStatusReserved {
				if err := s.repo.SetLotStatus(txCtx, hold.LotID, domain.LotStatusReserved, domain.LotStatusLive); err != nil {
					return err
				}
			}
		}

		if err := s.repo.AppendHoldAudit(txCtx, domain.HoldAudit{
			ID:         uuid.NewString(),
			HoldID:     hold.ID,
			FromStatus: from,
			ToStatus:   to,
			Reason:     reason,
			ChangedBy:  actor,
			ChangedAt:  now,
		}); err != nil {
			return err
		}

		result = hold
		return nil
	})
	if err != nil {
		return domain.Hold{}, err
	}

	s.logger.Debug().
		Str("hold_id", result.ID).
		Str("lot_id", result.LotID).
		Str("status", string(to)).
		Str("reason", reason).
		Msg("hold closed")
	return result, nil
}

const expiredReason = "expired — cart abandoned"

// ReleaseExpiredHolds releases every ACTIVE hold past its expiry. A failing
// hold is logged and skipped; the next sweep retries it. Returns the holds
// actually released.
func (s *HoldService) ReleaseExpiredHolds(ctx context.Context) ([]domain.Hold, error) {
	now := s.clock.Now()
	expired, err := s.repo.ListExpiredActiveHolds(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired holds: %w", err)
	}

	released := make([]domain.Hold, 0, len(expired))
	for _, hold := range expired {
		h, err := s.ReleaseHold(ctx, hold.ID, expiredReason, "sweeper")
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("hold_id", hold.ID).
				Str("lot_id", hold.LotID).
				Msg("failed to release expired hold, will retry next sweep")
			continue
		}
		released = append(released, h)
	}
	return released, nil
}

func (s *HoldService) GetHoldsForLot(ctx context.Context, lotID string) ([]domain.Hold, error) {
	return s.repo.ListActiveHoldsForLot(ctx, lotID)
}

func (s *HoldService) GetHoldsForOrder(ctx context.Context, orderID string) ([]domain.Hold, error) {
	return s.repo.ListActiveHoldsForOrder(ctx, orderID)
}

func (s *HoldService) GetHoldsForSession(ctx context.Context, sessionID string) ([]domain.Hold, error) {
	return s.repo.ListActiveHoldsForSession(ctx, sessionID)
}

// HoldStatistics is an operational snapshot; no side effects.
type HoldStatistics struct {
	ByStatus     map[domain.HoldStatus]int
	ExpiringSoon int
}

func (s *HoldService) GetHoldStatistics(ctx context.Context) (HoldStatistics, error) {
	byStatus, err := s.repo.CountHoldsByStatus(ctx)
	if err != nil {
		return HoldStatistics{}, fmt.Errorf("count holds: %w", err)
	}
	soon, err := s.repo.CountActiveExpiringBefore(ctx, s.clock.Now().Add(expiringSoonWindow))
	if err != nil {
		return HoldStatistics{}, fmt.Errorf("count expiring holds: %w", err)
	}
	return HoldStatistics{ByStatus: byStatus, ExpiringSoon: soon}, nil
}
