package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/clock"
	"github.com/vmoreno/curiosa-api/internal/domain"
)

func TestHoldService_CreateHold(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 15 * time.Minute

	makeSvc := func(lots []domain.Lot, holds []domain.Hold) (*HoldService, *fakeHoldRepo) {
		repo := newFakeHoldRepo(lots, holds)
		svc := NewHoldService(repo, clock.NewFixed(now), zerolog.Nop(), WithHoldTTL(ttl))
		return svc, repo
	}

	t.Run("creates hold on a live lot", func(t *testing.T) {
		svc, repo := makeSvc(
			[]domain.Lot{{ID: "lot-1", Status: domain.LotStatusLive, Price: 20}},
			nil,
		)

		hold, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID:    "lot-1",
			Owner:    domain.OrderOwner("order-1"),
			Quantity: 1,
			Actor:    "buyer",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if hold.ID == "" {
			t.Fatalf("expected hold ID to be set")
		}
		if hold.Status != domain.HoldStatusActive {
			t.Fatalf("expected status ACTIVE, got %s", hold.Status)
		}
		if !hold.ExpiresAt.Equal(now.Add(ttl)) {
			t.Fatalf("expected expires_at %v, got %v", now.Add(ttl), hold.ExpiresAt)
		}
		if len(repo.holds) != 1 {
			t.Fatalf("expected 1 hold in repo, got %d", len(repo.holds))
		}
		if len(repo.audits) != 1 || repo.audits[0].ToStatus != domain.HoldStatusActive {
			t.Fatalf("expected one creation audit row, got %+v", repo.audits)
		}
	})

	t.Run("custom duration overrides service ttl", func(t *testing.T) {
		svc, _ := makeSvc(
			[]domain.Lot{{ID: "lot-1", Status: domain.LotStatusLive}},
			nil,
		)

		hold, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID:    "lot-1",
			Owner:    domain.SessionOwner("sess-1"),
			Quantity: 1,
			Duration: time.Hour,
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !hold.ExpiresAt.Equal(now.Add(time.Hour)) {
			t.Fatalf("expected expires_at %v, got %v", now.Add(time.Hour), hold.ExpiresAt)
		}
	})

	t.Run("rejects non-live lot", func(t *testing.T) {
		svc, repo := makeSvc(
			[]domain.Lot{{ID: "lot-1", Status: domain.LotStatusSold}},
			nil,
		)

		_, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID:    "lot-1",
			Owner:    domain.OrderOwner("order-1"),
			Quantity: 1,
		})
		if !errors.Is(err, domain.ErrLotNotLive) {
			t.Fatalf("expected ErrLotNotLive, got %v", err)
		}
		if len(repo.holds) != 0 {
			t.Fatalf("expected no hold written, got %d", len(repo.holds))
		}
	})

	t.Run("rejects lot with an active hold", func(t *testing.T) {
		svc, _ := makeSvc(
			[]domain.Lot{{ID: "lot-1", Status: domain.LotStatusLive}},
			[]domain.Hold{{
				ID: "hold-1", LotID: "lot-1",
				Owner:  domain.SessionOwner("sess-9"),
				Status: domain.HoldStatusActive, ExpiresAt: now.Add(time.Minute),
			}},
		)

		_, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID:    "lot-1",
			Owner:    domain.OrderOwner("order-1"),
			Quantity: 1,
		})
		if !errors.Is(err, domain.ErrLotHeld) {
			t.Fatalf("expected ErrLotHeld, got %v", err)
		}
	})

	t.Run("terminal hold does not block a new one", func(t *testing.T) {
		svc, _ := makeSvc(
			[]domain.Lot{{ID: "lot-1", Status: domain.LotStatusLive}},
			[]domain.Hold{{
				ID: "hold-1", LotID: "lot-1",
				Owner:  domain.SessionOwner("sess-9"),
				Status: domain.HoldStatusReleased,
			}},
		)

		if _, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID:    "lot-1",
			Owner:    domain.OrderOwner("order-1"),
			Quantity: 1,
		}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("rejects invalid quantity", func(t *testing.T) {
		svc, _ := makeSvc(nil, nil)
		_, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID: "lot-1",
			Owner: domain.OrderOwner("order-1"),
		})
		if !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Fatalf("expected ErrInvalidQuantity, got %v", err)
		}
	})

	t.Run("rejects missing owner", func(t *testing.T) {
		svc, _ := makeSvc(nil, nil)
		_, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID:    "lot-1",
			Quantity: 1,
		})
		if !errors.Is(err, domain.ErrOwnerRequired) {
			t.Fatalf("expected ErrOwnerRequired, got %v", err)
		}
	})

	t.Run("unknown lot", func(t *testing.T) {
		svc, _ := makeSvc(nil, nil)
		_, err := svc.CreateHold(context.Background(), CreateHoldInput{
			LotID:    "missing",
			Owner:    domain.OrderOwner("order-1"),
			Quantity: 1,
		})
		if !errors.Is(err, domain.ErrLotNotFound) {
			t.Fatalf("expected ErrLotNotFound, got %v", err)
		}
	})
}

func TestHoldService_CloseHold(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	makeSvc := func(holds []domain.Hold) (*HoldService, *fakeHoldRepo) {
		repo := newFakeHoldRepo(
			[]domain.Lot{{ID: "lot-1", Status: domain.LotStatusLive}},
			holds,
		)
		return NewHoldService(repo, clock.NewFixed(now), zerolog.Nop()), repo
	}

	active := domain.Hold{
		ID: "hold-1", LotID: "lot-1",
		Owner:     domain.OrderOwner("order-1"),
		Status:    domain.HoldStatusActive,
		ExpiresAt: now.Add(10 * time.Minute),
	}

	t.Run("release sets terminal state and audit", func(t *testing.T) {
		svc, repo := makeSvc([]domain.Hold{active})

		hold, err := svc.ReleaseHold(context.Background(), "hold-1", "buyer changed mind", "buyer")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if hold.Status != domain.HoldStatusReleased {
			t.Fatalf("expected RELEASED, got %s", hold.Status)
		}
		if hold.ReleasedAt == nil || !hold.ReleasedAt.Equal(now) {
			t.Fatalf("expected released_at %v, got %v", now, hold.ReleasedAt)
		}
		if hold.ReleasedReason != "buyer changed mind" {
			t.Fatalf("unexpected reason %q", hold.ReleasedReason)
		}
		if len(repo.audits) != 1 || repo.audits[0].FromStatus != domain.HoldStatusActive {
			t.Fatalf("expected one transition audit, got %+v", repo.audits)
		}
	})

	t.Run("release puts a reserved lot back to LIVE", func(t *testing.T) {
		svc, repo := makeSvc([]domain.Hold{active})
		repo.lots["lot-1"] = domain.Lot{ID: "lot-1", Status: domain.LotStatusReserved}

		if _, err := svc.ReleaseHold(context.Background(), "hold-1", "checkout abandoned", "sweeper"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if got := repo.lots["lot-1"].Status; got != domain.LotStatusLive {
			t.Fatalf("expected lot back to LIVE, got %s", got)
		}
	})

	t.Run("convert leaves the lot status alone", func(t *testing.T) {
		svc, repo := makeSvc([]domain.Hold{active})
		repo.lots["lot-1"] = domain.Lot{ID: "lot-1", Status: domain.LotStatusSold}

		if _, err := svc.ConvertHoldToSale(context.Background(), "hold-1", "payment confirmed", "webhook"); err != nil {
			t.Fatalf("convert: %v", err)
		}
		if got := repo.lots["lot-1"].Status; got != domain.LotStatusSold {
			t.Fatalf("expected lot to stay SOLD, got %s", got)
		}
	})

	t.Run("second release fails and leaves the hold untouched", func(t *testing.T) {
		svc, repo := makeSvc([]domain.Hold{active})

		first, err := svc.ReleaseHold(context.Background(), "hold-1", "first", "buyer")
		if err != nil {
			t.Fatalf("first release: %v", err)
		}

		_, err = svc.ReleaseHold(context.Background(), "hold-1", "second", "buyer")
		if !errors.Is(err, domain.ErrHoldNotActive) {
			t.Fatalf("expected ErrHoldNotActive, got %v", err)
		}

		stored := repo.get(t, "hold-1")
		if stored.ReleasedReason != "first" || !stored.ReleasedAt.Equal(*first.ReleasedAt) {
			t.Fatalf("terminal hold was mutated: %+v", stored)
		}
		if len(repo.audits) != 1 {
			t.Fatalf("expected no audit for the failed release, got %d", len(repo.audits))
		}
	})

	t.Run("convert moves to CONVERTED_TO_SALE", func(t *testing.T) {
		svc, _ := makeSvc([]domain.Hold{active})

		hold, err := svc.ConvertHoldToSale(context.Background(), "hold-1", "payment confirmed", "webhook")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if hold.Status != domain.HoldStatusConverted {
			t.Fatalf("expected CONVERTED_TO_SALE, got %s", hold.Status)
		}
	})

	t.Run("convert after release fails", func(t *testing.T) {
		svc, _ := makeSvc([]domain.Hold{active})

		if _, err := svc.ReleaseHold(context.Background(), "hold-1", "gone", "buyer"); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, err := svc.ConvertHoldToSale(context.Background(), "hold-1", "late", "webhook"); !errors.Is(err, domain.ErrHoldNotActive) {
			t.Fatalf("expected ErrHoldNotActive, got %v", err)
		}
	})

	t.Run("unknown hold", func(t *testing.T) {
		svc, _ := makeSvc(nil)
		if _, err := svc.ReleaseHold(context.Background(), "nope", "", ""); !errors.Is(err, domain.ErrHoldNotFound) {
			t.Fatalf("expected ErrHoldNotFound, got %v", err)
		}
	})
}

func TestHoldService_ReleaseExpiredHolds(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("releases only expired active holds", func(t *testing.T) {
		repo := newFakeHoldRepo([]domain.Lot{
			// lot-1 was reserved by a checkout that never finished; the
			// sweep must make it sellable again, not just close the hold.
			{ID: "lot-1", Status: domain.LotStatusReserved},
			{ID: "lot-2", Status: domain.LotStatusLive},
			{ID: "lot-3", Status: domain.LotStatusLive},
			{ID: "lot-4", Status: domain.LotStatusLive},
		}, []domain.Hold{
			{ID: "h-expired-1", LotID: "lot-1", Owner: domain.OrderOwner("o1"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(-time.Minute)},
			{ID: "h-expired-2", LotID: "lot-2", Owner: domain.SessionOwner("s1"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(-time.Hour)},
			{ID: "h-live", LotID: "lot-3", Owner: domain.OrderOwner("o2"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(time.Minute)},
			{ID: "h-done", LotID: "lot-4", Owner: domain.OrderOwner("o3"), Status: domain.HoldStatusReleased, ExpiresAt: now.Add(-time.Hour)},
		})
		svc := NewHoldService(repo, clock.NewFixed(now), zerolog.Nop())

		released, err := svc.ReleaseExpiredHolds(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(released) != 2 {
			t.Fatalf("expected 2 released, got %d", len(released))
		}
		for _, id := range []string{"h-expired-1", "h-expired-2"} {
			h := repo.get(t, id)
			if h.Status != domain.HoldStatusReleased {
				t.Fatalf("expected %s released, got %s", id, h.Status)
			}
			if h.ReleasedReason != "expired — cart abandoned" {
				t.Fatalf("unexpected reason %q", h.ReleasedReason)
			}
		}
		if repo.get(t, "h-live").Status != domain.HoldStatusActive {
			t.Fatalf("live hold must stay active")
		}
		if got := repo.lots["lot-1"].Status; got != domain.LotStatusLive {
			t.Fatalf("expected reserved lot back to LIVE after sweep, got %s", got)
		}
	})

	t.Run("a failing hold is skipped, the rest proceed", func(t *testing.T) {
		repo := newFakeHoldRepo([]domain.Lot{
			{ID: "lot-1", Status: domain.LotStatusLive},
			{ID: "lot-2", Status: domain.LotStatusLive},
			{ID: "lot-3", Status: domain.LotStatusLive},
		}, []domain.Hold{
			{ID: "h-1", LotID: "lot-1", Owner: domain.OrderOwner("o1"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(-time.Minute)},
			{ID: "h-2", LotID: "lot-2", Owner: domain.OrderOwner("o2"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(-time.Minute)},
			{ID: "h-3", LotID: "lot-3", Owner: domain.OrderOwner("o3"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(-time.Minute)},
		})
		repo.failUpdateFor = "h-2"
		svc := NewHoldService(repo, clock.NewFixed(now), zerolog.Nop())

		released, err := svc.ReleaseExpiredHolds(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(released) != 2 {
			t.Fatalf("expected 2 released despite failure, got %d", len(released))
		}
		if repo.get(t, "h-2").Status != domain.HoldStatusActive {
			t.Fatalf("failed hold must remain active for the next sweep")
		}
	})
}

func TestHoldService_GetHoldStatistics(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeHoldRepo(nil, []domain.Hold{
		{ID: "h-1", LotID: "l1", Owner: domain.OrderOwner("o1"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(2 * time.Minute)},
		{ID: "h-2", LotID: "l2", Owner: domain.OrderOwner("o2"), Status: domain.HoldStatusActive, ExpiresAt: now.Add(time.Hour)},
		{ID: "h-3", LotID: "l3", Owner: domain.OrderOwner("o3"), Status: domain.HoldStatusReleased},
		{ID: "h-4", LotID: "l4", Owner: domain.OrderOwner("o4"), Status: domain.HoldStatusConverted},
	})
	svc := NewHoldService(repo, clock.NewFixed(now), zerolog.Nop())

	stats, err := svc.GetHoldStatistics(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stats.ByStatus[domain.HoldStatusActive] != 2 {
		t.Fatalf("expected 2 active, got %d", stats.ByStatus[domain.HoldStatusActive])
	}
	if stats.ByStatus[domain.HoldStatusReleased] != 1 || stats.ByStatus[domain.HoldStatusConverted] != 1 {
		t.Fatalf("unexpected status counts %+v", stats.ByStatus)
	}
	// Only h-1 expires within the 5 minute window.
	if stats.ExpiringSoon != 1 {
		t.Fatalf("expected 1 expiring soon, got %d", stats.ExpiringSoon)
	}
}

type fakeHoldRepo struct {
	lots   map[string]domain.Lot
	holds  []domain.Hold
	audits []domain.HoldAudit

	failUpdateFor string
}

func newFakeHoldRepo(lots []domain.Lot, holds []domain.Hold) *fakeHoldRepo {
	l := make(map[string]domain.Lot)
	for _, lot := range lots {
		l[lot.ID] = lot
	}
	return &fakeHoldRepo{
		lots:  l,
		holds: append([]domain.Hold{}, holds...),
	}
}

func (f *fakeHoldRepo) get(t *testing.T, holdID string) domain.Hold {
	t.Helper()
	for _, h := range f.holds {
		if h.ID == holdID {
			return h
		}
	}
	t.Fatalf("hold %s not in fake repo", holdID)
	return domain.Hold{}
}

func (f *fakeHoldRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeHoldRepo) GetLotForUpdate(_ context.Context, lotID string) (domain.Lot, error) {
	lot, ok := f.lots[lotID]
	if !ok {
		return domain.Lot{}, domain.ErrLotNotFound
	}
	return lot, nil
}

func (f *fakeHoldRepo) SetLotStatus(_ context.Context, lotID string, from, to domain.LotStatus) error {
	lot, ok := f.lots[lotID]
	if !ok || lot.Status != from {
		return fmt.Errorf("%w: lot %s not in status %s", domain.ErrLotNotLive, lotID, from)
	}
	lot.Status = to
	f.lots[lotID] = lot
	return nil
}

func (f *fakeHoldRepo) GetHoldForUpdate(_ context.Context, holdID string) (domain.Hold, error) {
	for _, h := range f.holds {
		if h.ID == holdID {
			return h, nil
		}
	}
	return domain.Hold{}, domain.ErrHoldNotFound
}

func (f *fakeHoldRepo) FindActiveHoldForLot(_ context.Context, lotID string) (*domain.Hold, error) {
	for i := range f.holds {
		h := f.holds[i]
		if h.LotID == lotID && h.Status == domain.HoldStatusActive {
			return &h, nil
		}
	}
	return nil, nil
}

func (f *fakeHoldRepo) CreateHold(_ context.Context, hold domain.Hold) error {
	for _, h := range f.holds {
		if h.LotID == hold.LotID && h.Status == domain.HoldStatusActive {
			return domain.ErrLotHeld
		}
	}
	f.holds = append(f.holds, hold)
	return nil
}

func (f *fakeHoldRepo) UpdateHold(_ context.Context, hold domain.Hold) error {
	if f.failUpdateFor == hold.ID {
		return errors.New("update refused")
	}
	for i := range f.holds {
		if f.holds[i].ID == hold.ID {
			f.holds[i] = hold
			return nil
		}
	}
	return domain.ErrHoldNotFound
}

func (f *fakeHoldRepo) ListActiveHoldsForLot(_ context.Context, lotID string) ([]domain.Hold, error) {
	var out []domain.Hold
	for _, h := range f.holds {
		if h.LotID == lotID && h.Status == domain.HoldStatusActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHoldRepo) ListActiveHoldsForOrder(_ context.Context, orderID string) ([]domain.Hold, error) {
	var out []domain.Hold
	for _, h := range f.holds {
		if id, ok := h.Owner.OrderID(); ok && id == orderID && h.Status == domain.HoldStatusActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHoldRepo) ListActiveHoldsForSession(_ context.Context, sessionID string) ([]domain.Hold, error) {
	var out []domain.Hold
	for _, h := range f.holds {
		if id, ok := h.Owner.SessionID(); ok && id == sessionID && h.Status == domain.HoldStatusActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHoldRepo) ListExpiredActiveHolds(_ context.Context, now time.Time) ([]domain.Hold, error) {
	var out []domain.Hold
	for _, h := range f.holds {
		if h.Status == domain.HoldStatusActive && !h.ExpiresAt.After(now) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHoldRepo) CountHoldsByStatus(_ context.Context) (map[domain.HoldStatus]int, error) {
	out := make(map[domain.HoldStatus]int)
	for _, h := range f.holds {
		out[h.Status]++
	}
	return out, nil
}

func (f *fakeHoldRepo) CountActiveExpiringBefore(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for _, h := range f.holds {
		if h.Status == domain.HoldStatusActive && h.ExpiresAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (f *fakeHoldRepo) AppendHoldAudit(_ context.Context, audit domain.HoldAudit) error {
	f.audits = append(f.audits, audit)
	return nil
}
