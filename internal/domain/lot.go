package domain

import "time"

type LotStatus string

const (
	LotStatusDraft    LotStatus = "DRAFT"
	LotStatusLive     LotStatus = "LIVE"
	LotStatusReserved LotStatus = "RESERVED"
	LotStatusSold     LotStatus = "SOLD"
	LotStatusRemoved  LotStatus = "REMOVED"
	LotStatusReturned LotStatus = "RETURNED"
)

// Lot is a single physical sellable unit. The catalog subsystem owns
// everything but the status flips between LIVE, RESERVED and SOLD, which
// belong to the checkout flow.
type Lot struct {
	ID        string
	Title     string
	Status    LotStatus
	Price     float64
	OrderID   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
