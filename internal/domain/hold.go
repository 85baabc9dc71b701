package domain

import "time"

type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "ACTIVE"
	HoldStatusReleased  HoldStatus = "RELEASED"
	HoldStatusExpired   HoldStatus = "EXPIRED"
	HoldStatusConverted HoldStatus = "CONVERTED_TO_SALE"
)

// Terminal reports whether a hold status admits no further transitions.
func (s HoldStatus) Terminal() bool {
	switch s {
	case HoldStatusReleased, HoldStatusExpired, HoldStatusConverted:
		return true
	}
	return false
}

// HoldOwner identifies who a hold belongs to: a registered cart by order id
// or a guest cart by session id, never both. The zero value is invalid.
type HoldOwner struct {
	orderID   string
	sessionID string
}

func OrderOwner(orderID string) HoldOwner {
	return HoldOwner{orderID: orderID}
}

func SessionOwner(sessionID string) HoldOwner {
	return HoldOwner{sessionID: sessionID}
}

func (o HoldOwner) OrderID() (string, bool) {
	return o.orderID, o.orderID != ""
}

func (o HoldOwner) SessionID() (string, bool) {
	return o.sessionID, o.sessionID != ""
}

func (o HoldOwner) IsZero() bool {
	return o.orderID == "" && o.sessionID == ""
}

func (o HoldOwner) String() string {
	if o.orderID != "" {
		return "order:" + o.orderID
	}
	if o.sessionID != "" {
		return "session:" + o.sessionID
	}
	return "none"
}

// Hold is a time-bounded claim on one lot for one cart. At most one hold per
// lot may be ACTIVE at any time; holds are never deleted, only moved to a
// terminal status and kept for audit.
type Hold struct {
	ID             string
	LotID          string
	Owner          HoldOwner
	Quantity       int
	Status         HoldStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	ReleasedAt     *time.Time
	ReleasedReason string
	CreatedBy      string
}

// HoldAudit is an append-only record of a hold state change. FromStatus is
// empty for the creation row.
type HoldAudit struct {
	ID         string
	HoldID     string
	FromStatus HoldStatus
	ToStatus   HoldStatus
	Reason     string
	ChangedBy  string
	ChangedAt  time.Time
}
