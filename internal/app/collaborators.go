package app

import (
	"context"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

// PaymentIntent is the provider's handle for an in-flight charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Amount       int64
}

// PaymentProvider is the external payment collaborator. Webhook delivery and
// signature validation live in the provider integration, not here.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, orderID string, amountMinorUnits int64, payerEmail string) (PaymentIntent, error)
	CancelIntent(ctx context.Context, intentID, reason string) error
}

// Notifier sends fire-and-forget notifications. Failures are logged by
// callers and never block order transitions.
type Notifier interface {
	ShipmentNotified(ctx context.Context, order domain.Order) error
}

// Lease serializes the sweeper across process instances. Acquire returns
// false when another instance holds the lease.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
