// Package payment provides the sandbox payment provider used in development
// and tests. The production provider integration lives outside this service.
package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vmoreno/curiosa-api/internal/app"
)

// Sandbox issues deterministic intents and tracks cancellations in memory.
type Sandbox struct {
	mu        sync.Mutex
	intents   map[string]app.PaymentIntent
	cancelled map[string]string
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		intents:   make(map[string]app.PaymentIntent),
		cancelled: make(map[string]string),
	}
}

func (s *Sandbox) CreateIntent(_ context.Context, orderID string, amountMinorUnits int64, _ string) (app.PaymentIntent, error) {
	if amountMinorUnits <= 0 {
		return app.PaymentIntent{}, fmt.Errorf("invalid amount %d for order %s", amountMinorUnits, orderID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	intent := app.PaymentIntent{
		ID:           "pi_" + uuid.NewString(),
		ClientSecret: "secret_" + uuid.NewString(),
		Amount:       amountMinorUnits,
	}
	s.intents[intent.ID] = intent
	return intent, nil
}

func (s *Sandbox) CancelIntent(_ context.Context, intentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intentID]; !ok {
		return fmt.Errorf("unknown intent %s", intentID)
	}
	s.cancelled[intentID] = reason
	return nil
}

// Cancelled reports whether an intent was cancelled, for tests.
func (s *Sandbox) Cancelled(intentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[intentID]
	return ok
}
