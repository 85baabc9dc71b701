package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/domain"
	"github.com/vmoreno/curiosa-api/internal/metrics"
)

// expiredHoldReleaser is the slice of HoldService the sweeper needs.
type expiredHoldReleaser interface {
	ReleaseExpiredHolds(ctx context.Context) ([]domain.Hold, error)
}

// Sweeper periodically releases expired holds. It is an explicitly
// constructed object with a start/stop lifecycle; overlapping runs are
// skipped, not queued. The boolean guard serializes runs within one process
// only; an optional Lease extends that across instances.
type Sweeper struct {
	holds    expiredHoldReleaser
	interval time.Duration
	lease    Lease
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	active  bool
	running bool
	stop    chan struct{}
}

type SweeperOption func(*Sweeper)

// WithLease makes each run conditional on acquiring a cross-instance lease.
func WithLease(l Lease) SweeperOption {
	return func(s *Sweeper) {
		s.lease = l
	}
}

func NewSweeper(holds expiredHoldReleaser, interval time.Duration, logger zerolog.Logger, m *metrics.Metrics, opts ...SweeperOption) *Sweeper {
	if m == nil {
		m = metrics.New()
	}
	s := &Sweeper{
		holds:    holds,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules periodic sweeps. Calling Start on an active sweeper is a
// no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.stop = make(chan struct{})

	go s.loop(s.stop)
	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
}

// Stop prevents future scheduled runs. It does not interrupt an in-flight
// sweep and is safe to call multiple times or before Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	close(s.stop)
	s.logger.Info().Msg("sweeper stopped")
}

type SweeperStatus struct {
	Active  bool
	Running bool
}

func (s *Sweeper) Status() SweeperStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SweeperStatus{Active: s.active, Running: s.running}
}

func (s *Sweeper) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.TriggerOnce(context.Background())
		}
	}
}

// TriggerOnce runs a single sweep immediately. Returns the number of holds
// released, or -1 when the run was skipped because a sweep was already in
// progress or the lease was held elsewhere.
func (s *Sweeper) TriggerOnce(ctx context.Context) int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("sweep still running, skipping trigger")
		s.metrics.SweepsSkipped.Inc()
		return -1
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("sweep lease acquisition failed")
			return -1
		}
		if !ok {
			s.logger.Debug().Msg("sweep lease held elsewhere, skipping")
			s.metrics.SweepsSkipped.Inc()
			return -1
		}
		defer func() {
			if err := s.lease.Release(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("sweep lease release failed")
			}
		}()
	}

	released, err := s.holds.ReleaseExpiredHolds(ctx)
	s.metrics.SweepsTotal.Inc()
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
		return 0
	}

	s.metrics.HoldsSwept.Add(float64(len(released)))
	if len(released) > 0 {
		s.logger.Info().Int("released", len(released)).Msg("sweep released expired holds")
	}
	return len(released)
}
