package http

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/app"
	"github.com/vmoreno/curiosa-api/internal/domain"
	"github.com/vmoreno/curiosa-api/internal/metrics"
)

// HoldReader is the read-only slice of the hold service the inspection
// endpoints need.
type HoldReader interface {
	GetHoldsForLot(ctx context.Context, lotID string) ([]domain.Hold, error)
	GetHoldsForOrder(ctx context.Context, orderID string) ([]domain.Hold, error)
	GetHoldsForSession(ctx context.Context, sessionID string) ([]domain.Hold, error)
	GetHoldStatistics(ctx context.Context) (app.HoldStatistics, error)
}

// HandleListHolds handles GET /holds?lot_id=|order_id=|session_id=.
func HandleListHolds(svc HoldReader, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		q := r.URL.Query()
		var holds []domain.Hold
		var err error
		switch {
		case q.Get("lot_id") != "":
			holds, err = svc.GetHoldsForLot(r.Context(), q.Get("lot_id"))
		case q.Get("order_id") != "":
			holds, err = svc.GetHoldsForOrder(r.Context(), q.Get("order_id"))
		case q.Get("session_id") != "":
			holds, err = svc.GetHoldsForSession(r.Context(), q.Get("session_id"))
		default:
			writeError(w, http.StatusBadRequest, codeValidation, "one of lot_id, order_id or session_id is required")
			return
		}
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		resp := holdsResponse{Holds: []holdResponse{}}
		for _, h := range holds {
			resp.Holds = append(resp.Holds, toHoldResponse(h))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleHoldStats handles GET /holds/stats and refreshes the hold gauges as a
// side effect of being scraped by dashboards.
func HandleHoldStats(svc HoldReader, m *metrics.Metrics, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		stats, err := svc.GetHoldStatistics(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		if m != nil {
			for status, count := range stats.ByStatus {
				m.HoldsByStatus.WithLabelValues(string(status)).Set(float64(count))
			}
			m.HoldsExpiringSoon.Set(float64(stats.ExpiringSoon))
		}

		resp := holdStatsResponse{
			ByStatus:     map[string]int{},
			ExpiringSoon: stats.ExpiringSoon,
		}
		for status, count := range stats.ByStatus {
			resp.ByStatus[string(status)] = count
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type holdResponse struct {
	ID        string    `json:"id"`
	LotID     string    `json:"lot_id"`
	Owner     string    `json:"owner"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func toHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		ID:        h.ID,
		LotID:     h.LotID,
		Owner:     h.Owner.String(),
		Status:    string(h.Status),
		ExpiresAt: h.ExpiresAt,
		CreatedAt: h.CreatedAt,
	}
}

type holdsResponse struct {
	Holds []holdResponse `json:"holds"`
}

type holdStatsResponse struct {
	ByStatus     map[string]int `json:"by_status"`
	ExpiringSoon int            `json:"expiring_soon"`
}
