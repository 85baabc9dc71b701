package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors on a private registry
// so tests can build throwaway instances without collision panics.
type Metrics struct {
	registry *prometheus.Registry

	HoldsByStatus     *prometheus.GaugeVec
	HoldsExpiringSoon prometheus.Gauge
	SweepsTotal       prometheus.Counter
	SweepsSkipped     prometheus.Counter
	HoldsSwept        prometheus.Counter
	CheckoutsTotal    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HoldsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "curiosa_holds_by_status",
			Help: "Current hold counts grouped by status.",
		}, []string{"status"}),
		HoldsExpiringSoon: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "curiosa_holds_expiring_soon",
			Help: "Active holds expiring within the dashboard window.",
		}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curiosa_sweeps_total",
			Help: "Completed expiration sweeps.",
		}),
		SweepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curiosa_sweeps_skipped_total",
			Help: "Sweep triggers skipped due to overlap or a held lease.",
		}),
		HoldsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curiosa_holds_swept_total",
			Help: "Holds released by the expiration sweeper.",
		}),
		CheckoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curiosa_checkouts_total",
			Help: "Checkout initiations by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.HoldsByStatus,
		m.HoldsExpiringSoon,
		m.SweepsTotal,
		m.SweepsSkipped,
		m.HoldsSwept,
		m.CheckoutsTotal,
	)
	return m
}

// Handler serves the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
