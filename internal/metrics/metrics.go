// Package metrics exposes the engine's Prometheus series:
//
//	spotbot_cycles_total{result}              completed cycles (ok|error)
//	spotbot_cycle_duration_seconds            cycle latency
//	spotbot_equity_usdt                       latest equity sample
//	spotbot_open_positions                    positions held
//	spotbot_positions_opened_total{strategy}  filled entries
//	spotbot_positions_closed_total{reason}    confirmed exits
//	spotbot_swaps_total                       zombie swaps executed
//	spotbot_candidates_evaluated              size of the last scanner snapshot
//	spotbot_exchange_errors_total{op}         failed exchange calls
//
// A nil *Metrics records nothing, so components can be built without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	equity          prometheus.Gauge
	openPositions   prometheus.Gauge
	positionsOpened *prometheus.CounterVec
	positionsClosed *prometheus.CounterVec
	swaps           prometheus.Counter
	candidates      prometheus.Gauge
	exchangeErrors  *prometheus.CounterVec
}

// New registers every series on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotbot_cycles_total",
			Help: "Control loop cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spotbot_cycle_duration_seconds",
			Help:    "Duration of a full control loop cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spotbot_equity_usdt",
			Help: "Free quote balance plus mark-to-market value of open positions",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spotbot_open_positions",
			Help: "Open positions",
		}),
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotbot_positions_opened_total",
			Help: "Positions opened by strategy",
		}, []string{"strategy"}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotbot_positions_closed_total",
			Help: "Positions closed by exit reason",
		}, []string{"reason"}),
		swaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotbot_swaps_total",
			Help: "Losing positions liquidated to fund a stronger signal",
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spotbot_candidates_evaluated",
			Help: "Candidates in the latest scanner snapshot",
		}),
		exchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotbot_exchange_errors_total",
			Help: "Failed exchange calls by operation",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.cycles, m.cycleDuration, m.equity, m.openPositions,
		m.positionsOpened, m.positionsClosed, m.swaps, m.candidates, m.exchangeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests, extra collectors)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) SetEquity(equity float64, positions int) {
	if m == nil {
		return
	}
	m.equity.Set(equity)
	m.openPositions.Set(float64(positions))
}

func (m *Metrics) PositionOpened(strategy string) {
	if m == nil {
		return
	}
	m.positionsOpened.WithLabelValues(strategy).Inc()
}

func (m *Metrics) PositionClosed(reason string) {
	if m == nil {
		return
	}
	m.positionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) SwapExecuted() {
	if m == nil {
		return
	}
	m.swaps.Inc()
}

func (m *Metrics) SetCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Set(float64(n))
}

func (m *Metrics) ExchangeError(op string) {
	if m == nil {
		return
	}
	m.exchangeErrors.WithLabelValues(op).Inc()
}
