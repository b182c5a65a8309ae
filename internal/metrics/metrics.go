package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockwatch/pkg/nse"
)

// Metrics holds all Prometheus metrics for the watchlist service.
// It satisfies nse.Observer so the upstream client reports into it directly.
type Metrics struct {
	// Upstream fetch path
	FetchSlotsInUse     prometheus.Gauge
	FetchAttemptsFailed *prometheus.CounterVec // labels: kind=status|bootstrap|transport
	CredentialRotations prometheus.Counter
	FetchDur            prometheus.Histogram

	// Live feed
	WSClients     prometheus.Gauge
	QuoteBatches  prometheus.Counter
	QuoteFailures prometheus.Counter
	Trades        *prometheus.CounterVec // labels: action, outcome
	DroppedPushes prometheus.Counter

	// Quote cache (redis)
	QuoteCacheLookups   *prometheus.CounterVec // labels: result=hit|miss|error
	CircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	CircuitBreakerTrips prometheus.Counter

	// p50/p95/p99 of upstream fetch latency for /api/status
	Latency *LatencyTracker
}

// NewMetrics creates all collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchSlotsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_fetch_slots_in_use",
			Help: "Upstream requests currently holding a fetch slot",
		}),
		FetchAttemptsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_fetch_attempts_failed_total",
			Help: "Failed upstream fetch attempts (each retry counts)",
		}, []string{"kind"}),
		CredentialRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_credential_rotations_total",
			Help: "Session credentials bootstrapped from the upstream site",
		}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockwatch_fetch_duration_seconds",
			Help:    "Upstream response latency per attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		QuoteBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_quote_batches_total",
			Help: "quoteBatch messages pushed to clients",
		}),
		QuoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_quote_failures_total",
			Help: "Symbols omitted from a batch because their quote failed",
		}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_trades_total",
			Help: "Simulated trade commands by action and outcome",
		}, []string{"action", "outcome"}),
		DroppedPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_dropped_pushes_total",
			Help: "Outbound messages dropped because a client send buffer was full",
		}),

		QuoteCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_quote_cache_lookups_total",
			Help: "Redis quote cache lookups by result",
		}, []string{"result"}),
		CircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		Latency: NewLatencyTracker(2048),
	}

	reg.MustRegister(
		m.FetchSlotsInUse,
		m.FetchAttemptsFailed,
		m.CredentialRotations,
		m.FetchDur,
		m.WSClients,
		m.QuoteBatches,
		m.QuoteFailures,
		m.Trades,
		m.DroppedPushes,
		m.QuoteCacheLookups,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
	)
	return m
}

// ---- nse.Observer ----

func (m *Metrics) SlotAcquired()      { m.FetchSlotsInUse.Inc() }
func (m *Metrics) SlotReleased()      { m.FetchSlotsInUse.Dec() }
func (m *Metrics) CredentialRotated() { m.CredentialRotations.Inc() }

func (m *Metrics) AttemptFailed(_ string, err error) {
	m.FetchAttemptsFailed.WithLabelValues(failureKind(err)).Inc()
}

func (m *Metrics) FetchLatency(d time.Duration) {
	m.FetchDur.Observe(d.Seconds())
	m.Latency.Record(float64(d.Microseconds()) / 1000.0)
}

func failureKind(err error) string {
	var se *nse.StatusError
	switch {
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, nse.ErrUpstreamUnavailable):
		return "bootstrap"
	default:
		return "transport"
	}
}

var _ nse.Observer = (*Metrics)(nil)
