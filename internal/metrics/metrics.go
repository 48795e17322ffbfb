package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the claim engine.
type Metrics struct {
	reconciliations prometheus.Counter
	refreshSkipped  *prometheus.CounterVec
	queryErrors     *prometheus.CounterVec
	staleDiscarded  prometheus.Counter
	strayEvents     prometheus.Counter
	claimsFinalized prometheus.Counter
	pendingClaims   prometheus.Gauge
	finalizedClaims prometheus.Gauge
	blocksObserved  prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics on the default registry (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = New(prometheus.DefaultRegisterer)
	})
	return metrics
}

// New builds metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_reconciliations_total",
			Help: "Total number of completed reconciliation passes",
		}),
		refreshSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_refresh_skipped_total",
			Help: "Refresh requests dropped because one was already in flight",
		}, []string{"scope"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_query_errors_total",
			Help: "Event queries that failed and were treated as empty",
		}, []string{"event"}),
		staleDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_stale_results_discarded_total",
			Help: "Reconciliation results dropped because the session changed",
		}),
		strayEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_stray_events_total",
			Help: "AllocationClaimed events received without a pending claim",
		}),
		claimsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_live_finalized_total",
			Help: "Pending claims finalized by a live AllocationClaimed event",
		}),
		pendingClaims: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "claims_pending",
			Help: "Number of claims in flight (0 or 1)",
		}),
		finalizedClaims: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "claims_finalized",
			Help: "Number of finalized claims in the store",
		}),
		blocksObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_blocks_observed_total",
			Help: "Blocks scanned by the live watcher",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.reconciliations,
			m.refreshSkipped,
			m.queryErrors,
			m.staleDiscarded,
			m.strayEvents,
			m.claimsFinalized,
			m.pendingClaims,
			m.finalizedClaims,
			m.blocksObserved,
		)
	}
	return m
}

// Reconciled increments the reconciliation counter.
func (m *Metrics) Reconciled() {
	if m != nil {
		m.reconciliations.Inc()
	}
}

// RefreshSkipped counts a dropped refresh for scope ("reconcile" or "refresh").
func (m *Metrics) RefreshSkipped(scope string) {
	if m != nil {
		m.refreshSkipped.WithLabelValues(scope).Inc()
	}
}

// QueryError counts a failed event query.
func (m *Metrics) QueryError(event string) {
	if m != nil {
		m.queryErrors.WithLabelValues(event).Inc()
	}
}

// StaleDiscarded counts results dropped after a session change.
func (m *Metrics) StaleDiscarded() {
	if m != nil {
		m.staleDiscarded.Inc()
	}
}

// StrayEvent counts an AllocationClaimed with no pending claim.
func (m *Metrics) StrayEvent() {
	if m != nil {
		m.strayEvents.Inc()
	}
}

// ClaimFinalized counts a live finalization.
func (m *Metrics) ClaimFinalized() {
	if m != nil {
		m.claimsFinalized.Inc()
	}
}

// ObserveState records the store's current shape.
func (m *Metrics) ObserveState(finalized int, pending bool) {
	if m == nil {
		return
	}
	m.finalizedClaims.Set(float64(finalized))
	if pending {
		m.pendingClaims.Set(1)
	} else {
		m.pendingClaims.Set(0)
	}
}

// BlocksObserved adds n scanned blocks.
func (m *Metrics) BlocksObserved(n uint64) {
	if m != nil {
		m.blocksObserved.Add(float64(n))
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
