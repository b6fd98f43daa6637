package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records ledger and registry activity counters.
type LedgerMetrics struct {
	paymentsRecorded prometheus.Counter
	marksMinted      prometheus.Counter
	handlesClaimed   prometheus.Counter
	ordersSettled    prometheus.Counter
	storeRecoveries  *prometheus.CounterVec
	storeSaves       prometheus.Histogram
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	paymentsRecorded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_payments_recorded_total",
		Help: "Donation records created or backfilled from confirmed payments.",
	})
	marksMinted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_marks_minted_total",
		Help: "Marks minted for first-time payment confirmations.",
	})
	handlesClaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_handles_claimed_total",
		Help: "Successful handle claims.",
	})
	ordersSettled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_orders_settled_total",
		Help: "Orders transitioned from pending to paid.",
	})
	storeRecoveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_store_recoveries_total",
		Help: "Registry store self-healing events by kind.",
	}, []string{"kind"})
	storeSaves := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "registry_store_save_seconds",
		Help:    "Duration of registry document persistence.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(paymentsRecorded, marksMinted, handlesClaimed, ordersSettled, storeRecoveries, storeSaves)
	return &LedgerMetrics{
		paymentsRecorded: paymentsRecorded,
		marksMinted:      marksMinted,
		handlesClaimed:   handlesClaimed,
		ordersSettled:    ordersSettled,
		storeRecoveries:  storeRecoveries,
		storeSaves:       storeSaves,
	}
}

// IncPaymentRecorded counts a confirmed payment landing in the ledger.
func (m *LedgerMetrics) IncPaymentRecorded() {
	if m == nil || m.paymentsRecorded == nil {
		return
	}
	m.paymentsRecorded.Inc()
}

// IncMarkMinted counts a freshly minted mark.
func (m *LedgerMetrics) IncMarkMinted() {
	if m == nil || m.marksMinted == nil {
		return
	}
	m.marksMinted.Inc()
}

// IncHandleClaimed counts a successful handle claim.
func (m *LedgerMetrics) IncHandleClaimed() {
	if m == nil || m.handlesClaimed == nil {
		return
	}
	m.handlesClaimed.Inc()
}

// IncOrderSettled counts a pending order reconciled to paid.
func (m *LedgerMetrics) IncOrderSettled() {
	if m == nil || m.ordersSettled == nil {
		return
	}
	m.ordersSettled.Inc()
}

// IncStoreRecovery counts a registry self-healing event of the given kind.
func (m *LedgerMetrics) IncStoreRecovery(kind string) {
	if m == nil || m.storeRecoveries == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.storeRecoveries.WithLabelValues(kind).Inc()
}

// ObserveSave records the duration of a registry save in seconds.
func (m *LedgerMetrics) ObserveSave(seconds float64) {
	if m == nil || m.storeSaves == nil {
		return
	}
	m.storeSaves.Observe(seconds)
}
