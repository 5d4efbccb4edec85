package payout

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/cascade/internal/money"
	"github.com/roach88/cascade/internal/store"
)

// Metrics exposes Prometheus collectors for payout runs.
type Metrics struct {
	deposits        *prometheus.CounterVec
	stepFailures    *prometheus.CounterVec
	returnsPaid     prometheus.Counter
	commissionsPaid *prometheus.CounterVec
	runDuration     prometheus.Histogram
	mismatches      *prometheus.GaugeVec
	ledger          *prometheus.GaugeVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns metrics registered with the global registry. The
// collectors are created once so repeated engines share them.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the payout collectors with reg. Registration
// errors panic, like promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "payout",
			Name:      "deposits_total",
			Help:      "Deposits handled by payout runs, by outcome.",
		}, []string{"outcome"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "payout",
			Name:      "step_failures_total",
			Help:      "Per-deposit write failures, by saga step.",
		}, []string{"step"}),
		returnsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "payout",
			Name:      "returns_amount_total",
			Help:      "Sum of periodic returns credited, in currency units.",
		}),
		commissionsPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Subsystem: "payout",
			Name:      "commissions_amount_total",
			Help:      "Sum of commissions credited, in currency units, by level.",
		}, []string{"level"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cascade",
			Subsystem: "payout",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a payout run.",
			Buckets:   prometheus.DefBuckets,
		}),
		mismatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cascade",
			Subsystem: "reconcile",
			Name:      "mismatches",
			Help:      "Returns flagged by the last reconciliation, by reason.",
		}, []string{"reason"}),
		ledger: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cascade",
			Subsystem: "ledger",
			Name:      "records",
			Help:      "Ledger row counts from the last stats snapshot.",
		}, []string{"kind"}),
	}

	collectors := []prometheus.Collector{
		m.deposits, m.stepFailures, m.returnsPaid, m.commissionsPaid,
		m.runDuration, m.mismatches, m.ledger,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			panic(err)
		}
	}
	return m
}

func (m *Metrics) observeOutcome(outcome Outcome) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) observeStepFailure(step Step) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(string(step)).Inc()
}

func (m *Metrics) observeReturn(a money.Amount) {
	if m == nil {
		return
	}
	m.returnsPaid.Add(a.Decimal().InexactFloat64())
}

func (m *Metrics) observeCommission(level string, a money.Amount) {
	if m == nil {
		return
	}
	m.commissionsPaid.WithLabelValues(level).Add(a.Decimal().InexactFloat64())
}

func (m *Metrics) observeRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) observeMismatches(report ReconcileReport) {
	if m == nil {
		return
	}
	counts := map[Reason]int{ReasonPending: 0, ReasonPartialCascade: 0, ReasonLedgerDrift: 0, ReasonChainChanged: 0}
	for _, mm := range report.Mismatches {
		for _, r := range mm.Reasons {
			counts[r]++
		}
	}
	for reason, n := range counts {
		m.mismatches.WithLabelValues(string(reason)).Set(float64(n))
	}
}

// ObserveLedgerStats exports a ledger snapshot.
func (m *Metrics) ObserveLedgerStats(st store.LedgerStats) {
	if m == nil {
		return
	}
	m.ledger.WithLabelValues("accounts").Set(float64(st.Accounts))
	m.ledger.WithLabelValues("completed_deposits").Set(float64(st.CompletedDeposits))
	m.ledger.WithLabelValues("returns").Set(float64(st.Returns))
	m.ledger.WithLabelValues("commissions").Set(float64(st.Commissions))
}
