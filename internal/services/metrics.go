package services

import (
	"github.com/campusmart/backend/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes wallet counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	commitsTotal          *prometheus.CounterVec
	depositVerifications  *prometheus.CounterVec
	payoutsTotal          *prometheus.CounterVec
	reconcileRunsTotal    *prometheus.CounterVec
	reconcileResolved     prometheus.Counter
	idempotentReplays     *prometheus.CounterVec
	balanceDriftsDetected prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campusmart",
				Subsystem: "wallet_ledger",
				Name:      "commits_total",
				Help:      "Ledger entries moved to a terminal status, by type and status.",
			},
			[]string{"type", "status"},
		),
		depositVerifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campusmart",
				Subsystem: "wallet_deposit",
				Name:      "verifications_total",
				Help:      "Deposit verifications by outcome.",
			},
			[]string{"result"},
		),
		payoutsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campusmart",
				Subsystem: "wallet_withdrawal",
				Name:      "payouts_total",
				Help:      "Payout hand-offs and settlements by result.",
			},
			[]string{"result"},
		),
		reconcileRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campusmart",
				Subsystem: "wallet_reconcile",
				Name:      "runs_total",
				Help:      "Reconciliation sweeps by result.",
			},
			[]string{"result"},
		),
		reconcileResolved: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "campusmart",
				Subsystem: "wallet_reconcile",
				Name:      "resolved_total",
				Help:      "Stale pending entries that reached a terminal status during a sweep.",
			},
		),
		idempotentReplays: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "campusmart",
				Subsystem: "wallet_idempotency",
				Name:      "replays_total",
				Help:      "Requests answered from stored state instead of being applied again.",
			},
			[]string{"source"},
		),
		balanceDriftsDetected: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "campusmart",
				Subsystem: "wallet_account",
				Name:      "balance_drifts_total",
				Help:      "Balance verifications where the stored projection disagreed with the ledger.",
			},
		),
	}
}

func (m *Metrics) ObserveCommit(txn *models.Transaction) {
	if m == nil {
		return
	}
	m.commitsTotal.WithLabelValues(string(txn.Type), string(txn.Status)).Inc()
}

func (m *Metrics) DepositVerified(result string) {
	if m == nil {
		return
	}
	m.depositVerifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Payout(result string) {
	if m == nil {
		return
	}
	m.payoutsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ReconcileRun(result string, resolved int) {
	if m == nil {
		return
	}
	m.reconcileRunsTotal.WithLabelValues(result).Inc()
	m.reconcileResolved.Add(float64(resolved))
}

func (m *Metrics) IdempotentReplay(source string) {
	if m == nil {
		return
	}
	m.idempotentReplays.WithLabelValues(source).Inc()
}

func (m *Metrics) BalanceDrift() {
	if m == nil {
		return
	}
	m.balanceDriftsDetected.Inc()
}
