package services

import (
	"context"
	"errors"
	"time"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/models"
	"github.com/sirupsen/logrus"
)

type SweepReport struct {
	Skipped  bool `json:"skipped"`
	Scanned  int  `json:"scanned"`
	Resolved int  `json:"resolved"`
	Pending  int  `json:"pending"`
	Errors   int  `json:"errors"`
}

// ReconciliationService re-verifies stale pending deposits and withdrawals
// through the same verify-then-commit path used by webhooks
type ReconciliationService struct {
	ledger      *ledger.Ledger
	deposits    *DepositService
	withdrawals *WithdrawalService
	guard       *IdempotencyGuard
	metrics     *Metrics
	cfg         *config.WalletConfig
}

func NewReconciliationService(l *ledger.Ledger, deposits *DepositService, withdrawals *WithdrawalService, guard *IdempotencyGuard, metrics *Metrics, cfg *config.WalletConfig) *ReconciliationService {
	return &ReconciliationService{
		ledger:      l,
		deposits:    deposits,
		withdrawals: withdrawals,
		guard:       guard,
		metrics:     metrics,
		cfg:         cfg,
	}
}

// Sweep resolves one batch. Only one sweep runs at a time across instances.
func (s *ReconciliationService) Sweep(ctx context.Context) (*SweepReport, error) {
	release, ok := s.guard.Lock(ctx, "reconcile", s.cfg.ReconcileInterval)
	if !ok {
		s.metrics.ReconcileRun("skipped", 0)
		return &SweepReport{Skipped: true}, nil
	}
	defer release()

	cutoff := s.ledger.Now().Add(-s.cfg.ReconcileAfter)
	stale, err := s.ledger.Store().ListStalePending(ctx, cutoff, s.cfg.ReconcileBatch)
	if err != nil {
		s.metrics.ReconcileRun("error", 0)
		return nil, err
	}

	report := &SweepReport{Scanned: len(stale)}
	for _, txn := range stale {
		if ctx.Err() != nil {
			break
		}
		status, err := s.resolve(ctx, txn)
		switch {
		case err != nil:
			report.Errors++
			logger.WithFields(logrus.Fields{
				"reference": txn.Reference,
				"type":      txn.Type,
				"code":      ledger.CodeOf(err),
			}).WithError(err).Warn("[RECONCILE] could not resolve")
		case status.Terminal():
			report.Resolved++
		default:
			report.Pending++
		}
	}

	result := "ok"
	if report.Errors > 0 {
		result = "partial"
	}
	s.metrics.ReconcileRun(result, report.Resolved)
	logger.WithFields(logrus.Fields{
		"scanned":  report.Scanned,
		"resolved": report.Resolved,
		"pending":  report.Pending,
		"errors":   report.Errors,
	}).Info("[RECONCILE] sweep finished")
	return report, nil
}

func (s *ReconciliationService) resolve(ctx context.Context, txn models.Transaction) (models.TransactionStatus, error) {
	switch txn.Type {
	case models.TypeDeposit:
		res, err := s.deposits.Verify(ctx, txn.Reference)
		if errors.Is(err, ledger.ErrAmountMismatch) {
			return res.Status, nil
		}
		if err != nil {
			return txn.Status, err
		}
		return res.Status, nil
	case models.TypeWithdrawal:
		updated, err := s.withdrawals.SyncWithPartner(ctx, txn.Reference)
		if err != nil {
			return txn.Status, err
		}
		return updated.Status, nil
	}
	return txn.Status, nil
}

// Run sweeps every interval until ctx is cancelled. Used when no job queue is
// configured.
func (s *ReconciliationService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.ReconcileInterval
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				logger.Errorf("[RECONCILE] sweep failed: %v", err)
			}
		}
	}
}
