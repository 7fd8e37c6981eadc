package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campusmart/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReconciliationService_SweepResolvesStaleEntries(t *testing.T) {
	ctx := context.Background()
	h := newWalletHarness(t)

	// Stale deposit the gateway now reports as paid
	paid := initDeposit(t, h, "user-1", "5000")
	h.gateway.On("Verify", mock.Anything, paid.Reference).Return(&Verification{Status: GatewaySuccess, Amount: dec("5000"), Currency: "NGN"}, nil)

	// Stale deposit the gateway has never seen
	lost := initDeposit(t, h, "user-2", "700")
	h.gateway.On("Verify", mock.Anything, lost.Reference).Return(&Verification{Status: GatewayNotFound}, nil)

	// Stale withdrawal the partner never received
	h.fund(t, "user-3", 5000)
	h.expectResolve("ADA OBI")
	h.expectPayout(nil, errors.New("connection refused"))
	wdr, err := h.withdrawals.Create(ctx, "user-3", dec("4000"), testBankCode, testAccount)
	require.NoError(t, err)
	h.bank.On("PayoutStatus", mock.Anything, wdr.Transaction.Reference).Return(&PayoutStatus{State: PayoutUnknown}, nil)

	h.clock.Advance(45 * time.Minute)

	// Fresh deposit inside the window is left alone
	fresh := initDeposit(t, h, "user-4", "300")

	report, err := h.reconcile.Sweep(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Resolved)
	assert.Equal(t, 0, report.Errors)

	got, err := h.deposits.Get(ctx, paid.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assertAmount(t, "5000", h.account(t, "user-1").Balance)

	got, err = h.deposits.Get(ctx, lost.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assertAmount(t, "0", h.account(t, "user-2").Balance)

	assertAmount(t, "5000", h.account(t, "user-3").Balance)

	got, err = h.deposits.Get(ctx, fresh.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	h.gateway.AssertNotCalled(t, "Verify", mock.Anything, fresh.Reference)

	for _, user := range []string{"user-1", "user-2", "user-3", "user-4"} {
		h.requireConsistent(t, user)
	}

	// Nothing left to do
	report, err = h.reconcile.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestReconciliationService_SweepCountsErrors(t *testing.T) {
	h := newWalletHarness(t)
	dep := initDeposit(t, h, "user-1", "5000")
	h.gateway.On("Verify", mock.Anything, dep.Reference).Return(nil, errors.New("gateway 502"))
	h.clock.Advance(time.Hour)

	report, err := h.reconcile.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.Resolved)
}

func TestReconciliationService_SkipsWhenLocked(t *testing.T) {
	h := newWalletHarness(t)
	db, rmock := redismock.NewClientMock()
	guard := NewIdempotencyGuard(db, time.Minute, nil)
	guard.owner = "worker-a"
	sweeper := NewReconciliationService(h.ledger, h.deposits, h.withdrawals, guard, nil, h.cfg)

	rmock.ExpectSetNX("wallet:mutex:reconcile", "worker-a", h.cfg.ReconcileInterval).SetVal(false)

	report, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.NoError(t, rmock.ExpectationsWereMet())
}
