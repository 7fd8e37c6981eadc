package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holdT1(t *testing.T, h *walletHarness, amount string) *EscrowResult {
	t.Helper()
	res, err := h.escrow.Hold(context.Background(), HoldRequest{
		BuyerID:   "buyer",
		SellerID:  "seller",
		TradeID:   "T1",
		TradeKind: models.TradeProduct,
		Amount:    dec(amount),
	})
	require.NoError(t, err)
	return res
}

func TestEscrowService_HoldThenRelease(t *testing.T) {
	ctx := context.Background()
	h := newWalletHarness(t)
	h.fund(t, "buyer", 2000)

	res := holdT1(t, h, "2000")
	assert.Equal(t, models.HoldHeld, res.Hold.Status)
	assert.Equal(t, models.TypeEscrow, res.Transaction.Type)
	assert.Equal(t, models.StatusCompleted, res.Transaction.Status)

	buyer := h.account(t, "buyer")
	assertAmount(t, "0", buyer.Balance)
	assertAmount(t, "2000", buyer.PendingBalance)
	h.requireConsistent(t, "buyer")

	rel, err := h.escrow.Release(ctx, "T1", "seller")
	require.NoError(t, err)
	assert.Equal(t, models.HoldReleased, rel.Hold.Status)
	assert.Equal(t, "REL-T1", rel.Transaction.Reference)
	assert.Nil(t, rel.Fee)

	seller := h.account(t, "seller")
	assertAmount(t, "2000", seller.Balance)
	assertAmount(t, "2000", seller.TotalEarned)
	buyer = h.account(t, "buyer")
	assertAmount(t, "0", buyer.Balance)
	assertAmount(t, "0", buyer.PendingBalance)
	h.requireConsistent(t, "buyer")
	h.requireConsistent(t, "seller")

	_, err = h.escrow.Release(ctx, "T1", "seller")
	assert.True(t, errors.Is(err, ledger.ErrInvalidState))
	_, err = h.escrow.Refund(ctx, "T1", "buyer")
	assert.True(t, errors.Is(err, ledger.ErrInvalidState))

	hold, err := h.escrow.GetHold(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, models.HoldReleased, hold.Status)
	assert.Equal(t, "REL-T1", hold.ResolutionReference)
}

func TestEscrowService_HoldThenRefund(t *testing.T) {
	ctx := context.Background()
	h := newWalletHarness(t)
	h.fund(t, "buyer", 3000)
	holdT1(t, h, "2000")

	res, err := h.escrow.Refund(ctx, "T1", "buyer")
	require.NoError(t, err)
	assert.Equal(t, models.HoldRefunded, res.Hold.Status)
	assert.Equal(t, models.TypeRefund, res.Transaction.Type)

	buyer := h.account(t, "buyer")
	assertAmount(t, "3000", buyer.Balance)
	assertAmount(t, "0", buyer.PendingBalance)
	assertAmount(t, "3000", buyer.TotalEarned)
	h.requireConsistent(t, "buyer")

	_, err = h.escrow.Release(ctx, "T1", "seller")
	assert.True(t, errors.Is(err, ledger.ErrInvalidState))
}

func TestEscrowService_HoldErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds", func(t *testing.T) {
		h := newWalletHarness(t)
		h.fund(t, "buyer", 500)

		_, err := h.escrow.Hold(ctx, HoldRequest{BuyerID: "buyer", SellerID: "seller", TradeID: "T1", Amount: dec("2000")})
		assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

		_, err = h.escrow.GetHold(ctx, "T1")
		assert.True(t, errors.Is(err, ledger.ErrNotFound))
		assert.Empty(t, h.transactions(t, "buyer", models.TypeEscrow))
	})

	t.Run("second hold on trade", func(t *testing.T) {
		h := newWalletHarness(t)
		h.fund(t, "buyer", 5000)
		holdT1(t, h, "2000")

		_, err := h.escrow.Hold(ctx, HoldRequest{BuyerID: "buyer", SellerID: "seller", TradeID: "T1", Amount: dec("1000")})
		assert.True(t, errors.Is(err, ledger.ErrInvalidState))
		assertAmount(t, "3000", h.account(t, "buyer").Balance)
	})

	t.Run("buyer is seller", func(t *testing.T) {
		h := newWalletHarness(t)
		_, err := h.escrow.Hold(ctx, HoldRequest{BuyerID: "buyer", SellerID: "buyer", TradeID: "T1", Amount: dec("10")})
		assert.True(t, errors.Is(err, ledger.ErrInvalidRequest))
	})

	t.Run("sub-kobo amount", func(t *testing.T) {
		h := newWalletHarness(t)
		h.fund(t, "buyer", 5000)

		_, err := h.escrow.Hold(ctx, HoldRequest{BuyerID: "buyer", SellerID: "seller", TradeID: "T1", Amount: dec("1000.005")})
		assert.True(t, errors.Is(err, ledger.ErrInvalidRequest))
		assertAmount(t, "5000", h.account(t, "buyer").Balance)
		assertAmount(t, "0", h.account(t, "buyer").PendingBalance)
	})

	t.Run("non positive amount", func(t *testing.T) {
		h := newWalletHarness(t)
		_, err := h.escrow.Hold(ctx, HoldRequest{BuyerID: "buyer", TradeID: "T1", Amount: dec("0")})
		assert.True(t, errors.Is(err, ledger.ErrInvalidRequest))
	})
}

func TestEscrowService_ResolutionChecks(t *testing.T) {
	ctx := context.Background()
	h := newWalletHarness(t)
	h.fund(t, "buyer", 2000)
	holdT1(t, h, "2000")

	_, err := h.escrow.Refund(ctx, "T1", "someone-else")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	_, err = h.escrow.Release(ctx, "T1", "other-seller")
	assert.True(t, errors.Is(err, ledger.ErrInvalidRequest))

	_, err = h.escrow.Release(ctx, "T-unknown", "seller")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestEscrowService_ReleaseWithPlatformFee(t *testing.T) {
	h := newWalletHarness(t)
	h.cfg.ReleaseFeePercent = dec("2.5")
	h.fund(t, "buyer", 2000)
	holdT1(t, h, "2000")

	res, err := h.escrow.Release(context.Background(), "T1", "")
	require.NoError(t, err)
	require.NotNil(t, res.Fee)
	assertAmount(t, "50", res.Fee.Amount)
	assert.Equal(t, models.TypeFee, res.Fee.Type)

	seller := h.account(t, "seller")
	assertAmount(t, "1950", seller.Balance)
	assertAmount(t, "2000", seller.TotalEarned)
	h.requireConsistent(t, "seller")
}

func TestEscrowService_ConcurrentReleaseAndRefund(t *testing.T) {
	h := newWalletHarness(t)
	h.fund(t, "buyer", 2000)
	holdT1(t, h, "2000")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	resolve := []func() error{
		func() error { _, err := h.escrow.Release(context.Background(), "T1", "seller"); return err },
		func() error { _, err := h.escrow.Refund(context.Background(), "T1", "buyer"); return err },
	}
	for i := 0; i < 4; i++ {
		fn := resolve[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn()
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			assert.True(t, errors.Is(err, ledger.ErrInvalidState), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	h.requireConsistent(t, "buyer")

	buyer := h.account(t, "buyer")
	assertAmount(t, "0", buyer.PendingBalance)
	seller, err := h.accounts.GetAccount(context.Background(), "seller")
	if err == nil {
		assertAmount(t, "2000", buyer.Balance.Add(seller.Balance))
	} else {
		assertAmount(t, "2000", buyer.Balance)
	}
}
