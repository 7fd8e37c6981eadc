package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitializeCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	args := m.Called(ctx, req)
	charge, _ := args.Get(0).(*Charge)
	return charge, args.Error(1)
}

func (m *mockGateway) Verify(ctx context.Context, reference string) (*Verification, error) {
	args := m.Called(ctx, reference)
	v, _ := args.Get(0).(*Verification)
	return v, args.Error(1)
}

type mockBank struct {
	mock.Mock
}

func (m *mockBank) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (string, error) {
	args := m.Called(ctx, bankCode, accountNumber)
	return args.String(0), args.Error(1)
}

func (m *mockBank) ListBanks(ctx context.Context) ([]models.Bank, error) {
	args := m.Called(ctx)
	banks, _ := args.Get(0).([]models.Bank)
	return banks, args.Error(1)
}

func (m *mockBank) InitiatePayout(ctx context.Context, in PayoutInstruction) (*PayoutReceipt, error) {
	args := m.Called(ctx, in)
	receipt, _ := args.Get(0).(*PayoutReceipt)
	return receipt, args.Error(1)
}

func (m *mockBank) PayoutStatus(ctx context.Context, reference string) (*PayoutStatus, error) {
	args := m.Called(ctx, reference)
	st, _ := args.Get(0).(*PayoutStatus)
	return st, args.Error(1)
}

type recordingQueue struct {
	mu         sync.Mutex
	references []string
}

func (q *recordingQueue) EnqueuePayout(ctx context.Context, reference string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.references = append(q.references, reference)
	return nil
}

type walletHarness struct {
	clock       *manualClock
	store       *ledger.MemoryStore
	ledger      *ledger.Ledger
	cfg         *config.WalletConfig
	gwCfg       *config.GatewayConfig
	bankCfg     *config.BankConfig
	gateway     *mockGateway
	bank        *mockBank
	accounts    *AccountService
	deposits    *DepositService
	withdrawals *WithdrawalService
	escrow      *EscrowService
	reconcile   *ReconciliationService
}

func newWalletHarness(t *testing.T) *walletHarness {
	t.Helper()

	clock := &manualClock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
	store := ledger.NewMemoryStore(clock)
	l := ledger.New(store, clock)

	cfg := &config.WalletConfig{
		Currency:          "NGN",
		MinDeposit:        decimal.NewFromInt(100),
		MinWithdrawal:     decimal.NewFromInt(1000),
		WithdrawalFee:     decimal.NewFromInt(200),
		ReleaseFeePercent: decimal.Zero,
		ReconcileAfter:    30 * time.Minute,
		ReconcileInterval: 5 * time.Minute,
		ReconcileBatch:    100,
		LockTTL:           30 * time.Second,
		PayoutMode:        config.PayoutSync,
	}
	gwCfg := &config.GatewayConfig{CallbackURL: "http://localhost/callback", WebhookSecret: "gw-secret"}
	bankCfg := &config.BankConfig{SourceBIC: "CMRTNGLA", WebhookSecret: "bank-secret"}

	metrics := NewMetrics(prometheus.NewRegistry())
	l.Observe(metrics.ObserveCommit)
	guard := NewIdempotencyGuard(nil, 0, metrics)
	gateway := &mockGateway{}
	bank := &mockBank{}

	accounts := NewAccountService(l, metrics)
	deposits := NewDepositService(l, accounts, gateway, guard, metrics, cfg, gwCfg)
	withdrawals := NewWithdrawalService(l, accounts, bank, NewISO20022Service(bankCfg.SourceBIC, "CampusMart Wallet"), guard, metrics, cfg, bankCfg)

	return &walletHarness{
		clock:       clock,
		store:       store,
		ledger:      l,
		cfg:         cfg,
		gwCfg:       gwCfg,
		bankCfg:     bankCfg,
		gateway:     gateway,
		bank:        bank,
		accounts:    accounts,
		deposits:    deposits,
		withdrawals: withdrawals,
		escrow:      NewEscrowService(l, accounts, cfg),
		reconcile:   NewReconciliationService(l, deposits, withdrawals, guard, metrics, cfg),
	}
}

// fund posts a completed deposit directly, bypassing the gateway
func (h *walletHarness) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	amt := decimal.NewFromInt(amount)
	err := h.ledger.Run(context.Background(), []string{userID}, func(u *ledger.Unit) error {
		if _, err := u.Record(context.Background(), ledger.Entry{
			UserID:    userID,
			Type:      models.TypeDeposit,
			Amount:    amt,
			Reference: "SEED-" + uuid.NewString(),
		}); err != nil {
			return err
		}
		return h.accounts.ApplyCompletedCredit(u, userID, amt)
	})
	require.NoError(t, err)
}

func (h *walletHarness) account(t *testing.T, userID string) *models.WalletAccount {
	t.Helper()
	account, err := h.accounts.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return account
}

// requireConsistent asserts the stored projection equals the one derived from the ledger
func (h *walletHarness) requireConsistent(t *testing.T, userID string) {
	t.Helper()
	report, err := h.accounts.VerifyBalance(context.Background(), userID, false)
	require.NoError(t, err)
	require.True(t, report.Consistent, "stored %+v computed %+v", report.Stored, report.Computed)
}

func (h *walletHarness) transactions(t *testing.T, userID string, typ models.TransactionType) []models.Transaction {
	t.Helper()
	items, _, err := h.store.ListTransactions(context.Background(), userID, models.TransactionFilter{Type: typ})
	require.NoError(t, err)
	return items
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s got %s", want, got.String())
}
