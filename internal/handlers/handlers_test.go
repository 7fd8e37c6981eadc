package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campusmart/backend/internal/config"
	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/middleware"
	"github.com/campusmart/backend/internal/models"
	"github.com/campusmart/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitializeCharge(ctx context.Context, req services.ChargeRequest) (*services.Charge, error) {
	args := m.Called(ctx, req)
	charge, _ := args.Get(0).(*services.Charge)
	return charge, args.Error(1)
}

func (m *mockGateway) Verify(ctx context.Context, reference string) (*services.Verification, error) {
	args := m.Called(ctx, reference)
	v, _ := args.Get(0).(*services.Verification)
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

func (m *mockBank) InitiatePayout(ctx context.Context, in services.PayoutInstruction) (*services.PayoutReceipt, error) {
	args := m.Called(ctx, in)
	receipt, _ := args.Get(0).(*services.PayoutReceipt)
	return receipt, args.Error(1)
}

func (m *mockBank) PayoutStatus(ctx context.Context, reference string) (*services.PayoutStatus, error) {
	args := m.Called(ctx, reference)
	st, _ := args.Get(0).(*services.PayoutStatus)
	return st, args.Error(1)
}

type testServer struct {
	router   http.Handler
	ledger   *ledger.Ledger
	accounts *services.AccountService
	gateway  *mockGateway
	bank     *mockBank
}

// asUser stands in for the JWT middleware
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Test-User"); id != "" {
			ctx = middleware.WithUser(ctx, id, r.Header.Get("X-Test-Role"))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := ledger.NewMemoryStore(ledger.RealClock{})
	l := ledger.New(store, ledger.RealClock{})
	cfg := &config.WalletConfig{
		Currency:          "NGN",
		MinDeposit:        decimal.NewFromInt(100),
		MinWithdrawal:     decimal.NewFromInt(1000),
		WithdrawalFee:     decimal.NewFromInt(200),
		ReleaseFeePercent: decimal.Zero,
		ReconcileAfter:    30 * time.Minute,
		ReconcileInterval: 5 * time.Minute,
		ReconcileBatch:    100,
		PayoutMode:        config.PayoutSync,
	}
	gwCfg := &config.GatewayConfig{WebhookSecret: "gw-secret"}
	bankCfg := &config.BankConfig{SourceBIC: "CMRTNGLA", WebhookSecret: "bank-secret"}

	metrics := services.NewMetrics(prometheus.NewRegistry())
	guard := services.NewIdempotencyGuard(nil, 0, metrics)
	gateway := &mockGateway{}
	bank := &mockBank{}

	accounts := services.NewAccountService(l, metrics)
	deposits := services.NewDepositService(l, accounts, gateway, guard, metrics, cfg, gwCfg)
	withdrawals := services.NewWithdrawalService(l, accounts, bank, services.NewISO20022Service(bankCfg.SourceBIC, "CampusMart Wallet"), guard, metrics, cfg, bankCfg)
	escrow := services.NewEscrowService(l, accounts, cfg)
	banks := services.NewBankService(bank, nil, 0)

	wallet := NewWalletHandler(accounts, deposits, withdrawals, banks)
	r := chi.NewRouter()
	NewWebhookHandler(deposits, withdrawals).Routes(r)
	r.Get("/banks", wallet.ListBanks)
	r.Group(func(r chi.Router) {
		r.Use(asUser)
		wallet.Routes(r)
		NewEscrowHandler(escrow).Routes(r)
	})

	return &testServer{router: r, ledger: l, accounts: accounts, gateway: gateway, bank: bank}
}

func (s *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	amt := decimal.NewFromInt(amount)
	err := s.ledger.Run(context.Background(), []string{userID}, func(u *ledger.Unit) error {
		if _, err := u.Record(context.Background(), ledger.Entry{
			UserID:    userID,
			Type:      models.TypeDeposit,
			Amount:    amt,
			Reference: "SEED-" + uuid.NewString(),
		}); err != nil {
			return err
		}
		return s.accounts.ApplyCompletedCredit(u, userID, amt)
	})
	require.NoError(t, err)
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.True(t, env.Success)
	return env.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) services.ErrorResponse {
	t.Helper()
	var resp services.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s got %s", want, got.String())
}
