package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/models"
	"github.com/campusmart/backend/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGetWallet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/wallet", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/wallet", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeData[models.WalletSummary](t, rec)
	assertAmount(t, "0", summary.Balance)
	assertAmount(t, "0", summary.PendingBalance)
}

func TestDepositRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.gateway.On("InitializeCharge", mock.Anything, mock.Anything).
		Return(&services.Charge{AuthorizationURL: "https://checkout.gateway.local/abc", TxRef: "GW-1"}, nil)

	rec := s.do(t, http.MethodPost, "/wallet/deposits", "user-1", `{"amount":"5000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dep := decodeData[struct {
		AuthorizationURL string `json:"authorizationUrl"`
		Reference        string `json:"reference"`
	}](t, rec)
	assert.Equal(t, "https://checkout.gateway.local/abc", dep.AuthorizationURL)
	require.NotEmpty(t, dep.Reference)

	s.gateway.On("Verify", mock.Anything, dep.Reference).Return(&services.Verification{
		Status:    services.GatewaySuccess,
		Reference: dep.Reference,
		TxRef:     "GW-1",
		Amount:    decimal.NewFromInt(5000),
		Currency:  "NGN",
	}, nil)

	rec = s.do(t, http.MethodGet, "/wallet/deposits/"+dep.Reference+"/verify", "user-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodGet, "/wallet/deposits/"+dep.Reference+"/verify", "user-1", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		result := decodeData[services.DepositResult](t, rec)
		assert.Equal(t, models.StatusCompleted, result.Status)
	}

	rec = s.do(t, http.MethodGet, "/wallet", "user-1", "")
	summary := decodeData[models.WalletSummary](t, rec)
	assertAmount(t, "5000", summary.Balance)
	assertAmount(t, "5000", summary.TotalEarned)
	s.gateway.AssertNumberOfCalls(t, "Verify", 1)
}

func TestVerifyDepositAmountMismatchIsStable(t *testing.T) {
	s := newTestServer(t)
	s.gateway.On("InitializeCharge", mock.Anything, mock.Anything).
		Return(&services.Charge{AuthorizationURL: "https://checkout.gateway.local/abc", TxRef: "GW-2"}, nil)

	rec := s.do(t, http.MethodPost, "/wallet/deposits", "user-1", `{"amount":"1000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reference := decodeData[map[string]string](t, rec)["reference"]

	s.gateway.On("Verify", mock.Anything, reference).Return(&services.Verification{
		Status:    services.GatewaySuccess,
		Reference: reference,
		TxRef:     "GW-2",
		Amount:    decimal.RequireFromString("1000.01"),
		Currency:  "NGN",
	}, nil)

	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodGet, "/wallet/deposits/"+reference+"/verify", "user-1", "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, ledger.CodeAmountMismatch, decodeError(t, rec).Code)
	}
	s.gateway.AssertNumberOfCalls(t, "Verify", 1)

	rec = s.do(t, http.MethodGet, "/wallet", "user-1", "")
	assertAmount(t, "0", decodeData[models.WalletSummary](t, rec).Balance)
}

func TestInitDepositRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/wallet/deposits", "user-1", `{"amount":"5000","bonus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/deposits", "user-1", `{"amount":"5000"}{"amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/wallet/deposits", "user-1", `{"amount":"50"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeBelowMinimumDeposit, decodeError(t, rec).Code)
	s.gateway.AssertNotCalled(t, "InitializeCharge", mock.Anything, mock.Anything)
}

func TestAmountsFinerThanKobo(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "user-1", 5000)

	rec := s.do(t, http.MethodPost, "/wallet/deposits", "user-1", `{"amount":"1000.005"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeInvalidRequest, decodeError(t, rec).Code)
	s.gateway.AssertNotCalled(t, "InitializeCharge", mock.Anything, mock.Anything)

	rec = s.do(t, http.MethodPost, "/wallet/withdrawals", "user-1", `{"amount":"1000.005","bankCode":"058","accountNumber":"0123456789"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeInvalidRequest, decodeError(t, rec).Code)
	s.bank.AssertNotCalled(t, "InitiatePayout", mock.Anything, mock.Anything)

	rec = s.do(t, http.MethodPost, "/escrow", "user-1", `{"tradeId":"T9","sellerId":"seller","amount":"1000.005"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeInvalidRequest, decodeError(t, rec).Code)

	rec = s.do(t, http.MethodGet, "/wallet", "user-1", "")
	summary := decodeData[models.WalletSummary](t, rec)
	assertAmount(t, "5000", summary.Balance)
	assertAmount(t, "0", summary.PendingBalance)
}

func TestCreateWithdrawal(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "user-1", 5000)
	s.bank.On("ResolveAccount", mock.Anything, "058", "0123456789").Return("ADA OBI", nil)
	s.bank.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(&services.PayoutReceipt{PayoutID: "PO-1", State: services.PayoutProcessing}, nil)

	rec := s.do(t, http.MethodPost, "/wallet/withdrawals", "user-1", `{"amount":"4000","bankCode":"058","accountNumber":"0123456789"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decodeData[services.WithdrawalResult](t, rec)
	assert.Equal(t, "ADA OBI", result.AccountName)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, models.StatusPending, result.Transaction.Status)
	require.NotNil(t, result.FeeTransaction)
	assertAmount(t, "200", result.FeeTransaction.Amount)

	rec = s.do(t, http.MethodGet, "/wallet", "user-1", "")
	assertAmount(t, "800", decodeData[models.WalletSummary](t, rec).Balance)

	rec = s.do(t, http.MethodPost, "/wallet/withdrawals", "user-1", `{"amount":"4000","bankCode":"058","accountNumber":"0123456789"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeInsufficientFunds, decodeError(t, rec).Code)
}

func TestVerifyAccount(t *testing.T) {
	s := newTestServer(t)
	s.bank.On("ResolveAccount", mock.Anything, "058", "0123456789").Return("ADA OBI", nil)
	s.bank.On("ResolveAccount", mock.Anything, "058", "9999999999").Return("", nil)

	rec := s.do(t, http.MethodPost, "/wallet/withdrawals/verify-account", "user-1", `{"bankCode":"058","accountNumber":"0123456789"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ADA OBI", decodeData[map[string]string](t, rec)["accountName"])

	rec = s.do(t, http.MethodPost, "/wallet/withdrawals/verify-account", "user-1", `{"bankCode":"058","accountNumber":"9999999999"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, ledger.CodeAccountVerificationFailed, decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/wallet/withdrawals/verify-account", "user-1", `{"bankCode":"058","accountNumber":"12ab"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).Details, "AccountNumber")
}

func TestListTransactions(t *testing.T) {
	s := newTestServer(t)
	s.fund(t, "user-1", 100)
	s.fund(t, "user-1", 200)
	s.fund(t, "user-1", 300)

	rec := s.do(t, http.MethodGet, "/wallet/transactions?type=deposit&page=1&pageSize=2", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeData[models.TransactionPage](t, rec)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	rec = s.do(t, http.MethodGet, "/wallet/transactions?page=abc", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/wallet/transactions?from=yesterday", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/wallet/transactions?status=done", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/wallet/transactions?page=922337203685477580", "user-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.CodeInvalidRequest, decodeError(t, rec).Code)
}

func TestVerifyBalanceEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/wallet/verify-balance", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.fund(t, "user-1", 900)
	rec = s.do(t, http.MethodPost, "/wallet/verify-balance", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeData[services.BalanceReport](t, rec)
	assert.True(t, report.Consistent)
	assert.Equal(t, 1, report.VerificationCount)
}

func TestListBanks(t *testing.T) {
	s := newTestServer(t)
	s.bank.On("ListBanks", mock.Anything).Return(nil, errors.New("timeout"))

	rec := s.do(t, http.MethodGet, "/banks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	banks := decodeData[[]models.Bank](t, rec)
	assert.Contains(t, banks, models.Bank{Code: "058", Name: "Guaranty Trust Bank"})
}
