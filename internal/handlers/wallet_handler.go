package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/middleware"
	"github.com/campusmart/backend/internal/models"
	"github.com/campusmart/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type WalletHandler struct {
	accounts    *services.AccountService
	deposits    *services.DepositService
	withdrawals *services.WithdrawalService
	banks       *services.BankService
	validator   *services.ValidationHelper
}

func NewWalletHandler(accounts *services.AccountService, deposits *services.DepositService, withdrawals *services.WithdrawalService, banks *services.BankService) *WalletHandler {
	return &WalletHandler{
		accounts:    accounts,
		deposits:    deposits,
		withdrawals: withdrawals,
		banks:       banks,
		validator:   services.NewValidationHelper(),
	}
}

// Routes mounts the authenticated wallet endpoints
func (h *WalletHandler) Routes(r chi.Router) {
	r.Get("/wallet", h.GetWallet)
	r.Post("/wallet/deposits", h.InitDeposit)
	r.Get("/wallet/deposits/{reference}/verify", h.VerifyDeposit)
	r.Post("/wallet/withdrawals/verify-account", h.VerifyAccount)
	r.Post("/wallet/withdrawals", h.CreateWithdrawal)
	r.Get("/wallet/transactions", h.ListTransactions)
	r.Post("/wallet/verify-balance", h.VerifyBalance)
}

// GetWallet returns the caller's balances
// @Summary Get wallet
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=string,pendingBalance=string,totalEarned=string}
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet [get]
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Open(r.Context(), userID)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusOK, account.Summary())
}

// InitDeposit starts a gateway charge for the caller
// @Summary Initialize deposit
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=string} true "Deposit amount"
// @Success 201 {object} object{authorizationUrl=string,reference=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /wallet/deposits [post]
func (h *WalletHandler) InitDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	dep, err := h.deposits.Initialize(r.Context(), userID, req.Amount)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"authorizationUrl": dep.AuthorizationURL,
		"reference":        dep.Reference,
	})
}

// VerifyDeposit runs the verify-by-reference round trip for one of the caller's deposits
// @Summary Verify deposit
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Deposit reference"
// @Success 200 {object} services.DepositResult
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /wallet/deposits/{reference}/verify [get]
func (h *WalletHandler) VerifyDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	txn, err := h.deposits.Get(r.Context(), reference)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	if txn.UserID != userID && !middleware.IsAdmin(r.Context()) {
		services.SendWalletError(w, ledger.Errorf(ledger.ErrNotFound, "deposit %s not found", reference))
		return
	}

	result, err := h.deposits.Verify(r.Context(), reference)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// VerifyAccount resolves the account holder name for a payout destination
// @Summary Verify bank account
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{bankCode=string,accountNumber=string} true "Destination account"
// @Success 200 {object} object{accountName=string}
// @Failure 422 {object} services.ErrorResponse
// @Router /wallet/withdrawals/verify-account [post]
func (h *WalletHandler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}

	var req struct {
		BankCode      string `json:"bankCode" validate:"required,bank_code"`
		AccountNumber string `json:"accountNumber" validate:"required,account_number"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	name, err := h.withdrawals.VerifyAccount(r.Context(), req.BankCode, req.AccountNumber)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"accountName": name})
}

// CreateWithdrawal debits the caller and hands the payout to the banking partner
// @Summary Create withdrawal
// @Tags Wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=string,bankCode=string,accountNumber=string} true "Withdrawal request"
// @Success 201 {object} services.WithdrawalResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /wallet/withdrawals [post]
func (h *WalletHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount        decimal.Decimal `json:"amount"`
		BankCode      string          `json:"bankCode" validate:"required,bank_code"`
		AccountNumber string          `json:"accountNumber" validate:"required,account_number"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.withdrawals.Create(r.Context(), userID, req.Amount, req.BankCode, req.AccountNumber)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusCreated, result)
}

// ListTransactions pages through the caller's ledger entries, newest first
// @Summary List transactions
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Param type query string false "Transaction type"
// @Param status query string false "Transaction status"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page, from 1"
// @Param pageSize query int false "Page size"
// @Success 200 {object} models.TransactionPage
// @Router /wallet/transactions [get]
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}

	page, err := h.accounts.Transactions(r.Context(), userID, filter)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// VerifyBalance recomputes the caller's balances from the ledger and reports drift
// @Summary Verify balance
// @Tags Wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.BalanceReport
// @Router /wallet/verify-balance [post]
func (h *WalletHandler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	report, err := h.accounts.VerifyBalance(r.Context(), userID, false)
	if err != nil {
		services.SendWalletError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// ListBanks returns the banks payouts can be sent to
// @Summary List banks
// @Tags Banks
// @Produce json
// @Success 200 {array} models.Bank
// @Router /banks [get]
func (h *WalletHandler) ListBanks(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.banks.GetAllBanks(r.Context()))
}

func parseFilter(r *http.Request) (models.TransactionFilter, error) {
	q := r.URL.Query()
	filter := models.TransactionFilter{
		Type:   models.TransactionType(q.Get("type")),
		Status: models.TransactionStatus(q.Get("status")),
	}

	var err error
	if filter.Page, err = intParam(q.Get("page")); err != nil {
		return filter, ledger.Errorf(ledger.ErrInvalidRequest, "page must be a number")
	}
	if filter.PageSize, err = intParam(q.Get("pageSize")); err != nil {
		return filter, ledger.Errorf(ledger.ErrInvalidRequest, "pageSize must be a number")
	}
	if filter.From, err = timeParam(q.Get("from")); err != nil {
		return filter, ledger.Errorf(ledger.ErrInvalidRequest, "from must be an RFC3339 timestamp")
	}
	if filter.To, err = timeParam(q.Get("to")); err != nil {
		return filter, ledger.Errorf(ledger.ErrInvalidRequest, "to must be an RFC3339 timestamp")
	}
	return filter, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number")
	}
	return n, nil
}

func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
