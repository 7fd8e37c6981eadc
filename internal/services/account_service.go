package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/logger"
	"github.com/campusmart/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PendingDestination says where funds leaving pendingBalance go
type PendingDestination int

const (
	// ReleaseToBalance returns held funds to the same user's balance (refund)
	ReleaseToBalance PendingDestination = iota
	// ReleaseOut removes held funds from the user entirely (release to seller)
	ReleaseOut
)

// AccountService is the only place balance fields are mutated. Every mutator
// takes the ledger unit that holds the account lock.
type AccountService struct {
	ledger  *ledger.Ledger
	metrics *Metrics
}

func NewAccountService(l *ledger.Ledger, metrics *Metrics) *AccountService {
	return &AccountService{ledger: l, metrics: metrics}
}

// GetAccount fails with ErrNotFound when the user never touched the wallet
func (s *AccountService) GetAccount(ctx context.Context, userID string) (*models.WalletAccount, error) {
	return s.ledger.Store().GetAccount(ctx, userID)
}

// Open returns the account, creating a zero one first if needed
func (s *AccountService) Open(ctx context.Context, userID string) (*models.WalletAccount, error) {
	account, err := s.GetAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	if err := s.ledger.Run(ctx, []string{userID}, func(u *ledger.Unit) error { return nil }); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

// ApplyCompletedCredit adds to balance and lifetime earnings
func (s *AccountService) ApplyCompletedCredit(u *ledger.Unit, userID string, amount decimal.Decimal) error {
	account, err := u.Account(userID)
	if err != nil {
		return err
	}
	account.Balance = account.Balance.Add(amount)
	account.TotalEarned = account.TotalEarned.Add(amount)
	u.Touch(userID)
	return nil
}

// ApplyReversal restores funds from a failed payout. Not an earning.
func (s *AccountService) ApplyReversal(u *ledger.Unit, userID string, amount decimal.Decimal) error {
	account, err := u.Account(userID)
	if err != nil {
		return err
	}
	account.Balance = account.Balance.Add(amount)
	u.Touch(userID)
	return nil
}

func (s *AccountService) ApplyDebit(u *ledger.Unit, userID string, amount decimal.Decimal) error {
	account, err := u.Account(userID)
	if err != nil {
		return err
	}
	if amount.GreaterThan(account.Balance) {
		return ledger.Errorf(ledger.ErrInsufficientFunds, "balance %s is below %s", account.Balance.StringFixed(2), amount.StringFixed(2))
	}
	account.Balance = account.Balance.Sub(amount)
	u.Touch(userID)
	return nil
}

func (s *AccountService) MoveToPending(u *ledger.Unit, userID string, amount decimal.Decimal) error {
	if err := s.ApplyDebit(u, userID, amount); err != nil {
		return err
	}
	account, _ := u.Account(userID)
	account.PendingBalance = account.PendingBalance.Add(amount)
	return nil
}

func (s *AccountService) ReleaseFromPending(u *ledger.Unit, userID string, amount decimal.Decimal, dest PendingDestination) error {
	account, err := u.Account(userID)
	if err != nil {
		return err
	}
	if amount.GreaterThan(account.PendingBalance) {
		return ledger.Errorf(ledger.ErrInvalidState, "pending balance %s is below %s", account.PendingBalance.StringFixed(2), amount.StringFixed(2))
	}
	account.PendingBalance = account.PendingBalance.Sub(amount)
	if dest == ReleaseToBalance {
		account.Balance = account.Balance.Add(amount)
	}
	u.Touch(userID)
	return nil
}

// BalanceReport compares the stored projection with the one derived from the ledger
type BalanceReport struct {
	UserID            string               `json:"userId"`
	Stored            models.WalletSummary `json:"stored"`
	Computed          ledger.Projection    `json:"computed"`
	Consistent        bool                 `json:"consistent"`
	Repaired          bool                 `json:"repaired"`
	VerifiedAt        time.Time            `json:"verifiedAt"`
	VerificationCount int                  `json:"verificationCount"`
}

// VerifyBalance recomputes the account from the ledger. With repair set, a
// drifted projection is overwritten with the computed one.
func (s *AccountService) VerifyBalance(ctx context.Context, userID string, repair bool) (*BalanceReport, error) {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return nil, err
	}

	var report *BalanceReport
	err := s.ledger.Run(ctx, []string{userID}, func(u *ledger.Unit) error {
		account, err := u.Account(userID)
		if err != nil {
			return err
		}
		computed, err := u.Recompute(ctx, userID)
		if err != nil {
			return err
		}

		report = &BalanceReport{
			UserID:     userID,
			Stored:     account.Summary(),
			Computed:   computed,
			Consistent: computed.Matches(account),
		}
		if !report.Consistent && repair {
			account.Balance = computed.Balance
			account.PendingBalance = computed.PendingBalance
			account.TotalEarned = computed.TotalEarned
			report.Repaired = true
		}
		u.MarkVerified(userID)
		report.VerifiedAt = *account.LastBalanceVerification
		report.VerificationCount = account.VerificationCount
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		s.metrics.BalanceDrift()
		logger.WithFields(logrus.Fields{
			"user_id":        userID,
			"stored_balance": report.Stored.Balance.String(),
			"ledger_balance": report.Computed.Balance.String(),
			"stored_pending": report.Stored.PendingBalance.String(),
			"ledger_pending": report.Computed.PendingBalance.String(),
			"repaired":       report.Repaired,
		}).Warn("[WALLET] balance drift detected")
	}
	return report, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxPage         = math.MaxInt32
)

// Transactions returns one page of the user's history, newest first
func (s *AccountService) Transactions(ctx context.Context, userID string, filter models.TransactionFilter) (*models.TransactionPage, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, ledger.Errorf(ledger.ErrInvalidRequest, "unknown transaction type %q", filter.Type)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ledger.Errorf(ledger.ErrInvalidRequest, "unknown transaction status %q", filter.Status)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	if filter.Page > maxPage {
		return nil, ledger.Errorf(ledger.ErrInvalidRequest, "page must be at most %d", maxPage)
	}

	items, total, err := s.ledger.Store().ListTransactions(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Transaction{}
	}
	return &models.TransactionPage{
		Items:      items,
		Pagination: models.NewPagination(filter.Page, filter.PageSize, total),
	}, nil
}
