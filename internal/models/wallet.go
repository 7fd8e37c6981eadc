package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccount is the materialized per-user projection of the ledger
type WalletAccount struct {
	UserID                  string          `json:"userId" db:"user_id"`
	Balance                 decimal.Decimal `json:"balance" db:"balance"`
	PendingBalance          decimal.Decimal `json:"pendingBalance" db:"pending_balance"`
	TotalEarned             decimal.Decimal `json:"totalEarned" db:"total_earned"`
	LastTransactionAt       *time.Time      `json:"lastTransactionAt,omitempty" db:"last_transaction_at"`
	LastBalanceVerification *time.Time      `json:"lastBalanceVerification,omitempty" db:"last_balance_verification"`
	VerificationCount       int             `json:"verificationCount" db:"verification_count"`
	CreatedAt               time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt               time.Time       `json:"updatedAt" db:"updated_at"`
}

// WalletSummary is the public view returned by the wallet endpoint
type WalletSummary struct {
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pendingBalance"`
	TotalEarned    decimal.Decimal `json:"totalEarned"`
}

func (a *WalletAccount) Summary() WalletSummary {
	return WalletSummary{
		Balance:        a.Balance,
		PendingBalance: a.PendingBalance,
		TotalEarned:    a.TotalEarned,
	}
}

// Clone returns a copy that shares no pointers with the receiver
func (a *WalletAccount) Clone() *WalletAccount {
	c := *a
	if a.LastTransactionAt != nil {
		t := *a.LastTransactionAt
		c.LastTransactionAt = &t
	}
	if a.LastBalanceVerification != nil {
		t := *a.LastBalanceVerification
		c.LastBalanceVerification = &t
	}
	return &c
}
