package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalRequest holds the verified destination of a withdrawal until it settles
type WithdrawalRequest struct {
	Reference     string          `json:"reference" db:"reference"`
	FeeReference  string          `json:"feeReference,omitempty" db:"fee_reference"`
	UserID        string          `json:"userId" db:"user_id"`
	BankCode      string          `json:"bankCode" db:"bank_code"`
	AccountNumber string          `json:"accountNumber" db:"account_number"`
	AccountName   string          `json:"accountName" db:"account_name"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Fee           decimal.Decimal `json:"fee" db:"fee"`
	PayoutID      string          `json:"payoutId,omitempty" db:"payout_id"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// Total is the amount debited from the wallet
func (w *WithdrawalRequest) Total() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

// MaskedAccount hides all but the last four digits
func (w *WithdrawalRequest) MaskedAccount() string {
	n := len(w.AccountNumber)
	if n <= 4 {
		return w.AccountNumber
	}
	masked := make([]byte, n)
	for i := 0; i < n-4; i++ {
		masked[i] = '*'
	}
	copy(masked[n-4:], w.AccountNumber[n-4:])
	return string(masked)
}
