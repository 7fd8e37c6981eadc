package ledger

import (
	"github.com/campusmart/backend/internal/models"
	"github.com/shopspring/decimal"
)

// Projection is the account state implied by the journal.
type Projection struct {
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pendingBalance"`
	TotalEarned    decimal.Decimal `json:"totalEarned"`
}

// BalanceEffect is the signed change an entry makes to available funds.
//
// Withdrawal debits are posted when the entry is created and stay posted in
// every status; a failed payout is compensated by a separate refund entry.
func BalanceEffect(typ models.TransactionType, status models.TransactionStatus, amount decimal.Decimal) decimal.Decimal {
	switch typ {
	case models.TypeWithdrawal, models.TypeWithdrawalFee:
		return amount.Neg()
	}
	if status != models.StatusCompleted {
		return decimal.Zero
	}
	switch typ {
	case models.TypeDeposit, models.TypeRelease, models.TypeRefund:
		return amount
	case models.TypeEscrow, models.TypeFee:
		return amount.Neg()
	}
	return decimal.Zero
}

// EarnedEffect is the change an entry makes to lifetime earnings.
func EarnedEffect(typ models.TransactionType, status models.TransactionStatus, amount decimal.Decimal) decimal.Decimal {
	if status != models.StatusCompleted {
		return decimal.Zero
	}
	if typ == models.TypeDeposit || typ == models.TypeRelease {
		return amount
	}
	return decimal.Zero
}

func Project(sums []models.LedgerSum, held decimal.Decimal) Projection {
	p := Projection{PendingBalance: held}
	for _, s := range sums {
		p.Balance = p.Balance.Add(BalanceEffect(s.Type, s.Status, s.Total))
		p.TotalEarned = p.TotalEarned.Add(EarnedEffect(s.Type, s.Status, s.Total))
	}
	return p
}

// Matches reports whether the account agrees with the projection.
func (p Projection) Matches(a *models.WalletAccount) bool {
	return p.Balance.Equal(a.Balance) &&
		p.PendingBalance.Equal(a.PendingBalance) &&
		p.TotalEarned.Equal(a.TotalEarned)
}
