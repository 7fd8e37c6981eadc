package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeDeposit       TransactionType = "deposit"
	TypeWithdrawal    TransactionType = "withdrawal"
	TypeEscrow        TransactionType = "escrow"
	TypeRelease       TransactionType = "release"
	TypeRefund        TransactionType = "refund"
	TypeFee           TransactionType = "fee"
	TypeWithdrawalFee TransactionType = "withdrawal_fee"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeEscrow, TypeRelease, TypeRefund, TypeFee, TypeWithdrawalFee:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s TransactionStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Transaction is one ledger entry. Immutable once terminal.
type Transaction struct {
	ID          int64             `json:"id" db:"id"`
	UserID      string            `json:"userId" db:"user_id"`
	Type        TransactionType   `json:"type" db:"type"`
	Amount      decimal.Decimal   `json:"amount" db:"amount"`
	Status      TransactionStatus `json:"status" db:"status"`
	Reference   string            `json:"reference" db:"reference"`
	TxRef       *string           `json:"txRef,omitempty" db:"tx_ref"`
	TradeID     *string           `json:"tradeId,omitempty" db:"trade_id"`
	Description string            `json:"description" db:"description"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" db:"updated_at"`
}

func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.TxRef != nil {
		s := *t.TxRef
		c.TxRef = &s
	}
	if t.TradeID != nil {
		s := *t.TradeID
		c.TradeID = &s
	}
	return &c
}

// TransactionFilter narrows a user's transaction history
type TransactionFilter struct {
	Type     TransactionType   `json:"type,omitempty"`
	Status   TransactionStatus `json:"status,omitempty"`
	From     *time.Time        `json:"from,omitempty"`
	To       *time.Time        `json:"to,omitempty"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

// Offset of the first row for the filter's page (pages start at 1). Saturates
// at math.MaxInt instead of overflowing.
func (f TransactionFilter) Offset() int {
	if f.Page < 1 || f.PageSize <= 0 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.PageSize {
		return math.MaxInt
	}
	return (f.Page - 1) * f.PageSize
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewPagination(page, pageSize, total int) Pagination {
	p := Pagination{Page: page, PageSize: pageSize, Total: total}
	if pageSize > 0 {
		p.TotalPages = (total + pageSize - 1) / pageSize
	}
	return p
}

type TransactionPage struct {
	Items      []Transaction `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// LedgerSum aggregates a user's entries by type and status
type LedgerSum struct {
	Type   TransactionType   `db:"type"`
	Status TransactionStatus `db:"status"`
	Total  decimal.Decimal   `db:"total"`
}
