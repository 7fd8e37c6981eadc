package ledger

import (
	"context"
	"time"

	"github.com/campusmart/backend/internal/models"
	"github.com/shopspring/decimal"
)

// Store is the durable home of accounts, ledger entries, escrow holds and
// withdrawal requests. Reads outside a Tx see committed state only.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetAccount(ctx context.Context, userID string) (*models.WalletAccount, error)
	GetTransaction(ctx context.Context, reference string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]models.Transaction, int, error)
	// ListStalePending returns pending deposits and withdrawals created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)
	GetEscrowHold(ctx context.Context, tradeID string) (*models.EscrowHold, error)
	GetWithdrawalRequest(ctx context.Context, reference string) (*models.WithdrawalRequest, error)
}

// Tx is one atomic unit. Lock* methods hold the row until Commit or Rollback.
type Tx interface {
	Commit() error
	Rollback() error

	// LockAccount locks the user's account row, creating a zero account first if none exists.
	LockAccount(ctx context.Context, userID string) (*models.WalletAccount, error)
	SaveAccount(ctx context.Context, account *models.WalletAccount) error

	// InsertTransaction assigns ID and timestamps. Fails with ErrDuplicateReference
	// when reference or tx_ref already exist.
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	LockTransaction(ctx context.Context, reference string) (*models.Transaction, error)
	// CompareAndSetStatus moves the entry from one status to another only if it is
	// still in the expected one.
	CompareAndSetStatus(ctx context.Context, id int64, from, to models.TransactionStatus) (bool, error)
	SetTxRef(ctx context.Context, id int64, txRef string) error
	SetDescription(ctx context.Context, id int64, description string) error
	LedgerSums(ctx context.Context, userID string) ([]models.LedgerSum, error)

	InsertEscrowHold(ctx context.Context, hold *models.EscrowHold) error
	LockEscrowHold(ctx context.Context, tradeID string) (*models.EscrowHold, error)
	CompareAndSetHoldStatus(ctx context.Context, tradeID string, from, to models.HoldStatus, resolutionRef string) (bool, error)
	HeldEscrowTotal(ctx context.Context, buyerID string) (decimal.Decimal, error)

	InsertWithdrawalRequest(ctx context.Context, req *models.WithdrawalRequest) error
	SetPayoutID(ctx context.Context, reference, payoutID string) error
	DeleteWithdrawalRequest(ctx context.Context, reference string) error
}
