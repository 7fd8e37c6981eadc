package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/campusmart/backend/internal/models"
	"github.com/shopspring/decimal"
)

// Clock allows deterministic time behavior in tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// CommitObserver is told about every entry that reached a terminal state or was
// recorded, after the surrounding unit committed.
type CommitObserver func(txn *models.Transaction)

// Ledger is the append-only journal. Every balance-affecting change runs inside
// a Unit that holds the row locks of the accounts it touches.
type Ledger struct {
	store     Store
	clock     Clock
	observers []CommitObserver
}

func New(store Store, clock Clock) *Ledger {
	if clock == nil {
		clock = RealClock{}
	}
	return &Ledger{store: store, clock: clock}
}

func (l *Ledger) Store() Store { return l.store }

func (l *Ledger) Now() time.Time { return l.clock.Now() }

// Observe registers fn to run after each successful unit for the entries it committed.
func (l *Ledger) Observe(fn CommitObserver) {
	l.observers = append(l.observers, fn)
}

// Unit is a single atomic ledger commit over a fixed set of locked accounts.
type Unit struct {
	Tx        Tx
	ledger    *Ledger
	accounts  map[string]*models.WalletAccount
	dirty     map[string]bool
	committed []*models.Transaction
}

// Run locks the accounts of userIDs in a stable order, runs fn and commits.
// Any error from fn rolls back every write, including account mutations.
func (l *Ledger) Run(ctx context.Context, userIDs []string, fn func(u *Unit) error) error {
	ids := uniqueSorted(userIDs)
	if len(ids) == 0 {
		return Errorf(ErrInvalidRequest, "no account to lock")
	}

	tx, err := l.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger unit: %w", err)
	}
	defer tx.Rollback()

	u := &Unit{
		Tx:       tx,
		ledger:   l,
		accounts: make(map[string]*models.WalletAccount, len(ids)),
		dirty:    make(map[string]bool, len(ids)),
	}

	// Lock accounts in consistent order to prevent deadlocks
	for _, id := range ids {
		account, err := tx.LockAccount(ctx, id)
		if err != nil {
			return fmt.Errorf("lock account %s: %w", id, err)
		}
		u.accounts[id] = account
	}

	if err := fn(u); err != nil {
		return err
	}

	for _, id := range ids {
		if !u.dirty[id] {
			continue
		}
		account := u.accounts[id]
		if account.Balance.IsNegative() || account.PendingBalance.IsNegative() {
			return Errorf(ErrInsufficientFunds, "account %s would go negative", id)
		}
		account.UpdatedAt = l.clock.Now()
		if err := tx.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("save account %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger unit: %w", err)
	}

	for _, txn := range u.committed {
		for _, fn := range l.observers {
			fn(txn)
		}
	}
	return nil
}

// Account returns the locked account of userID.
func (u *Unit) Account(userID string) (*models.WalletAccount, error) {
	account, ok := u.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s is not locked by this unit", userID)
	}
	return account, nil
}

// Touch marks the account as mutated so it is written back on commit.
func (u *Unit) Touch(userID string) {
	if account, ok := u.accounts[userID]; ok {
		now := u.ledger.clock.Now()
		account.LastTransactionAt = &now
		u.dirty[userID] = true
	}
}

// MarkVerified records a balance verification without touching lastTransactionAt.
func (u *Unit) MarkVerified(userID string) {
	if account, ok := u.accounts[userID]; ok {
		now := u.ledger.clock.Now()
		account.LastBalanceVerification = &now
		account.VerificationCount++
		u.dirty[userID] = true
	}
}

// AmountScale is the number of decimal places (kobo) an amount may carry
const AmountScale = 2

// ValidateAmount accepts positive amounts that fit in minor units exactly
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Errorf(ErrInvalidRequest, "amount must be positive")
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return Errorf(ErrInvalidRequest, "amount %s has more than %d decimal places", amount.String(), AmountScale)
	}
	return nil
}

// Entry describes a new ledger row.
type Entry struct {
	UserID      string
	Type        models.TransactionType
	Amount      decimal.Decimal
	Reference   string
	TradeID     string
	Description string
}

// CreatePending appends a pending entry. The user must be locked by the unit.
func (u *Unit) CreatePending(ctx context.Context, e Entry) (*models.Transaction, error) {
	if _, err := u.Account(e.UserID); err != nil {
		return nil, err
	}
	if !e.Type.Valid() {
		return nil, Errorf(ErrInvalidRequest, "unknown transaction type %q", e.Type)
	}
	if err := ValidateAmount(e.Amount); err != nil {
		return nil, err
	}
	if e.Reference == "" {
		return nil, Errorf(ErrInvalidRequest, "reference is required")
	}

	txn := &models.Transaction{
		UserID:      e.UserID,
		Type:        e.Type,
		Amount:      e.Amount,
		Status:      models.StatusPending,
		Reference:   e.Reference,
		Description: e.Description,
	}
	if e.TradeID != "" {
		tradeID := e.TradeID
		txn.TradeID = &tradeID
	}
	if err := u.Tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// Commit moves txn to a terminal status exactly once. Committing again with the
// stored status is a no-op and returns false; any other status fails with
// ErrInvalidTransition. Callers apply account mutations only when true is returned.
func (u *Unit) Commit(ctx context.Context, txn *models.Transaction, status models.TransactionStatus) (bool, error) {
	if !status.Terminal() {
		return false, Errorf(ErrInvalidTransition, "status %q is not terminal", status)
	}
	if txn.Status == status {
		return false, nil
	}
	if txn.Status.Terminal() {
		return false, Errorf(ErrInvalidTransition, "transaction %s is %s, cannot become %s", txn.Reference, txn.Status, status)
	}

	ok, err := u.Tx.CompareAndSetStatus(ctx, txn.ID, models.StatusPending, status)
	if err != nil {
		return false, fmt.Errorf("transition %s: %w", txn.Reference, err)
	}
	if !ok {
		// Lost the race: someone else already moved it out of pending.
		current, err := u.Tx.LockTransaction(ctx, txn.Reference)
		if err != nil {
			return false, err
		}
		*txn = *current
		if current.Status == status {
			return false, nil
		}
		return false, Errorf(ErrInvalidTransition, "transaction %s is %s, cannot become %s", txn.Reference, current.Status, status)
	}

	txn.Status = status
	txn.UpdatedAt = u.ledger.clock.Now()
	u.committed = append(u.committed, txn.Clone())
	return true, nil
}

// Record appends an entry that completes in the same unit, for movements that
// have no external side effect.
func (u *Unit) Record(ctx context.Context, e Entry) (*models.Transaction, error) {
	txn, err := u.CreatePending(ctx, e)
	if err != nil {
		return nil, err
	}
	if _, err := u.Commit(ctx, txn, models.StatusCompleted); err != nil {
		return nil, err
	}
	return txn, nil
}

// Recompute derives the user's projection from the journal.
func (u *Unit) Recompute(ctx context.Context, userID string) (Projection, error) {
	sums, err := u.Tx.LedgerSums(ctx, userID)
	if err != nil {
		return Projection{}, fmt.Errorf("ledger sums for %s: %w", userID, err)
	}
	held, err := u.Tx.HeldEscrowTotal(ctx, userID)
	if err != nil {
		return Projection{}, fmt.Errorf("held escrow for %s: %w", userID, err)
	}
	return Project(sums, held), nil
}

// LockTransaction reloads an entry under lock, mapping absence to ErrNotFound.
func (u *Unit) LockTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	txn, err := u.Tx.LockTransaction(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Errorf(ErrNotFound, "transaction %s not found", reference)
		}
		return nil, err
	}
	return txn, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
