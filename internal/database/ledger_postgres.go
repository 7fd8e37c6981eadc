package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusmart/backend/internal/ledger"
	"github.com/campusmart/backend/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	accountColumns     = "user_id, balance, pending_balance, total_earned, last_transaction_at, last_balance_verification, verification_count, created_at, updated_at"
	transactionColumns = "id, user_id, type, amount, status, reference, tx_ref, trade_id, description, created_at, updated_at"
	holdColumns        = "trade_id, trade_kind, buyer_id, seller_id, amount, status, escrow_reference, resolution_reference, created_at, resolved_at"
	withdrawalColumns  = "reference, fee_reference, user_id, bank_code, account_number, account_name, amount, fee, payout_id, created_at"

	uniqueViolation = "23505"
)

// PostgresLedgerStore keeps the wallet ledger in Postgres. Row locks are taken
// with SELECT ... FOR UPDATE and state changes are guarded by the current status.
type PostgresLedgerStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ ledger.Store = (*PostgresLedgerStore)(nil)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresLedgerStore) BeginTx(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, now: s.now}, nil
}

func (s *PostgresLedgerStore) GetAccount(ctx context.Context, userID string) (*models.WalletAccount, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Errorf(ledger.ErrNotFound, "wallet account for %s not found", userID)
	}
	return account, err
}

func (s *PostgresLedgerStore) GetTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	return getTransaction(ctx, s.db, reference, false)
}

func (s *PostgresLedgerStore) ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageArgs := append(args, filter.PageSize, filter.Offset())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM wallet_transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, clause, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectTransactions(rows)
	return items, total, err
}

func (s *PostgresLedgerStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE status = 'pending' AND type IN ('deposit', 'withdrawal') AND created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *PostgresLedgerStore) GetEscrowHold(ctx context.Context, tradeID string) (*models.EscrowHold, error) {
	return getEscrowHold(ctx, s.db, tradeID, false)
}

func (s *PostgresLedgerStore) GetWithdrawalRequest(ctx context.Context, reference string) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := s.db.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE reference = $1`, reference).
		Scan(&w.Reference, &w.FeeReference, &w.UserID, &w.BankCode, &w.AccountNumber, &w.AccountName,
			&w.Amount, &w.Fee, &w.PayoutID, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Errorf(ledger.ErrNotFound, "withdrawal request %s not found", reference)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

type pgTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

func (t *pgTx) LockAccount(ctx context.Context, userID string) (*models.WalletAccount, error) {
	now := t.now()
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (user_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, now); err != nil {
		return nil, err
	}
	return scanAccount(t.tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE user_id = $1 FOR UPDATE`, userID))
}

func (t *pgTx) SaveAccount(ctx context.Context, a *models.WalletAccount) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_accounts
		SET balance = $1, pending_balance = $2, total_earned = $3, last_transaction_at = $4,
			last_balance_verification = $5, verification_count = $6, updated_at = $7
		WHERE user_id = $8`,
		a.Balance, a.PendingBalance, a.TotalEarned, nullTime(a.LastTransactionAt),
		nullTime(a.LastBalanceVerification), a.VerificationCount, a.UpdatedAt, a.UserID)
	if err != nil {
		return err
	}
	return expectOneRow(result, "wallet account "+a.UserID)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	now := t.now()
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO wallet_transactions (user_id, type, amount, status, reference, tx_ref, trade_id, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`,
		txn.UserID, string(txn.Type), txn.Amount, string(txn.Status), txn.Reference,
		nullString(txn.TxRef), nullString(txn.TradeID), txn.Description, now).Scan(&txn.ID)
	if err != nil {
		return mapUnique(err, "reference "+txn.Reference)
	}
	txn.CreatedAt = now
	txn.UpdatedAt = now
	return nil
}

func (t *pgTx) LockTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, reference, true)
}

func (t *pgTx) CompareAndSetStatus(ctx context.Context, id int64, from, to models.TransactionStatus) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_transactions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), t.now(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

func (t *pgTx) SetTxRef(ctx context.Context, id int64, txRef string) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_transactions SET tx_ref = $1, updated_at = $2 WHERE id = $3`,
		txRef, t.now(), id)
	if err != nil {
		return mapUnique(err, "gateway reference "+txRef)
	}
	return expectOneRow(result, fmt.Sprintf("transaction %d", id))
}

func (t *pgTx) SetDescription(ctx context.Context, id int64, description string) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE wallet_transactions SET description = $1, updated_at = $2 WHERE id = $3`,
		description, t.now(), id)
	if err != nil {
		return err
	}
	return expectOneRow(result, fmt.Sprintf("transaction %d", id))
}

func (t *pgTx) LedgerSums(ctx context.Context, userID string) ([]models.LedgerSum, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT type, status, COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE user_id = $1
		GROUP BY type, status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []models.LedgerSum
	for rows.Next() {
		var s models.LedgerSum
		var typ, status string
		if err := rows.Scan(&typ, &status, &s.Total); err != nil {
			return nil, err
		}
		s.Type = models.TransactionType(typ)
		s.Status = models.TransactionStatus(status)
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

func (t *pgTx) InsertEscrowHold(ctx context.Context, h *models.EscrowHold) error {
	now := t.now()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO escrow_holds (trade_id, trade_kind, buyer_id, seller_id, amount, status, escrow_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.TradeID, string(h.TradeKind), h.BuyerID, h.SellerID, h.Amount, string(h.Status), h.EscrowReference, now)
	if err != nil {
		return mapUnique(err, "escrow hold "+h.TradeID)
	}
	h.CreatedAt = now
	return nil
}

func (t *pgTx) LockEscrowHold(ctx context.Context, tradeID string) (*models.EscrowHold, error) {
	return getEscrowHold(ctx, t.tx, tradeID, true)
}

func (t *pgTx) CompareAndSetHoldStatus(ctx context.Context, tradeID string, from, to models.HoldStatus, resolutionRef string) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE escrow_holds SET status = $1, resolution_reference = $2, resolved_at = $3
		WHERE trade_id = $4 AND status = $5`,
		string(to), resolutionRef, t.now(), tradeID, string(from))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

func (t *pgTx) HeldEscrowTotal(ctx context.Context, buyerID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM escrow_holds
		WHERE buyer_id = $1 AND status = 'held'`, buyerID).Scan(&total)
	return total, err
}

func (t *pgTx) InsertWithdrawalRequest(ctx context.Context, w *models.WithdrawalRequest) error {
	now := t.now()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (reference, fee_reference, user_id, bank_code, account_number, account_name, amount, fee, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.Reference, w.FeeReference, w.UserID, w.BankCode, w.AccountNumber, w.AccountName, w.Amount, w.Fee, now)
	if err != nil {
		return mapUnique(err, "withdrawal "+w.Reference)
	}
	w.CreatedAt = now
	return nil
}

func (t *pgTx) SetPayoutID(ctx context.Context, reference, payoutID string) error {
	result, err := t.tx.ExecContext(ctx, `UPDATE withdrawal_requests SET payout_id = $1 WHERE reference = $2`, payoutID, reference)
	if err != nil {
		return err
	}
	return expectOneRow(result, "withdrawal request "+reference)
}

func (t *pgTx) DeleteWithdrawalRequest(ctx context.Context, reference string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM withdrawal_requests WHERE reference = $1`, reference)
	return err
}

func getTransaction(ctx context.Context, q queryer, reference string, lock bool) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM wallet_transactions WHERE reference = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	txn, err := scanTransaction(q.QueryRowContext(ctx, query, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Errorf(ledger.ErrNotFound, "transaction %s not found", reference)
	}
	return txn, err
}

func getEscrowHold(ctx context.Context, q queryer, tradeID string, lock bool) (*models.EscrowHold, error) {
	query := `SELECT ` + holdColumns + ` FROM escrow_holds WHERE trade_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var h models.EscrowHold
	var kind, status string
	var resolved sql.NullTime
	err := q.QueryRowContext(ctx, query, tradeID).Scan(&h.TradeID, &kind, &h.BuyerID, &h.SellerID, &h.Amount,
		&status, &h.EscrowReference, &h.ResolutionReference, &h.CreatedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Errorf(ledger.ErrNotFound, "escrow hold %s not found", tradeID)
	}
	if err != nil {
		return nil, err
	}
	h.TradeKind = models.TradeKind(kind)
	h.Status = models.HoldStatus(status)
	h.ResolvedAt = timePtr(resolved)
	return &h, nil
}

func scanAccount(row rowScanner) (*models.WalletAccount, error) {
	var a models.WalletAccount
	var lastTxn, lastVerify sql.NullTime
	if err := row.Scan(&a.UserID, &a.Balance, &a.PendingBalance, &a.TotalEarned, &lastTxn, &lastVerify,
		&a.VerificationCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.LastTransactionAt = timePtr(lastTxn)
	a.LastBalanceVerification = timePtr(lastVerify)
	return &a, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var typ, status string
	var txRef, tradeID sql.NullString
	if err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &status, &t.Reference, &txRef, &tradeID,
		&t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(typ)
	t.Status = models.TransactionStatus(status)
	if txRef.Valid {
		t.TxRef = &txRef.String
	}
	if tradeID.Valid {
		t.TradeID = &tradeID.String
	}
	return &t, nil
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	items := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *t)
	}
	return items, rows.Err()
}

func mapUnique(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ledger.Wrap(ledger.ErrDuplicateReference, fmt.Errorf("%s: %s", what, pqErr.Message))
	}
	return err
}

func expectOneRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.Errorf(ledger.ErrNotFound, "%s not found", what)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
