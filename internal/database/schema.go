package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []struct {
	name string
	ddl  string
}{
	{"wallet_accounts", `
		CREATE TABLE IF NOT EXISTS wallet_accounts (
			user_id TEXT PRIMARY KEY,
			balance NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			pending_balance NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (pending_balance >= 0),
			total_earned NUMERIC(18,2) NOT NULL DEFAULT 0,
			last_transaction_at TIMESTAMP WITH TIME ZONE NULL,
			last_balance_verification TIMESTAMP WITH TIME ZONE NULL,
			verification_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`},
	{"wallet_transactions", `
		CREATE TABLE IF NOT EXISTS wallet_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES wallet_accounts(user_id),
			type TEXT NOT NULL CHECK (type IN ('deposit','withdrawal','escrow','release','refund','fee','withdrawal_fee')),
			amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','completed','failed','cancelled')),
			reference TEXT NOT NULL UNIQUE,
			tx_ref TEXT NULL UNIQUE,
			trade_id TEXT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_wallet_transactions_user_created ON wallet_transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_wallet_transactions_pending ON wallet_transactions(created_at) WHERE status = 'pending';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_transactions_trade_resolution ON wallet_transactions(trade_id) WHERE type IN ('release','refund')`},
	{"escrow_holds", `
		CREATE TABLE IF NOT EXISTS escrow_holds (
			trade_id TEXT PRIMARY KEY,
			trade_kind TEXT NOT NULL DEFAULT '',
			buyer_id TEXT NOT NULL REFERENCES wallet_accounts(user_id),
			seller_id TEXT NOT NULL DEFAULT '',
			amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL DEFAULT 'held' CHECK (status IN ('held','released','refunded')),
			escrow_reference TEXT NOT NULL,
			resolution_reference TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
			resolved_at TIMESTAMP WITH TIME ZONE NULL
		);
		CREATE INDEX IF NOT EXISTS idx_escrow_holds_buyer_held ON escrow_holds(buyer_id) WHERE status = 'held'`},
	{"withdrawal_requests", `
		CREATE TABLE IF NOT EXISTS withdrawal_requests (
			reference TEXT PRIMARY KEY,
			fee_reference TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL REFERENCES wallet_accounts(user_id),
			bank_code TEXT NOT NULL,
			account_number TEXT NOT NULL,
			account_name TEXT NOT NULL,
			amount NUMERIC(18,2) NOT NULL,
			fee NUMERIC(18,2) NOT NULL DEFAULT 0,
			payout_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`},
}

// EnsureSchema creates the wallet tables and indexes when missing
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, t := range schema {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", t.name, err)
		}
	}
	return nil
}
