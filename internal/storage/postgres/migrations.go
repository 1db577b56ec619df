package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "0001_accounts",
		sql: `
CREATE TABLE IF NOT EXISTS accounts (
	handle        TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL UNIQUE,
	balance       NUMERIC(20, 2) NOT NULL CHECK (balance >= 0),
	legal_name    TEXT,
	address       TEXT,
	date_of_birth DATE,
	government_id TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		version: "0002_transactions",
		sql: `
CREATE TABLE IF NOT EXISTS transactions (
	id               UUID PRIMARY KEY,
	sender_account   TEXT NOT NULL REFERENCES accounts (handle),
	sender_id        TEXT NOT NULL,
	receiver_account TEXT NOT NULL,
	amount           NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
	reason           TEXT NOT NULL,
	status           TEXT NOT NULL CHECK (status IN ('committed', 'rejected')),
	rejection_reason TEXT,
	reason_codes     TEXT[],
	created_at       TIMESTAMPTZ NOT NULL,
	CHECK ((status = 'rejected') = (rejection_reason IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS transactions_sender_created_idx
	ON transactions (sender_account, created_at)`,
	},
	{
		version: "0003_transactions_immutable",
		sql: `
CREATE OR REPLACE FUNCTION transactions_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'transactions are immutable';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS transactions_no_update ON transactions;
CREATE TRIGGER transactions_no_update
	BEFORE UPDATE OR DELETE ON transactions
	FOR EACH ROW EXECUTE FUNCTION transactions_immutable()`,
	},
}

// Migrate applies pending schema migrations in order, each in its own
// transaction, and records them in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return classify("ensure schema_migrations", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = $1`, m.version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return classify(fmt.Sprintf("check migration %q", m.version), err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return classify(fmt.Sprintf("begin migration %q", m.version), err)
		}

		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %q: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %q: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return classify(fmt.Sprintf("commit migration %q", m.version), err)
		}
	}

	return nil
}
