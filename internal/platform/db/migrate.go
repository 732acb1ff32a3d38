package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order and must stay additive. Each entry runs
// once; applied names are tracked in schema_migrations.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "001_financial_records",
		sql: `CREATE TABLE IF NOT EXISTS financial_records (
			id           TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			period_start DATE NOT NULL,
			period_end   DATE NOT NULL,
			currency     CHAR(3) NOT NULL,
			revenue      NUMERIC(15,2) NOT NULL,
			expenses     NUMERIC(15,2) NOT NULL,
			net_profit   NUMERIC(15,2) NOT NULL,
			raw_data     JSONB,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (source, period_start, period_end, currency)
		);
		CREATE INDEX IF NOT EXISTS idx_financial_records_period ON financial_records (period_start, period_end);
		CREATE INDEX IF NOT EXISTS idx_financial_records_source ON financial_records (source);`,
	},
	{
		name: "002_accounts",
		sql: `CREATE TABLE IF NOT EXISTS accounts (
			account_id        TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			account_type      TEXT NOT NULL,
			parent_account_id TEXT REFERENCES accounts(account_id),
			source            TEXT NOT NULL,
			description       TEXT,
			is_active         BOOLEAN NOT NULL DEFAULT TRUE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_type ON accounts (account_type);
		CREATE INDEX IF NOT EXISTS idx_accounts_parent ON accounts (parent_account_id);
		CREATE INDEX IF NOT EXISTS idx_accounts_source_active ON accounts (source, is_active);`,
	},
	{
		name: "003_account_values",
		sql: `CREATE TABLE IF NOT EXISTS account_values (
			id                  BIGSERIAL PRIMARY KEY,
			account_id          TEXT NOT NULL REFERENCES accounts(account_id),
			financial_record_id TEXT NOT NULL REFERENCES financial_records(id) ON DELETE CASCADE,
			value               NUMERIC(15,2) NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (financial_record_id, account_id)
		);
		CREATE INDEX IF NOT EXISTS idx_account_values_record ON account_values (financial_record_id);
		CREATE INDEX IF NOT EXISTS idx_account_values_account ON account_values (account_id);`,
	},
	{
		name: "004_ingestion_audit",
		sql: `CREATE TABLE IF NOT EXISTS ingestion_batches (
			batch_id     TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			files_total  INT NOT NULL DEFAULT 0,
			files_ok     INT NOT NULL DEFAULT 0,
			files_failed INT NOT NULL DEFAULT 0,
			started_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			summary      JSONB
		);
		CREATE TABLE IF NOT EXISTS ingestion_audit (
			id          BIGSERIAL PRIMARY KEY,
			batch_id    TEXT NOT NULL,
			file        TEXT NOT NULL,
			phase       TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			ended_at    TIMESTAMPTZ,
			outcome     TEXT NOT NULL,
			issues_json JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_ingestion_audit_batch ON ingestion_audit (batch_id);`,
	},
}

// Migrate applies pending migrations. Safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("platform/db: migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.name).Scan(&exists); err != nil {
			return fmt.Errorf("platform/db: check migration %s: %w", m.name, err)
		}
		if exists {
			continue
		}
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("platform/db: apply migration %s: %w", m.name, err)
		}
		if _, err := pool.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name); err != nil {
			return fmt.Errorf("platform/db: record migration %s: %w", m.name, err)
		}
	}
	return nil
}
