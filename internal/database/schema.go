package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Migrate creates the ledger schema when it does not exist yet. Postings are
// append-only; balances are always derived, so there is no balance column
// anywhere.
func Migrate(ctx context.Context, db *sql.DB) error {
	var queries []string
	query := `CREATE TABLE IF NOT EXISTS ledger_accounts (
		id         BIGSERIAL   PRIMARY KEY,
		owner_id   TEXT        NOT NULL DEFAULT '',
		owner_type TEXT        NOT NULL,
		currency   TEXT        NOT NULL,
		type       TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (owner_id, currency, type)
	);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS ledger_postings (
		id                BIGSERIAL      PRIMARY KEY,
		op_type           TEXT           NOT NULL,
		correlation_id    TEXT,
		debit_account_id  BIGINT         NOT NULL REFERENCES ledger_accounts (id),
		credit_account_id BIGINT         NOT NULL REFERENCES ledger_accounts (id),
		amount            NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
		currency          TEXT           NOT NULL,
		user_id           TEXT           NOT NULL DEFAULT '',
		memo              TEXT           NOT NULL DEFAULT '',
		meta              JSONB,
		created_at        TIMESTAMPTZ    NOT NULL DEFAULT now(),
		CHECK (debit_account_id <> credit_account_id)
	);`
	queries = append(queries, query)
	query = `CREATE UNIQUE INDEX IF NOT EXISTS ledger_postings_op_correlation
		ON ledger_postings (op_type, correlation_id)
		WHERE correlation_id IS NOT NULL AND correlation_id <> '';`
	queries = append(queries, query)
	query = `CREATE INDEX IF NOT EXISTS ledger_postings_debit_account
		ON ledger_postings (debit_account_id);`
	queries = append(queries, query)
	query = `CREATE INDEX IF NOT EXISTS ledger_postings_credit_account
		ON ledger_postings (credit_account_id);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id              TEXT           PRIMARY KEY,
		user_id         TEXT           NOT NULL,
		amount_rub      NUMERIC(20, 2) NOT NULL CHECK (amount_rub > 0),
		method          TEXT           NOT NULL,
		destination     TEXT           NOT NULL,
		status          TEXT           NOT NULL,
		idempotency_key TEXT           NOT NULL,
		payload         JSONB          NOT NULL,
		created_at      TIMESTAMPTZ    NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ    NOT NULL DEFAULT now()
	);`
	queries = append(queries, query)
	query = `CREATE UNIQUE INDEX IF NOT EXISTS withdrawal_requests_user_key
		ON withdrawal_requests (user_id, idempotency_key)
		WHERE idempotency_key <> '';`
	queries = append(queries, query)
	query = `CREATE INDEX IF NOT EXISTS withdrawal_requests_user_status
		ON withdrawal_requests (user_id, status);`
	queries = append(queries, query)
	query = `CREATE TABLE IF NOT EXISTS referral_edges (
		child_id   TEXT        PRIMARY KEY,
		parent_id  TEXT        NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (child_id <> parent_id)
	);`
	queries = append(queries, query)
	query = `CREATE INDEX IF NOT EXISTS referral_edges_parent
		ON referral_edges (parent_id);`
	queries = append(queries, query)

	for _, subquery := range queries {
		if _, err := db.ExecContext(ctx, subquery); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}

	log.Println("Database schema ready")
	return nil
}
