package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ledgers (
    sequence    BIGINT PRIMARY KEY,
    close_time  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ledgers_close_time ON ledgers (close_time);

CREATE TABLE IF NOT EXISTS balance_snapshots (
    account         TEXT NOT NULL,
    currency        TEXT NOT NULL,
    issuer          TEXT NOT NULL,
    ledger_sequence BIGINT NOT NULL,
    balance         NUMERIC NOT NULL,
    PRIMARY KEY (account, currency, issuer, ledger_sequence)
);

CREATE INDEX IF NOT EXISTS balance_snapshots_token
    ON balance_snapshots (currency, issuer, ledger_sequence);

CREATE TABLE IF NOT EXISTS metric_snapshots (
    currency        TEXT NOT NULL,
    issuer          TEXT NOT NULL,
    ledger_sequence BIGINT NOT NULL,
    trustlines      BIGINT NOT NULL,
    holders         BIGINT NOT NULL,
    supply          NUMERIC NOT NULL,
    PRIMARY KEY (currency, issuer, ledger_sequence)
);

CREATE TABLE IF NOT EXISTS token_exchanges (
    tx_hash          TEXT NOT NULL,
    ledger_sequence  BIGINT NOT NULL,
    ordinal          INT NOT NULL,
    maker            TEXT NOT NULL,
    taker            TEXT NOT NULL,
    paid_currency    TEXT NOT NULL,
    paid_issuer      TEXT NOT NULL,
    got_currency     TEXT NOT NULL,
    got_issuer       TEXT NOT NULL,
    paid_value       NUMERIC NOT NULL,
    got_value        NUMERIC NOT NULL,
    PRIMARY KEY (tx_hash, ledger_sequence, ordinal)
);

CREATE INDEX IF NOT EXISTS token_exchanges_paid_pair
    ON token_exchanges (paid_currency, paid_issuer, ledger_sequence);

CREATE INDEX IF NOT EXISTS token_exchanges_got_pair
    ON token_exchanges (got_currency, got_issuer, ledger_sequence);

CREATE TABLE IF NOT EXISTS token_cache (
    currency               TEXT NOT NULL,
    issuer                 TEXT NOT NULL,
    price                  NUMERIC NOT NULL DEFAULT 0,
    price_delta_24h        NUMERIC NOT NULL DEFAULT 0,
    price_percent_24h      DOUBLE PRECISION NOT NULL DEFAULT 0,
    price_delta_7d         NUMERIC NOT NULL DEFAULT 0,
    price_percent_7d       DOUBLE PRECISION NOT NULL DEFAULT 0,
    volume_24h             NUMERIC NOT NULL DEFAULT 0,
    volume_7d              NUMERIC NOT NULL DEFAULT 0,
    trustlines             BIGINT NOT NULL DEFAULT 0,
    trustlines_delta_24h   BIGINT NOT NULL DEFAULT 0,
    trustlines_percent_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
    trustlines_delta_7d    BIGINT NOT NULL DEFAULT 0,
    trustlines_percent_7d  DOUBLE PRECISION NOT NULL DEFAULT 0,
    holders                BIGINT NOT NULL DEFAULT 0,
    holders_delta_24h      BIGINT NOT NULL DEFAULT 0,
    holders_percent_24h    DOUBLE PRECISION NOT NULL DEFAULT 0,
    holders_delta_7d       BIGINT NOT NULL DEFAULT 0,
    holders_percent_7d     DOUBLE PRECISION NOT NULL DEFAULT 0,
    supply                 NUMERIC NOT NULL DEFAULT 0,
    supply_delta_24h       NUMERIC NOT NULL DEFAULT 0,
    supply_percent_24h     DOUBLE PRECISION NOT NULL DEFAULT 0,
    supply_delta_7d        NUMERIC NOT NULL DEFAULT 0,
    supply_percent_7d      DOUBLE PRECISION NOT NULL DEFAULT 0,
    trusted                BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (currency, issuer)
);

CREATE INDEX IF NOT EXISTS token_cache_volume_7d ON token_cache (volume_7d);

CREATE TABLE IF NOT EXISTS ranked_items (
    id             BIGSERIAL PRIMARY KEY,
    list           TEXT NOT NULL,
    scope          TEXT NOT NULL DEFAULT '',
    currency       TEXT NOT NULL,
    issuer         TEXT NOT NULL,
    score          NUMERIC NOT NULL,
    rank           BIGINT NOT NULL,
    sequence_start BIGINT NOT NULL,
    sequence_end   BIGINT
);

CREATE INDEX IF NOT EXISTS ranked_items_open
    ON ranked_items (list, scope, rank) WHERE sequence_end IS NULL;

CREATE INDEX IF NOT EXISTS ranked_items_window
    ON ranked_items (list, scope, sequence_start, sequence_end);
`

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, schemaSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}
