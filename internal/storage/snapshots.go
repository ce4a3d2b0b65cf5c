package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

// Balance and metric histories share the same temporal-table shape: one row
// per (key, ledger sequence), upserted so a re-run of the same ledger
// overwrites rather than duplicates, and read back with "greatest sequence at
// or below the query sequence" semantics.

const (
	writeBalanceSQL = `INSERT INTO balance_snapshots (
        account, currency, issuer, ledger_sequence, balance
    ) VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (account, currency, issuer, ledger_sequence) DO UPDATE
    SET balance = EXCLUDED.balance;`

	readBalanceAsOfSQL = `SELECT balance
    FROM balance_snapshots
    WHERE account = $1 AND currency = $2 AND issuer = $3
      AND ledger_sequence <= $4
    ORDER BY ledger_sequence DESC
    LIMIT 1;`

	writeMetricsSQL = `INSERT INTO metric_snapshots (
        currency, issuer, ledger_sequence, trustlines, holders, supply
    ) VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (currency, issuer, ledger_sequence) DO UPDATE
    SET trustlines = EXCLUDED.trustlines,
        holders    = EXCLUDED.holders,
        supply     = EXCLUDED.supply;`

	readMetricsAsOfSQL = `SELECT trustlines, holders, supply
    FROM metric_snapshots
    WHERE currency = $1 AND issuer = $2
      AND ledger_sequence <= $3
    ORDER BY ledger_sequence DESC
    LIMIT 1;`

	sumPositiveBalancesSQL = `SELECT COALESCE(SUM(balance), 0)
    FROM (
        SELECT DISTINCT ON (account) balance
        FROM balance_snapshots
        WHERE currency = $1 AND issuer = $2 AND ledger_sequence <= $3
        ORDER BY account, ledger_sequence DESC
    ) current_balances
    WHERE balance > 0;`
)

// BalanceStore persists the per-(account, token) balance history.
type BalanceStore interface {
	WriteBalanceSnapshot(ctx context.Context, rec BalanceRecord) error
	ReadBalanceAsOf(ctx context.Context, account string, token ledger.Token, sequence int64) (decimal.Decimal, bool, error)
	SumPositiveBalances(ctx context.Context, token ledger.Token, sequence int64) (decimal.Decimal, error)
}

// MetricsStore persists the per-token aggregate metric history.
type MetricsStore interface {
	WriteMetricsSnapshot(ctx context.Context, m TokenMetrics) error
	ReadMetricsAsOf(ctx context.Context, token ledger.Token, sequence int64) (TokenMetrics, bool, error)
}

// WriteBalanceSnapshot upserts one balance history row.
func (s *Store) WriteBalanceSnapshot(ctx context.Context, rec BalanceRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, writeBalanceSQL,
		rec.Account,
		rec.Token.Currency,
		rec.Token.Issuer,
		rec.LedgerSequence,
		rec.Balance.String(),
	)
	if execErr != nil {
		return fmt.Errorf("write balance snapshot: %w", execErr)
	}
	return nil
}

// ReadBalanceAsOf returns the balance in effect at the given sequence. The
// second return value is false when no snapshot exists yet.
func (s *Store) ReadBalanceAsOf(ctx context.Context, account string, token ledger.Token, sequence int64) (decimal.Decimal, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, false, err
	}

	var raw string
	scanErr := pool.QueryRow(ctx, readBalanceAsOfSQL, account, token.Currency, token.Issuer, sequence).Scan(&raw)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("read balance as of: %w", scanErr)
	}

	balance, convErr := decimal.NewFromString(raw)
	if convErr != nil {
		return decimal.Zero, false, fmt.Errorf("parse balance: %w", convErr)
	}
	return balance, true, nil
}

// WriteMetricsSnapshot upserts one metrics history row.
func (s *Store) WriteMetricsSnapshot(ctx context.Context, m TokenMetrics) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, writeMetricsSQL,
		m.Token.Currency,
		m.Token.Issuer,
		m.LedgerSequence,
		m.Trustlines,
		m.Holders,
		m.Supply.String(),
	)
	if execErr != nil {
		return fmt.Errorf("write metrics snapshot: %w", execErr)
	}
	return nil
}

// ReadMetricsAsOf returns the metrics in effect at the given sequence. The
// second return value is false when the token has no metrics yet.
func (s *Store) ReadMetricsAsOf(ctx context.Context, token ledger.Token, sequence int64) (TokenMetrics, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return TokenMetrics{}, false, err
	}

	m := TokenMetrics{Token: token, LedgerSequence: sequence}
	var raw string
	scanErr := pool.QueryRow(ctx, readMetricsAsOfSQL, token.Currency, token.Issuer, sequence).
		Scan(&m.Trustlines, &m.Holders, &raw)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return TokenMetrics{}, false, nil
		}
		return TokenMetrics{}, false, fmt.Errorf("read metrics as of: %w", scanErr)
	}

	supply, convErr := decimal.NewFromString(raw)
	if convErr != nil {
		return TokenMetrics{}, false, fmt.Errorf("parse supply: %w", convErr)
	}
	m.Supply = supply
	return m, true, nil
}

// SumPositiveBalances totals the currently-positive balances of a token as of
// a sequence. Used by operational cross-checks against the supply metric.
func (s *Store) SumPositiveBalances(ctx context.Context, token ledger.Token, sequence int64) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}

	var raw string
	if scanErr := pool.QueryRow(ctx, sumPositiveBalancesSQL, token.Currency, token.Issuer, sequence).Scan(&raw); scanErr != nil {
		return decimal.Zero, fmt.Errorf("sum positive balances: %w", scanErr)
	}

	total, convErr := decimal.NewFromString(raw)
	if convErr != nil {
		return decimal.Zero, fmt.Errorf("parse balance sum: %w", convErr)
	}
	return total, nil
}
