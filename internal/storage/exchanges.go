package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

const (
	insertExchangeSQL = `INSERT INTO token_exchanges (
        tx_hash, ledger_sequence, ordinal,
        maker, taker,
        paid_currency, paid_issuer,
        got_currency, got_issuer,
        paid_value, got_value
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    ON CONFLICT (tx_hash, ledger_sequence, ordinal) DO UPDATE
    SET maker         = EXCLUDED.maker,
        taker         = EXCLUDED.taker,
        paid_currency = EXCLUDED.paid_currency,
        paid_issuer   = EXCLUDED.paid_issuer,
        got_currency  = EXCLUDED.got_currency,
        got_issuer    = EXCLUDED.got_issuer,
        paid_value    = EXCLUDED.paid_value,
        got_value     = EXCLUDED.got_value;`

	mostRecentExchangeSQL = `SELECT
        tx_hash, ledger_sequence, ordinal,
        maker, taker,
        paid_currency, paid_issuer,
        got_currency, got_issuer,
        paid_value, got_value
    FROM token_exchanges
    WHERE ledger_sequence <= $9
      AND (
        (paid_currency = $1 AND paid_issuer = $2 AND got_currency = $3 AND got_issuer = $4)
        OR
        (paid_currency = $5 AND paid_issuer = $6 AND got_currency = $7 AND got_issuer = $8)
      )
    ORDER BY ledger_sequence DESC, ordinal DESC
    LIMIT 1;`

	pairVolumeSQL = `SELECT COALESCE(SUM(
        CASE WHEN paid_currency = $1 AND paid_issuer = $2
             THEN paid_value
             ELSE got_value
        END), 0)
    FROM token_exchanges
    WHERE ledger_sequence >= $5 AND ledger_sequence <= $6
      AND (
        (paid_currency = $1 AND paid_issuer = $2 AND got_currency = $3 AND got_issuer = $4)
        OR
        (paid_currency = $3 AND paid_issuer = $4 AND got_currency = $1 AND got_issuer = $2)
      );`

	pairHistorySQL = `SELECT
        tx_hash, ledger_sequence, ordinal,
        maker, taker,
        paid_currency, paid_issuer,
        got_currency, got_issuer,
        paid_value, got_value
    FROM token_exchanges
    WHERE (paid_currency = $1 AND paid_issuer = $2 AND got_currency = $3 AND got_issuer = $4)
       OR (paid_currency = $3 AND paid_issuer = $4 AND got_currency = $1 AND got_issuer = $2)
    ORDER BY ledger_sequence DESC, ordinal DESC
    LIMIT $5;`
)

// ExchangeStore persists the append-only trade log.
type ExchangeStore interface {
	InsertExchange(ctx context.Context, rec ExchangeRecord) error
	MostRecentExchange(ctx context.Context, base, quote ledger.Token, asOfSequence int64) (ExchangeRecord, bool, error)
	PairVolume(ctx context.Context, base, quote ledger.Token, fromSequence, toSequence int64) (decimal.Decimal, error)
	PairHistory(ctx context.Context, base, quote ledger.Token, limit int) ([]ExchangeRecord, error)
}

// InsertExchange appends one trade. Re-running a ledger replaces rather than
// duplicates via the (tx_hash, ledger_sequence, ordinal) key.
func (s *Store) InsertExchange(ctx context.Context, rec ExchangeRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertExchangeSQL,
		rec.TxHash,
		rec.LedgerSequence,
		rec.Ordinal,
		rec.Maker,
		rec.Taker,
		rec.TakerPaidToken.Currency,
		rec.TakerPaidToken.Issuer,
		rec.TakerGotToken.Currency,
		rec.TakerGotToken.Issuer,
		rec.TakerPaidValue.String(),
		rec.TakerGotValue.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert exchange: %w", execErr)
	}
	return nil
}

// MostRecentExchange returns the latest trade of the pair at or before the
// given sequence, matching the pair in either direction. The second return
// value is false when the pair has never traded.
func (s *Store) MostRecentExchange(ctx context.Context, base, quote ledger.Token, asOfSequence int64) (ExchangeRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return ExchangeRecord{}, false, err
	}

	row := pool.QueryRow(ctx, mostRecentExchangeSQL,
		base.Currency, base.Issuer, quote.Currency, quote.Issuer,
		quote.Currency, quote.Issuer, base.Currency, base.Issuer,
		asOfSequence,
	)
	rec, scanErr := scanExchange(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return ExchangeRecord{}, false, nil
		}
		return ExchangeRecord{}, false, scanErr
	}
	return rec, true, nil
}

// PairVolume sums the base-side volume of the pair over an inclusive sequence
// window.
func (s *Store) PairVolume(ctx context.Context, base, quote ledger.Token, fromSequence, toSequence int64) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}

	var raw string
	scanErr := pool.QueryRow(ctx, pairVolumeSQL,
		base.Currency, base.Issuer,
		quote.Currency, quote.Issuer,
		fromSequence, toSequence,
	).Scan(&raw)
	if scanErr != nil {
		return decimal.Zero, fmt.Errorf("pair volume: %w", scanErr)
	}

	volume, convErr := decimal.NewFromString(raw)
	if convErr != nil {
		return decimal.Zero, fmt.Errorf("parse pair volume: %w", convErr)
	}
	return volume, nil
}

// PairHistory lists the most recent trades of a pair, newest first.
func (s *Store) PairHistory(ctx context.Context, base, quote ledger.Token, limit int) ([]ExchangeRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, pairHistorySQL,
		base.Currency, base.Issuer,
		quote.Currency, quote.Issuer,
		limit,
	)
	if queryErr != nil {
		return nil, fmt.Errorf("pair history: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ExchangeRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanExchange(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanExchange(row pgx.Row) (ExchangeRecord, error) {
	var (
		rec             ExchangeRecord
		paidStr, gotStr string
	)
	if err := row.Scan(
		&rec.TxHash,
		&rec.LedgerSequence,
		&rec.Ordinal,
		&rec.Maker,
		&rec.Taker,
		&rec.TakerPaidToken.Currency,
		&rec.TakerPaidToken.Issuer,
		&rec.TakerGotToken.Currency,
		&rec.TakerGotToken.Issuer,
		&paidStr,
		&gotStr,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExchangeRecord{}, err
		}
		return ExchangeRecord{}, fmt.Errorf("scan exchange: %w", err)
	}

	var convErr error
	rec.TakerPaidValue, convErr = decimal.NewFromString(paidStr)
	if convErr != nil {
		return ExchangeRecord{}, fmt.Errorf("parse taker paid value: %w", convErr)
	}
	rec.TakerGotValue, convErr = decimal.NewFromString(gotStr)
	if convErr != nil {
		return ExchangeRecord{}, fmt.Errorf("parse taker got value: %w", convErr)
	}
	return rec, nil
}
