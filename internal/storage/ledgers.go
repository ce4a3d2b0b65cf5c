package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoLedgers indicates the ledger index is still empty.
var ErrNoLedgers = errors.New("storage: no ledgers recorded")

const (
	upsertLedgerSQL = `INSERT INTO ledgers (sequence, close_time)
    VALUES ($1, $2)
    ON CONFLICT (sequence) DO UPDATE
    SET close_time = EXCLUDED.close_time;`

	mostRecentLedgerSQL = `SELECT sequence, close_time
    FROM ledgers
    ORDER BY sequence DESC
    LIMIT 1;`

	ledgerAtSQL = `SELECT sequence, close_time
    FROM ledgers
    WHERE close_time <= $1
    ORDER BY close_time DESC
    LIMIT 1;`

	earliestLedgerSQL = `SELECT sequence, close_time
    FROM ledgers
    ORDER BY sequence ASC
    LIMIT 1;`
)

// LedgerStore indexes observed ledgers for time-to-sequence resolution.
type LedgerStore interface {
	UpsertLedger(ctx context.Context, info LedgerInfo) error
	MostRecentLedger(ctx context.Context) (LedgerInfo, error)
	LedgerAt(ctx context.Context, at time.Time, clamp bool) (LedgerInfo, error)
}

// UpsertLedger records one observed ledger.
func (s *Store) UpsertLedger(ctx context.Context, info LedgerInfo) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertLedgerSQL, info.Sequence, info.CloseTime); execErr != nil {
		return fmt.Errorf("upsert ledger: %w", execErr)
	}
	return nil
}

// MostRecentLedger returns the highest-sequence observed ledger.
func (s *Store) MostRecentLedger(ctx context.Context) (LedgerInfo, error) {
	pool, err := s.getPool()
	if err != nil {
		return LedgerInfo{}, err
	}
	return scanLedger(pool.QueryRow(ctx, mostRecentLedgerSQL))
}

// LedgerAt returns the most recent ledger closed at or before the given time.
// With clamp set, a window predating ingestion start resolves to the earliest
// observed ledger instead of failing.
func (s *Store) LedgerAt(ctx context.Context, at time.Time, clamp bool) (LedgerInfo, error) {
	pool, err := s.getPool()
	if err != nil {
		return LedgerInfo{}, err
	}

	info, scanErr := scanLedger(pool.QueryRow(ctx, ledgerAtSQL, at))
	if scanErr == nil {
		return info, nil
	}
	if !errors.Is(scanErr, ErrNoLedgers) || !clamp {
		return LedgerInfo{}, scanErr
	}
	return scanLedger(pool.QueryRow(ctx, earliestLedgerSQL))
}

func scanLedger(row pgx.Row) (LedgerInfo, error) {
	var info LedgerInfo
	if err := row.Scan(&info.Sequence, &info.CloseTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerInfo{}, ErrNoLedgers
		}
		return LedgerInfo{}, fmt.Errorf("scan ledger: %w", err)
	}
	return info, nil
}
