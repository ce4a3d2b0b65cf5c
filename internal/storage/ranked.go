package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	readOpenRankedSQL = `SELECT id, currency, issuer, score, rank, sequence_start, sequence_end
    FROM ranked_items
    WHERE list = $1 AND scope = $2 AND sequence_end IS NULL
    ORDER BY rank ASC;`

	readRankedAsOfSQL = `SELECT id, currency, issuer, score, rank, sequence_start, sequence_end
    FROM ranked_items
    WHERE list = $1 AND scope = $2
      AND sequence_start <= $3
      AND (sequence_end IS NULL OR sequence_end > $3)
    ORDER BY rank DESC
    LIMIT $4 OFFSET $5;`

	closeRankedSQL = `UPDATE ranked_items
    SET sequence_end = $3
    WHERE list = $1 AND id = ANY($2);`

	insertRankedSQL = `INSERT INTO ranked_items (
        list, scope, currency, issuer, score, rank, sequence_start, sequence_end
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,NULL);`
)

// RankedStore reads and writes the temporal ranked lists. All methods are
// valid inside a transaction obtained from InRankedTx.
type RankedStore interface {
	ReadOpenRanked(ctx context.Context, table RankedTable, scope string) ([]RankedItem, error)
	ReadRankedAsOf(ctx context.Context, table RankedTable, scope string, sequence int64, limit, offset int) ([]RankedItem, error)
	CloseRanked(ctx context.Context, table RankedTable, ids []int64, sequence int64) error
	InsertRanked(ctx context.Context, table RankedTable, scope string, item RankedItem) error
}

// RankedTxRunner runs a ranked-list write batch as one transaction.
type RankedTxRunner interface {
	InRankedTx(ctx context.Context, fn func(RankedStore) error) error
}

// InRankedTx runs fn against a transactional RankedStore, committing on nil
// and rolling back otherwise. Readers never observe a half-applied sync.
func (s *Store) InRankedTx(ctx context.Context, fn func(RankedStore) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(&rankedRepo{q: tx})
	})
}

// ReadOpenRanked returns the currently-open items of a list, rank ascending.
func (s *Store) ReadOpenRanked(ctx context.Context, table RankedTable, scope string) ([]RankedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return (&rankedRepo{q: pool}).ReadOpenRanked(ctx, table, scope)
}

// ReadRankedAsOf returns the items whose validity window contains the given
// sequence, rank descending, paginated.
func (s *Store) ReadRankedAsOf(ctx context.Context, table RankedTable, scope string, sequence int64, limit, offset int) ([]RankedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return (&rankedRepo{q: pool}).ReadRankedAsOf(ctx, table, scope, sequence, limit, offset)
}

// CloseRanked closes the validity windows of the given rows.
func (s *Store) CloseRanked(ctx context.Context, table RankedTable, ids []int64, sequence int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return (&rankedRepo{q: pool}).CloseRanked(ctx, table, ids, sequence)
}

// InsertRanked writes a new open row.
func (s *Store) InsertRanked(ctx context.Context, table RankedTable, scope string, item RankedItem) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return (&rankedRepo{q: pool}).InsertRanked(ctx, table, scope, item)
}

// rankedRepo binds the ranked queries to either a pool or a transaction.
type rankedRepo struct {
	q querier
}

func (r *rankedRepo) ReadOpenRanked(ctx context.Context, table RankedTable, scope string) ([]RankedItem, error) {
	rows, err := r.q.Query(ctx, readOpenRankedSQL, table.Name(), scope)
	if err != nil {
		return nil, fmt.Errorf("read open ranked: %w", err)
	}
	defer rows.Close()
	return collectRanked(rows)
}

func (r *rankedRepo) ReadRankedAsOf(ctx context.Context, table RankedTable, scope string, sequence int64, limit, offset int) ([]RankedItem, error) {
	rows, err := r.q.Query(ctx, readRankedAsOfSQL, table.Name(), scope, sequence, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("read ranked as of: %w", err)
	}
	defer rows.Close()
	return collectRanked(rows)
}

func (r *rankedRepo) CloseRanked(ctx context.Context, table RankedTable, ids []int64, sequence int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, closeRankedSQL, table.Name(), ids, sequence); err != nil {
		return fmt.Errorf("close ranked: %w", err)
	}
	return nil
}

func (r *rankedRepo) InsertRanked(ctx context.Context, table RankedTable, scope string, item RankedItem) error {
	_, err := r.q.Exec(ctx, insertRankedSQL,
		table.Name(),
		scope,
		item.Token.Currency,
		item.Token.Issuer,
		item.Score.String(),
		item.Rank,
		item.SequenceStart,
	)
	if err != nil {
		return fmt.Errorf("insert ranked: %w", err)
	}
	return nil
}

func collectRanked(rows pgx.Rows) ([]RankedItem, error) {
	items := make([]RankedItem, 0)
	for rows.Next() {
		var (
			item     RankedItem
			scoreStr string
		)
		if err := rows.Scan(
			&item.ID,
			&item.Token.Currency,
			&item.Token.Issuer,
			&scoreStr,
			&item.Rank,
			&item.SequenceStart,
			&item.SequenceEnd,
		); err != nil {
			return nil, fmt.Errorf("scan ranked item: %w", err)
		}

		score, convErr := decimal.NewFromString(scoreStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse ranked score: %w", convErr)
		}
		item.Score = score
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}
