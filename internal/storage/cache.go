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
	upsertCacheMetricsSQL = `INSERT INTO token_cache (
        currency, issuer,
        trustlines, trustlines_delta_24h, trustlines_percent_24h,
        trustlines_delta_7d, trustlines_percent_7d,
        holders, holders_delta_24h, holders_percent_24h,
        holders_delta_7d, holders_percent_7d,
        supply, supply_delta_24h, supply_percent_24h,
        supply_delta_7d, supply_percent_7d,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
    ON CONFLICT (currency, issuer) DO UPDATE
    SET trustlines             = EXCLUDED.trustlines,
        trustlines_delta_24h   = EXCLUDED.trustlines_delta_24h,
        trustlines_percent_24h = EXCLUDED.trustlines_percent_24h,
        trustlines_delta_7d    = EXCLUDED.trustlines_delta_7d,
        trustlines_percent_7d  = EXCLUDED.trustlines_percent_7d,
        holders                = EXCLUDED.holders,
        holders_delta_24h      = EXCLUDED.holders_delta_24h,
        holders_percent_24h    = EXCLUDED.holders_percent_24h,
        holders_delta_7d       = EXCLUDED.holders_delta_7d,
        holders_percent_7d     = EXCLUDED.holders_percent_7d,
        supply                 = EXCLUDED.supply,
        supply_delta_24h       = EXCLUDED.supply_delta_24h,
        supply_percent_24h     = EXCLUDED.supply_percent_24h,
        supply_delta_7d        = EXCLUDED.supply_delta_7d,
        supply_percent_7d      = EXCLUDED.supply_percent_7d,
        updated_at             = now();`

	upsertCachePriceSQL = `INSERT INTO token_cache (
        currency, issuer,
        price, price_delta_24h, price_percent_24h,
        price_delta_7d, price_percent_7d,
        volume_24h, volume_7d,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
    ON CONFLICT (currency, issuer) DO UPDATE
    SET price             = EXCLUDED.price,
        price_delta_24h   = EXCLUDED.price_delta_24h,
        price_percent_24h = EXCLUDED.price_percent_24h,
        price_delta_7d    = EXCLUDED.price_delta_7d,
        price_percent_7d  = EXCLUDED.price_percent_7d,
        volume_24h        = EXCLUDED.volume_24h,
        volume_7d         = EXCLUDED.volume_7d,
        updated_at        = now();`

	setCacheTrustedSQL = `INSERT INTO token_cache (currency, issuer, trusted, updated_at)
    VALUES ($1,$2,$3,now())
    ON CONFLICT (currency, issuer) DO UPDATE
    SET trusted = EXCLUDED.trusted, updated_at = now();`

	tokenCacheColumns = `currency, issuer,
        price, price_delta_24h, price_percent_24h, price_delta_7d, price_percent_7d,
        volume_24h, volume_7d,
        trustlines, trustlines_delta_24h, trustlines_percent_24h,
        trustlines_delta_7d, trustlines_percent_7d,
        holders, holders_delta_24h, holders_percent_24h,
        holders_delta_7d, holders_percent_7d,
        supply, supply_delta_24h, supply_percent_24h,
        supply_delta_7d, supply_percent_7d,
        trusted, updated_at`

	getTokenCacheSQL = `SELECT ` + tokenCacheColumns + `
    FROM token_cache
    WHERE currency = $1 AND issuer = $2;`

	listCacheByVolumeSQL = `SELECT ` + tokenCacheColumns + `
    FROM token_cache
    ORDER BY volume_7d DESC
    LIMIT $1 OFFSET $2;`

	listCacheBySupplySQL = `SELECT ` + tokenCacheColumns + `
    FROM token_cache
    ORDER BY supply DESC
    LIMIT $1 OFFSET $2;`
)

// CacheStore maintains the single always-latest derived row per token. The
// metrics and price paths upsert disjoint column groups so neither clears the
// other's fields.
type CacheStore interface {
	UpsertCacheMetrics(ctx context.Context, c TokenCacheMetrics) error
	UpsertCachePrice(ctx context.Context, c TokenCachePrice) error
	SetCacheTrusted(ctx context.Context, token ledger.Token, trusted bool) error
	GetTokenCache(ctx context.Context, token ledger.Token) (TokenCache, bool, error)
	ListCacheByVolume(ctx context.Context, limit, offset int) ([]TokenCache, error)
	ListCacheBySupply(ctx context.Context, limit, offset int) ([]TokenCache, error)
}

// UpsertCacheMetrics writes the metrics field group of a token's cache row.
func (s *Store) UpsertCacheMetrics(ctx context.Context, c TokenCacheMetrics) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertCacheMetricsSQL,
		c.Token.Currency, c.Token.Issuer,
		c.Trustlines, c.TrustlinesDelta24H, c.TrustlinesPercent24H,
		c.TrustlinesDelta7D, c.TrustlinesPercent7D,
		c.Holders, c.HoldersDelta24H, c.HoldersPercent24H,
		c.HoldersDelta7D, c.HoldersPercent7D,
		c.Supply.String(), c.SupplyDelta24H.String(), c.SupplyPercent24H,
		c.SupplyDelta7D.String(), c.SupplyPercent7D,
	)
	if execErr != nil {
		return fmt.Errorf("upsert cache metrics: %w", execErr)
	}
	return nil
}

// UpsertCachePrice writes the price field group of a token's cache row.
func (s *Store) UpsertCachePrice(ctx context.Context, c TokenCachePrice) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertCachePriceSQL,
		c.Token.Currency, c.Token.Issuer,
		c.Price.String(), c.PriceDelta24H.String(), c.PricePercent24H,
		c.PriceDelta7D.String(), c.PricePercent7D,
		c.Volume24H.String(), c.Volume7D.String(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert cache price: %w", execErr)
	}
	return nil
}

// SetCacheTrusted flags a token as curated-list trusted.
func (s *Store) SetCacheTrusted(ctx context.Context, token ledger.Token, trusted bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setCacheTrustedSQL, token.Currency, token.Issuer, trusted); execErr != nil {
		return fmt.Errorf("set cache trusted: %w", execErr)
	}
	return nil
}

// GetTokenCache returns a token's cache row. The second return value is false
// when no cache row exists yet.
func (s *Store) GetTokenCache(ctx context.Context, token ledger.Token) (TokenCache, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return TokenCache{}, false, err
	}

	cache, scanErr := scanTokenCache(pool.QueryRow(ctx, getTokenCacheSQL, token.Currency, token.Issuer))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return TokenCache{}, false, nil
		}
		return TokenCache{}, false, scanErr
	}
	return cache, true, nil
}

// ListCacheByVolume lists cache rows by descending 7-day volume.
func (s *Store) ListCacheByVolume(ctx context.Context, limit, offset int) ([]TokenCache, error) {
	return s.listCache(ctx, listCacheByVolumeSQL, limit, offset)
}

// ListCacheBySupply lists cache rows by descending supply.
func (s *Store) ListCacheBySupply(ctx context.Context, limit, offset int) ([]TokenCache, error) {
	return s.listCache(ctx, listCacheBySupplySQL, limit, offset)
}

func (s *Store) listCache(ctx context.Context, query string, limit, offset int) ([]TokenCache, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, limit, offset)
	if queryErr != nil {
		return nil, fmt.Errorf("list cache: %w", queryErr)
	}
	defer rows.Close()

	caches := make([]TokenCache, 0, limit)
	for rows.Next() {
		cache, scanErr := scanTokenCache(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		caches = append(caches, cache)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return caches, nil
}

func scanTokenCache(row pgx.Row) (TokenCache, error) {
	var (
		c       TokenCache
		numeric [8]string
	)
	if err := row.Scan(
		&c.Token.Currency, &c.Token.Issuer,
		&numeric[0], &numeric[1], &c.PricePercent24H, &numeric[2], &c.PricePercent7D,
		&numeric[3], &numeric[4],
		&c.Trustlines, &c.TrustlinesDelta24H, &c.TrustlinesPercent24H,
		&c.TrustlinesDelta7D, &c.TrustlinesPercent7D,
		&c.Holders, &c.HoldersDelta24H, &c.HoldersPercent24H,
		&c.HoldersDelta7D, &c.HoldersPercent7D,
		&numeric[5], &numeric[6], &c.SupplyPercent24H,
		&numeric[7], &c.SupplyPercent7D,
		&c.Trusted, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenCache{}, err
		}
		return TokenCache{}, fmt.Errorf("scan token cache: %w", err)
	}

	fields := []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&c.Price, numeric[0]},
		{&c.PriceDelta24H, numeric[1]},
		{&c.PriceDelta7D, numeric[2]},
		{&c.Volume24H, numeric[3]},
		{&c.Volume7D, numeric[4]},
		{&c.Supply, numeric[5]},
		{&c.SupplyDelta24H, numeric[6]},
		{&c.SupplyDelta7D, numeric[7]},
	}
	for _, f := range fields {
		value, convErr := decimal.NewFromString(f.raw)
		if convErr != nil {
			return TokenCache{}, fmt.Errorf("parse cache numeric: %w", convErr)
		}
		*f.dst = value
	}
	return c, nil
}
