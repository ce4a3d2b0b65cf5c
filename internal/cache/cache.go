package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/exchanges"
	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

// maxChangePercent bounds reported percent changes. Purely an overflow and
// display clamp; carries no domain meaning.
const maxChangePercent = 999999999

// Computer derives the always-latest per-token cache rows with rolling 24h/7d
// deltas from the metric snapshots and the exchange log.
type Computer struct {
	ledgers   storage.LedgerStore
	metrics   storage.MetricsStore
	exchanges storage.ExchangeStore
	cache     storage.CacheStore
	reference ledger.Token
	logger    zerolog.Logger
	now       func() time.Time
}

// NewComputer constructs a derived cache computer pricing tokens against the
// given reference asset.
func NewComputer(
	ledgers storage.LedgerStore,
	metrics storage.MetricsStore,
	exchangeLog storage.ExchangeStore,
	cacheStore storage.CacheStore,
	reference ledger.Token,
	logger zerolog.Logger,
) *Computer {
	return &Computer{
		ledgers:   ledgers,
		metrics:   metrics,
		exchanges: exchangeLog,
		cache:     cacheStore,
		reference: reference,
		logger:    logger.With().Str("component", "cache").Logger(),
		now:       time.Now,
	}
}

// sequences are the three reference points every recompute reads against,
// captured once so the computation never races new ledger ingestion.
type sequences struct {
	current int64
	pre24h  int64
	pre7d   int64
}

func (c *Computer) commonSequences(ctx context.Context) (sequences, error) {
	current, err := c.ledgers.MostRecentLedger(ctx)
	if err != nil {
		return sequences{}, fmt.Errorf("resolve current ledger: %w", err)
	}

	now := c.now().UTC()

	pre24h, err := c.ledgers.LedgerAt(ctx, now.Add(-24*time.Hour), true)
	if err != nil {
		return sequences{}, fmt.Errorf("resolve 24h ledger: %w", err)
	}

	pre7d, err := c.ledgers.LedgerAt(ctx, now.Add(-7*24*time.Hour), true)
	if err != nil {
		return sequences{}, fmt.Errorf("resolve 7d ledger: %w", err)
	}

	return sequences{
		current: current.Sequence,
		pre24h:  pre24h.Sequence,
		pre7d:   pre7d.Sequence,
	}, nil
}

// change computes the delta and capped percent change of one metric against a
// baseline. A zero or negative baseline reports zero percent.
func change(current, baseline decimal.Decimal) (decimal.Decimal, float64) {
	delta := current.Sub(baseline)
	if !baseline.IsPositive() {
		return delta, 0
	}

	percent := decimal.Min(
		delta.Div(baseline).Mul(decimal.NewFromInt(100)),
		decimal.NewFromInt(maxChangePercent),
	)
	return delta, percent.InexactFloat64()
}

// UpdateTokenMetrics recomputes the metrics field group of a token's cache
// row from the snapshot history.
func (c *Computer) UpdateTokenMetrics(ctx context.Context, token ledger.Token) error {
	seqs, err := c.commonSequences(ctx)
	if err != nil {
		return err
	}

	current, err := c.readMetrics(ctx, token, seqs.current)
	if err != nil {
		return err
	}
	pre24h, err := c.readMetrics(ctx, token, seqs.pre24h)
	if err != nil {
		return err
	}
	pre7d, err := c.readMetrics(ctx, token, seqs.pre7d)
	if err != nil {
		return err
	}

	row := storage.TokenCacheMetrics{Token: token}

	// Trustline and holder counts are integer metrics; deltas round to ints
	// after computation. Supply stays exact-decimal.
	trustDelta24, trustPct24 := change(decimal.NewFromInt(current.Trustlines), decimal.NewFromInt(pre24h.Trustlines))
	trustDelta7, trustPct7 := change(decimal.NewFromInt(current.Trustlines), decimal.NewFromInt(pre7d.Trustlines))
	row.Trustlines = current.Trustlines
	row.TrustlinesDelta24H = trustDelta24.IntPart()
	row.TrustlinesPercent24H = trustPct24
	row.TrustlinesDelta7D = trustDelta7.IntPart()
	row.TrustlinesPercent7D = trustPct7

	holdersDelta24, holdersPct24 := change(decimal.NewFromInt(current.Holders), decimal.NewFromInt(pre24h.Holders))
	holdersDelta7, holdersPct7 := change(decimal.NewFromInt(current.Holders), decimal.NewFromInt(pre7d.Holders))
	row.Holders = current.Holders
	row.HoldersDelta24H = holdersDelta24.IntPart()
	row.HoldersPercent24H = holdersPct24
	row.HoldersDelta7D = holdersDelta7.IntPart()
	row.HoldersPercent7D = holdersPct7

	supplyDelta24, supplyPct24 := change(current.Supply, pre24h.Supply)
	supplyDelta7, supplyPct7 := change(current.Supply, pre7d.Supply)
	row.Supply = current.Supply
	row.SupplyDelta24H = supplyDelta24
	row.SupplyPercent24H = supplyPct24
	row.SupplyDelta7D = supplyDelta7
	row.SupplyPercent7D = supplyPct7

	if err := c.cache.UpsertCacheMetrics(ctx, row); err != nil {
		return fmt.Errorf("upsert metrics cache for %s: %w", token.Key(), err)
	}
	return nil
}

func (c *Computer) readMetrics(ctx context.Context, token ledger.Token, sequence int64) (storage.TokenMetrics, error) {
	m, found, err := c.metrics.ReadMetricsAsOf(ctx, token, sequence)
	if err != nil {
		return storage.TokenMetrics{}, fmt.Errorf("read metrics for %s: %w", token.Key(), err)
	}
	if !found {
		return storage.TokenMetrics{Token: token, Supply: decimal.Zero}, nil
	}
	return m, nil
}

// UpdateTokenExchanges recomputes the price field group of a token's cache
// row against the reference asset. The reference asset itself has no price
// pair and is skipped entirely.
func (c *Computer) UpdateTokenExchanges(ctx context.Context, token ledger.Token) error {
	if token == c.reference {
		return nil
	}

	seqs, err := c.commonSequences(ctx)
	if err != nil {
		return err
	}

	current, err := c.readPrice(ctx, token, seqs.current)
	if err != nil {
		return err
	}
	pre24h, err := c.readPrice(ctx, token, seqs.pre24h)
	if err != nil {
		return err
	}
	pre7d, err := c.readPrice(ctx, token, seqs.pre7d)
	if err != nil {
		return err
	}

	delta24, percent24 := change(current, pre24h)
	delta7, percent7 := change(current, pre7d)

	volume24, err := c.exchanges.PairVolume(ctx, token, c.reference, seqs.pre24h, seqs.current)
	if err != nil {
		return fmt.Errorf("24h volume for %s: %w", token.Key(), err)
	}
	volume7, err := c.exchanges.PairVolume(ctx, token, c.reference, seqs.pre7d, seqs.current)
	if err != nil {
		return fmt.Errorf("7d volume for %s: %w", token.Key(), err)
	}

	row := storage.TokenCachePrice{
		Token:           token,
		Price:           current,
		PriceDelta24H:   delta24,
		PricePercent24H: percent24,
		PriceDelta7D:    delta7,
		PricePercent7D:  percent7,
		Volume24H:       volume24,
		Volume7D:        volume7,
	}

	if err := c.cache.UpsertCachePrice(ctx, row); err != nil {
		return fmt.Errorf("upsert price cache for %s: %w", token.Key(), err)
	}
	return nil
}

func (c *Computer) readPrice(ctx context.Context, token ledger.Token, sequence int64) (decimal.Decimal, error) {
	aligned, found, err := exchanges.Read(ctx, c.exchanges, token, c.reference, sequence)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read exchange for %s: %w", token.Key(), err)
	}
	if !found {
		return decimal.Zero, nil
	}
	return aligned.Price, nil
}

// Sweep recomputes the cache rows invalidated by the given scope events.
// Balance-scope events carry no cache work and are ignored here. Individual
// token failures are logged and do not stop the sweep.
func (c *Computer) Sweep(ctx context.Context, events []scope.Event) error {
	var errs []error

	for _, event := range events {
		var err error
		switch event.Change {
		case scope.ChangeMetrics:
			err = c.UpdateTokenMetrics(ctx, event.Token)
		case scope.ChangeExchanges:
			err = c.UpdateTokenExchanges(ctx, event.Token)
		case scope.ChangeBalances:
			continue
		}
		if err != nil {
			c.logger.Error().Err(err).
				Str("token", event.Token.Key()).
				Str("change", string(event.Change)).
				Msg("cache recompute failed")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
