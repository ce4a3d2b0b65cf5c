package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tomyleexrp/xrplmeta/internal/cache"
	"github.com/Tomyleexrp/xrplmeta/internal/config"
	"github.com/Tomyleexrp/xrplmeta/internal/feed"
	"github.com/Tomyleexrp/xrplmeta/internal/ingest"
	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/ranked"
	"github.com/Tomyleexrp/xrplmeta/internal/scheduler"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

const ingestRetries = 3

// Service runs the three cadences of the indexer: the strictly sequential
// ledger diff loop, the derived-cache sweep, and the ranked-list sync.
type Service struct {
	source    feed.Source
	ingester  *ingest.Ingester
	tracker   *scope.Tracker
	computer  *cache.Computer
	rankSync  *ranked.Synchronizer
	ledgers   storage.LedgerStore
	caches    storage.CacheStore
	cacheTick *scheduler.Scheduler
	rankTick  *scheduler.Scheduler
	locker    storage.AdvisoryLocker
	lockKey   int64
	rankDepth int
	logger    zerolog.Logger
}

// New constructs the indexing service.
func New(
	cfg *config.Config,
	source feed.Source,
	ingester *ingest.Ingester,
	tracker *scope.Tracker,
	computer *cache.Computer,
	rankSync *ranked.Synchronizer,
	ledgers storage.LedgerStore,
	caches storage.CacheStore,
	locker storage.AdvisoryLocker,
	logger zerolog.Logger,
) *Service {
	cacheTick := scheduler.New(scheduler.Options{
		Name:         "cache",
		Interval:     cfg.Cache.Interval,
		AlignToStart: cfg.Cache.AlignToBucket,
		StartupDelay: cfg.Cache.StartupDelay,
	}, logger)

	rankTick := scheduler.New(scheduler.Options{
		Name:     "ranking",
		Interval: cfg.Ranking.Interval,
	}, logger)

	return &Service{
		source:    source,
		ingester:  ingester,
		tracker:   tracker,
		computer:  computer,
		rankSync:  rankSync,
		ledgers:   ledgers,
		caches:    caches,
		cacheTick: cacheTick,
		rankTick:  rankTick,
		locker:    locker,
		lockKey:   cfg.Ingest.AdvisoryLockKey,
		rankDepth: cfg.Ranking.Depth,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled or a fatal error occurs. A postgres
// advisory lock keeps ingestion single-writer across instances.
func (s *Service) Run(ctx context.Context) error {
	if s.locker != nil {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
		if err != nil {
			return fmt.Errorf("acquire ingest lock: %w", err)
		}
		if !acquired {
			return errors.New("another instance holds the ingest lock")
		}
		defer unlock()
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return s.ingestLoop(ctx) })
	group.Go(func() error { return s.cacheTick.Run(ctx, s.sweepCache) })
	group.Go(func() error { return s.rankTick.Run(ctx, s.syncRankings) })

	return group.Wait()
}

// ingestLoop diffs ledgers one at a time, in feed order. A failed ledger is
// retried as a whole unit; its writes are idempotent upserts.
func (s *Service) ingestLoop(ctx context.Context) error {
	for {
		led, err := s.source.Next(ctx)
		if errors.Is(err, feed.ErrClosed) {
			s.logger.Info().Msg("ledger feed exhausted; ingestion stopped")
			return nil
		}
		if err != nil {
			return fmt.Errorf("next ledger: %w", err)
		}

		events, err := s.ingestWithRetry(ctx, led)
		if err != nil {
			return err
		}
		s.tracker.Mark(events)

		s.logger.Debug().
			Int64("sequence", led.Sequence).
			Int("pending_scopes", s.tracker.Pending()).
			Msg("ledger ingested")
	}
}

func (s *Service) ingestWithRetry(ctx context.Context, led ledger.Ledger) ([]scope.Event, error) {
	var lastErr error
	for attempt := 1; attempt <= ingestRetries; attempt++ {
		events, err := s.ingester.IngestLedger(ctx, led)
		if err == nil {
			return events, nil
		}
		lastErr = err
		s.logger.Warn().Err(err).
			Int64("sequence", led.Sequence).
			Int("attempt", attempt).
			Msg("ledger diff failed; retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("ingest ledger %d: %w", led.Sequence, lastErr)
}

// sweepCache recomputes the cache rows of every scope affected since the
// previous sweep.
func (s *Service) sweepCache(ctx context.Context, _ time.Time) error {
	events := s.tracker.Drain()
	if len(events) == 0 {
		return nil
	}

	s.logger.Debug().Int("scopes", len(events)).Msg("sweeping affected scopes")
	return s.computer.Sweep(ctx, events)
}

// syncRankings rebuilds the ranked lists from the latest cache rows, pinned
// to the most recent already-closed ledger sequence.
func (s *Service) syncRankings(ctx context.Context, _ time.Time) error {
	head, err := s.ledgers.MostRecentLedger(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoLedgers) {
			return nil
		}
		return err
	}

	// Each list draws its candidate set from its own ordering, so a token
	// ranking high on one axis is not hidden by its position on the other.
	volumeRows, err := s.caches.ListCacheByVolume(ctx, s.rankDepth, 0)
	if err != nil {
		return err
	}
	supplyRows, err := s.caches.ListCacheBySupply(ctx, s.rankDepth, 0)
	if err != nil {
		return err
	}
	if len(volumeRows) == 0 && len(supplyRows) == 0 {
		return nil
	}

	compare := ranked.Compare{
		Unique: func(a, b storage.RankedItem) bool { return a.Token == b.Token },
		Diff:   func(a, b storage.RankedItem) bool { return !a.Score.Equal(b.Score) },
	}

	byVolume := make([]storage.RankedItem, 0, len(volumeRows))
	for _, row := range volumeRows {
		byVolume = append(byVolume, storage.RankedItem{Token: row.Token, Score: row.Volume7D})
	}
	bySupply := make([]storage.RankedItem, 0, len(supplyRows))
	for _, row := range supplyRows {
		bySupply = append(bySupply, storage.RankedItem{Token: row.Token, Score: row.Supply})
	}

	if err := s.rankSync.Sync(ctx, ranked.Params{
		Table:          storage.RankedTokensByVolume,
		LedgerSequence: head.Sequence,
		Items:          byVolume,
		Compare:        compare,
	}); err != nil {
		return fmt.Errorf("sync volume ranking: %w", err)
	}

	if err := s.rankSync.Sync(ctx, ranked.Params{
		Table:          storage.RankedTokensBySupply,
		LedgerSequence: head.Sequence,
		Items:          bySupply,
		Compare:        compare,
	}); err != nil {
		return fmt.Errorf("sync supply ranking: %w", err)
	}

	return nil
}
