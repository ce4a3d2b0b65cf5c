package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"github.com/Tomyleexrp/xrplmeta/internal/exchanges"
	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
	"github.com/Tomyleexrp/xrplmeta/internal/tokens"
)

// Ingester diffs closed ledgers into the store, strictly one ledger at a
// time. Tokens within one ledger have independent history chains and are
// diffed in parallel on a bounded pool.
type Ingester struct {
	ledgers   storage.LedgerStore
	diff      *tokens.Processor
	extractor *exchanges.Extractor
	pool      pond.Pool
	logger    zerolog.Logger

	mu           sync.Mutex
	lastSequence int64
}

// New constructs an ingester running at most workers token diffs in parallel.
func New(
	ledgers storage.LedgerStore,
	diff *tokens.Processor,
	extractor *exchanges.Extractor,
	workers int,
	logger zerolog.Logger,
) *Ingester {
	if workers <= 0 {
		workers = 1
	}
	return &Ingester{
		ledgers:   ledgers,
		diff:      diff,
		extractor: extractor,
		pool:      pond.NewPool(workers),
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

// Close drains the worker pool.
func (i *Ingester) Close() {
	i.pool.StopAndWait()
}

// IngestLedger diffs one closed ledger and returns the affected scopes. On
// error the whole ledger can be re-run: every write is keyed on its natural
// identity and overwrites instead of duplicating.
func (i *Ingester) IngestLedger(ctx context.Context, led ledger.Ledger) ([]scope.Event, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if led.Sequence <= i.lastSequence {
		return nil, fmt.Errorf("ledger %d already diffed (last was %d)", led.Sequence, i.lastSequence)
	}

	if err := i.ledgers.UpsertLedger(ctx, storage.LedgerInfo{
		Sequence:  led.Sequence,
		CloseTime: led.CloseTimeUnix(),
	}); err != nil {
		return nil, fmt.Errorf("record ledger %d: %w", led.Sequence, err)
	}

	groupsByToken := groupEntryChanges(led.EntryChanges)

	affected := scope.NewSet()
	var affectedMu sync.Mutex

	group := i.pool.NewGroup()
	for token, groups := range groupsByToken {
		token, groups := token, groups
		group.SubmitErr(func() error {
			events, err := i.diff.Diff(ctx, token, led.Sequence, groups)
			if err != nil {
				return err
			}
			affectedMu.Lock()
			affected.AddAll(events)
			affectedMu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("diff ledger %d: %w", led.Sequence, err)
	}

	exchangeEvents, err := i.extractor.Extract(ctx, led)
	if err != nil {
		return nil, fmt.Errorf("extract exchanges of ledger %d: %w", led.Sequence, err)
	}
	affected.AddAll(exchangeEvents)

	i.lastSequence = led.Sequence

	i.logger.Debug().
		Int64("sequence", led.Sequence).
		Int("tokens", len(groupsByToken)).
		Int("scopes", affected.Len()).
		Msg("ledger diffed")

	return affected.Events(), nil
}

// groupEntryChanges buckets the ledger's trustline changes per token so each
// token's metric chain advances in a single diff.
func groupEntryChanges(changes []ledger.EntryChange) map[ledger.Token][]tokens.ChangeGroup {
	byToken := make(map[ledger.Token][]tokens.ChangeGroup)

	for _, change := range changes {
		var previous, final *tokens.Parsed
		if change.Previous != nil {
			parsed := tokens.Parse(*change.Previous)
			previous = &parsed
		}
		if change.Final != nil {
			parsed := tokens.Parse(*change.Final)
			final = &parsed
		}

		for _, group := range tokens.Group(previous, final) {
			byToken[group.Token] = append(byToken[group.Token], group)
		}
	}

	return byToken
}
