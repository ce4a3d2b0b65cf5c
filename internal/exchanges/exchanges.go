package exchanges

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

// ErrZeroValue indicates an exchange record carrying a zero side, which has no
// meaningful price.
var ErrZeroValue = errors.New("exchanges: zero-value side in exchange record")

// Extractor appends the trade fills of a ledger to the exchange log.
type Extractor struct {
	store  storage.ExchangeStore
	logger zerolog.Logger
}

// NewExtractor constructs an exchange extractor.
func NewExtractor(store storage.ExchangeStore, logger zerolog.Logger) *Extractor {
	return &Extractor{
		store:  store,
		logger: logger.With().Str("component", "exchanges").Logger(),
	}
}

// Extract records every trade fill of the ledger's transactions and returns
// the affected token scopes. Fills within one ledger receive a monotonically
// increasing ordinal so same-ledger trades replay deterministically. Malformed
// fills are skipped with a log.
func (e *Extractor) Extract(ctx context.Context, led ledger.Ledger) ([]scope.Event, error) {
	subjects := scope.NewSet()
	ordinal := 0
	recorded := 0

	for _, tx := range led.Transactions {
		for _, fill := range tx.Fills {
			if fill.TakerPaid.Value.Sign() <= 0 || fill.TakerGot.Value.Sign() <= 0 {
				e.logger.Warn().
					Str("tx", tx.Hash).
					Int64("sequence", led.Sequence).
					Msg("skipping fill with non-positive amount")
				continue
			}

			rec := storage.ExchangeRecord{
				TxHash:         tx.Hash,
				LedgerSequence: led.Sequence,
				Ordinal:        ordinal,
				Maker:          fill.Maker,
				Taker:          fill.Taker,
				TakerPaidToken: fill.TakerPaid.Token(),
				TakerGotToken:  fill.TakerGot.Token(),
				TakerPaidValue: fill.TakerPaid.Value,
				TakerGotValue:  fill.TakerGot.Value,
			}
			ordinal++

			if err := e.store.InsertExchange(ctx, rec); err != nil {
				return nil, fmt.Errorf("record exchange %s: %w", tx.Hash, err)
			}
			recorded++

			for _, token := range []ledger.Token{rec.TakerPaidToken, rec.TakerGotToken} {
				if !token.Native() {
					subjects.Add(scope.Event{Token: token, Change: scope.ChangeExchanges})
				}
			}
		}
	}

	if recorded > 0 {
		e.logger.Debug().
			Int64("sequence", led.Sequence).
			Int("exchanges", recorded).
			Msg("recorded exchanges")
	}
	return subjects.Events(), nil
}

// Aligned is a direction-normalized view of one exchange: price is always
// expressed as quote per base, volume in base units.
type Aligned struct {
	TxHash         string
	LedgerSequence int64
	Price          decimal.Decimal
	Volume         decimal.Decimal
}

// Align normalizes an exchange record against a (base, quote) orientation,
// regardless of which side initiated the underlying trade.
func Align(base ledger.Token, rec storage.ExchangeRecord) (Aligned, error) {
	if rec.TakerPaidValue.IsZero() || rec.TakerGotValue.IsZero() {
		return Aligned{}, ErrZeroValue
	}

	aligned := Aligned{
		TxHash:         rec.TxHash,
		LedgerSequence: rec.LedgerSequence,
	}

	if rec.TakerPaidToken == base {
		aligned.Price = rec.TakerGotValue.Div(rec.TakerPaidValue)
		aligned.Volume = rec.TakerPaidValue
	} else {
		aligned.Price = rec.TakerPaidValue.Div(rec.TakerGotValue)
		aligned.Volume = rec.TakerGotValue
	}
	return aligned, nil
}

// Read resolves the most recent aligned exchange of the pair at or before the
// given sequence. The second return value is false when the pair has never
// traded.
func Read(ctx context.Context, store storage.ExchangeStore, base, quote ledger.Token, asOfSequence int64) (Aligned, bool, error) {
	rec, found, err := store.MostRecentExchange(ctx, base, quote, asOfSequence)
	if err != nil {
		return Aligned{}, false, err
	}
	if !found {
		return Aligned{}, false, nil
	}

	aligned, alignErr := Align(base, rec)
	if alignErr != nil {
		return Aligned{}, false, alignErr
	}
	return aligned, true, nil
}
