package tokens

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

// Processor turns one token's change groups within one ledger into balance
// history rows and an updated metrics snapshot.
type Processor struct {
	balances storage.BalanceStore
	metrics  storage.MetricsStore
	logger   zerolog.Logger
}

// NewProcessor constructs a trustline diff processor.
func NewProcessor(balances storage.BalanceStore, metrics storage.MetricsStore, logger zerolog.Logger) *Processor {
	return &Processor{
		balances: balances,
		metrics:  metrics,
		logger:   logger.With().Str("component", "tokens").Logger(),
	}
}

// Diff applies one token's change groups for one ledger. Metrics are loaded as
// of the preceding sequence so re-running the same ledger reproduces rather
// than compounds the result. Returns the affected scopes.
func (p *Processor) Diff(ctx context.Context, token ledger.Token, sequence int64, groups []ChangeGroup) ([]scope.Event, error) {
	metrics, found, err := p.metrics.ReadMetricsAsOf(ctx, token, sequence-1)
	if err != nil {
		return nil, fmt.Errorf("load metrics for %s: %w", token.Key(), err)
	}
	if !found {
		metrics = storage.TokenMetrics{Token: token, Supply: decimal.Zero}
	}
	metrics.LedgerSequence = sequence

	events := make([]scope.Event, 0, len(groups)+1)

	for _, group := range groups {
		switch {
		case group.Previous != nil && group.Final != nil:
			metrics.Supply = metrics.Supply.Add(group.Final.Balance.Sub(group.Previous.Balance))

			if group.Previous.Balance.IsZero() && group.Final.Balance.IsPositive() {
				metrics.Holders++
			} else if group.Final.Balance.IsZero() && group.Previous.Balance.IsPositive() {
				metrics.Holders--
			}

		case group.Final != nil:
			metrics.Trustlines++

			if group.Final.Balance.IsPositive() {
				metrics.Supply = metrics.Supply.Add(group.Final.Balance)
				metrics.Holders++
			}

		case group.Previous != nil:
			metrics.Trustlines--

			if group.Previous.Balance.IsPositive() {
				metrics.Supply = metrics.Supply.Sub(group.Previous.Balance)
				metrics.Holders--
			}

		default:
			p.logger.Warn().
				Str("token", token.Key()).
				Int64("sequence", sequence).
				Msg("skipping change group with neither previous nor final entry")
			continue
		}

		account := group.account()
		balance := decimal.Zero
		if group.Final != nil {
			balance = group.Final.Balance
		}

		writeErr := p.balances.WriteBalanceSnapshot(ctx, storage.BalanceRecord{
			Account:        account,
			Token:          token,
			LedgerSequence: sequence,
			Balance:        balance,
		})
		if writeErr != nil {
			return nil, fmt.Errorf("write balance for %s: %w", account, writeErr)
		}

		events = append(events, scope.Event{Account: account, Change: scope.ChangeBalances})
	}

	if p.floorMetrics(&metrics) {
		// A floored counter means the history has a gap. The balance-derived
		// supply tells the operator how far the chain has drifted.
		if derived, sumErr := p.balances.SumPositiveBalances(ctx, token, sequence); sumErr == nil {
			p.logger.Warn().
				Str("token", token.Key()).
				Int64("sequence", sequence).
				Str("balance_derived_supply", derived.String()).
				Msg("supply drift after flooring")
		}
	}

	if err := p.metrics.WriteMetricsSnapshot(ctx, metrics); err != nil {
		return nil, fmt.Errorf("write metrics for %s: %w", token.Key(), err)
	}

	events = append(events, scope.Event{Token: token, Change: scope.ChangeMetrics})
	return events, nil
}

// floorMetrics clamps counters and supply at zero, the one sanctioned clamp.
// Reports whether any value had to be floored so the caller can diagnose the
// history gap it indicates.
func (p *Processor) floorMetrics(m *storage.TokenMetrics) bool {
	floored := m.Trustlines < 0 || m.Holders < 0 || m.Supply.IsNegative()
	if floored {
		p.logger.Warn().
			Str("token", m.Token.Key()).
			Int64("sequence", m.LedgerSequence).
			Int64("trustlines", m.Trustlines).
			Int64("holders", m.Holders).
			Str("supply", m.Supply.String()).
			Msg("metrics went negative; flooring at zero")
	}
	if m.Trustlines < 0 {
		m.Trustlines = 0
	}
	if m.Holders < 0 {
		m.Holders = 0
	}
	m.Supply = decimal.Max(decimal.Zero, m.Supply)
	return floored
}

func (g ChangeGroup) account() string {
	if g.Final != nil {
		return g.Final.Account
	}
	return g.Previous.Account
}
