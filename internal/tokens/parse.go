package tokens

import (
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

// Entry is one directional view of a trustline: the non-negative amount a
// holder account is owed in an issued token.
type Entry struct {
	Account          string
	Token            ledger.Token
	Balance          decimal.Decimal
	PreviousSequence int64
}

// Parsed holds up to two directional entries derived from one raw trustline
// state, one per side that behaves as issuer.
type Parsed struct {
	Low  *Entry
	High *Entry
}

// ChangeGroup pairs the previous and final directional entries of one token
// within one raw entry change. A nil Previous means the trustline was created,
// a nil Final means it was removed.
type ChangeGroup struct {
	Token    ledger.Token
	Previous *Entry
	Final    *Entry
}

// Parse derives directional entries from a raw trustline state. A side is
// treated as issuer when its counterparty holds a nonzero limit against it or
// the signed balance favors the counterparty; the balance is clamped to the
// non-negative magnitude owed to the holding side.
func Parse(entry ledger.RippleState) Parsed {
	lowIssuer := !entry.HighLimit.Value.IsZero() || entry.Balance.Value.IsNegative()
	highIssuer := !entry.LowLimit.Value.IsZero() || entry.Balance.Value.IsPositive()

	var parsed Parsed

	if lowIssuer {
		parsed.Low = &Entry{
			Account: entry.HighLimit.Issuer,
			Token: ledger.Token{
				Currency: entry.Balance.Currency,
				Issuer:   entry.LowLimit.Issuer,
			},
			Balance:          decimal.Max(decimal.Zero, entry.Balance.Value.Neg()),
			PreviousSequence: entry.PreviousTxnLgrSeq,
		}
	}

	if highIssuer {
		parsed.High = &Entry{
			Account: entry.LowLimit.Issuer,
			Token: ledger.Token{
				Currency: entry.Balance.Currency,
				Issuer:   entry.HighLimit.Issuer,
			},
			Balance:          decimal.Max(decimal.Zero, entry.Balance.Value),
			PreviousSequence: entry.PreviousTxnLgrSeq,
		}
	}

	return parsed
}

// Group emits per-side change groups for one entry change. The side selection
// follows the final state when the entry still exists, otherwise the previous
// state; a side absent from the selecting state emits no group.
func Group(previous, final *Parsed) []ChangeGroup {
	groups := make([]ChangeGroup, 0, 2)

	for _, side := range []func(*Parsed) *Entry{
		func(p *Parsed) *Entry { return p.Low },
		func(p *Parsed) *Entry { return p.High },
	} {
		var entry *Entry
		if final != nil {
			entry = side(final)
		} else if previous != nil {
			entry = side(previous)
		}
		if entry == nil {
			continue
		}

		group := ChangeGroup{Token: entry.Token}
		if previous != nil {
			group.Previous = side(previous)
		}
		if final != nil {
			group.Final = side(final)
		}
		groups = append(groups, group)
	}

	return groups
}
