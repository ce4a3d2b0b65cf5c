package scope

import (
	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

// Change names the kind of derived data a ledger diff invalidated.
type Change string

const (
	ChangeBalances  Change = "balances"
	ChangeMetrics   Change = "metrics"
	ChangeExchanges Change = "exchanges"
)

// Event marks one account or token as affected by a ledger's diff. Exactly one
// of Account and Token is set, depending on the change kind.
type Event struct {
	Account string
	Token   ledger.Token
	Change  Change
}

func (e Event) key() string {
	return e.Account + "|" + e.Token.Key() + "|" + string(e.Change)
}

// Set accumulates scope events with deduplication. The zero value is unusable;
// use NewSet.
type Set struct {
	seen  map[string]struct{}
	order []Event
}

// NewSet returns an empty scope set.
func NewSet() *Set {
	return &Set{seen: map[string]struct{}{}}
}

// Add records an event unless an identical one is already present.
func (s *Set) Add(e Event) {
	k := e.key()
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.order = append(s.order, e)
}

// AddAll records every event in order.
func (s *Set) AddAll(events []Event) {
	for _, e := range events {
		s.Add(e)
	}
}

// Events returns the accumulated events in first-seen order.
func (s *Set) Events() []Event {
	return s.order
}

// Len reports the number of distinct events.
func (s *Set) Len() int {
	return len(s.order)
}
