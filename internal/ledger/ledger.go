package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is one closed ledger handed in by the feed, with the raw trustline
// entry changes and executed transactions it produced.
type Ledger struct {
	Sequence     int64         `json:"sequence"`
	CloseTime    int64         `json:"closeTime"`
	EntryChanges []EntryChange `json:"entryChanges"`
	Transactions []Transaction `json:"transactions"`
}

// EntryChange carries the previous and final raw state of one trustline entry.
// Previous is nil for created entries, Final is nil for deleted ones.
type EntryChange struct {
	Previous *RippleState `json:"previous,omitempty"`
	Final    *RippleState `json:"final,omitempty"`
}

// RippleState is the raw credit line between two accounts for one currency.
// The balance is signed relative to the canonical (low, high) account order.
type RippleState struct {
	Balance           Amount `json:"balance"`
	LowLimit          Amount `json:"lowLimit"`
	HighLimit         Amount `json:"highLimit"`
	PreviousTxnLgrSeq int64  `json:"previousTxnLgrSeq"`
}

// Transaction is one executed transaction with its trade fills already
// extracted from metadata by the feed boundary.
type Transaction struct {
	Hash  string `json:"hash"`
	Fills []Fill `json:"fills,omitempty"`
}

// Fill is one executed trade within a transaction.
type Fill struct {
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	TakerPaid Amount `json:"takerPaid"`
	TakerGot  Amount `json:"takerGot"`
}

// Amount is a currency value, optionally issued. The native asset carries no
// issuer.
type Amount struct {
	Currency string          `json:"currency"`
	Issuer   string          `json:"issuer,omitempty"`
	Value    decimal.Decimal `json:"value"`
}

// Token returns the (currency, issuer) pair of the amount.
func (a Amount) Token() Token {
	return Token{Currency: a.Currency, Issuer: a.Issuer}
}

// Token identifies a currency+issuer pair. The native asset has no issuer.
type Token struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
}

// Native reports whether the token is the ledger's native asset.
func (t Token) Native() bool {
	return t.Issuer == ""
}

// Key returns the currency:issuer scope key used to group per-token work.
func (t Token) Key() string {
	return t.Currency + ":" + t.Issuer
}

const rippleEpochOffset = 946684800

// RippleToUnix converts a ledger close time to a unix timestamp.
func RippleToUnix(t int64) int64 {
	return t + rippleEpochOffset
}

// UnixToRipple converts a unix timestamp to ledger epoch seconds.
func UnixToRipple(t int64) int64 {
	return t - rippleEpochOffset
}

// CloseTimeUnix returns the ledger close time as wall-clock time.
func (l Ledger) CloseTimeUnix() time.Time {
	return time.Unix(RippleToUnix(l.CloseTime), 0).UTC()
}
