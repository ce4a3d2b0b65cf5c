package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

// LedgerInfo is one observed ledger in the local ledger index.
type LedgerInfo struct {
	Sequence  int64
	CloseTime time.Time
}

// BalanceRecord is a point-in-time balance snapshot between an account and a
// token. Rows form an append-only series per (account, token); the value in
// effect at sequence N is the row with the greatest sequence <= N.
type BalanceRecord struct {
	Account        string
	Token          ledger.Token
	LedgerSequence int64
	Balance        decimal.Decimal
}

// TokenMetrics is an aggregate counter snapshot for a token at one ledger
// sequence, with the same as-of semantics as BalanceRecord.
type TokenMetrics struct {
	Token          ledger.Token
	LedgerSequence int64
	Trustlines     int64
	Holders        int64
	Supply         decimal.Decimal
}

// ExchangeRecord is one executed trade, immutable once written. Ordinal keeps
// same-ledger trades deterministically ordered.
type ExchangeRecord struct {
	TxHash         string
	LedgerSequence int64
	Ordinal        int
	Maker          string
	Taker          string
	TakerPaidToken ledger.Token
	TakerGotToken  ledger.Token
	TakerPaidValue decimal.Decimal
	TakerGotValue  decimal.Decimal
}

// TokenCache is the always-latest derived view of a token. Exactly one row per
// token; the metrics and price field groups are upserted independently.
type TokenCache struct {
	Token ledger.Token

	Price           decimal.Decimal
	PriceDelta24H   decimal.Decimal
	PricePercent24H float64
	PriceDelta7D    decimal.Decimal
	PricePercent7D  float64
	Volume24H       decimal.Decimal
	Volume7D        decimal.Decimal

	Trustlines           int64
	TrustlinesDelta24H   int64
	TrustlinesPercent24H float64
	TrustlinesDelta7D    int64
	TrustlinesPercent7D  float64

	Holders           int64
	HoldersDelta24H   int64
	HoldersPercent24H float64
	HoldersDelta7D    int64
	HoldersPercent7D  float64

	Supply           decimal.Decimal
	SupplyDelta24H   decimal.Decimal
	SupplyPercent24H float64
	SupplyDelta7D    decimal.Decimal
	SupplyPercent7D  float64

	Trusted   bool
	UpdatedAt time.Time
}

// TokenCacheMetrics is the metrics-path subset of a TokenCache upsert.
type TokenCacheMetrics struct {
	Token ledger.Token

	Trustlines           int64
	TrustlinesDelta24H   int64
	TrustlinesPercent24H float64
	TrustlinesDelta7D    int64
	TrustlinesPercent7D  float64

	Holders           int64
	HoldersDelta24H   int64
	HoldersPercent24H float64
	HoldersDelta7D    int64
	HoldersPercent7D  float64

	Supply           decimal.Decimal
	SupplyDelta24H   decimal.Decimal
	SupplyPercent24H float64
	SupplyDelta7D    decimal.Decimal
	SupplyPercent7D  float64
}

// TokenCachePrice is the price-path subset of a TokenCache upsert.
type TokenCachePrice struct {
	Token ledger.Token

	Price           decimal.Decimal
	PriceDelta24H   decimal.Decimal
	PricePercent24H float64
	PriceDelta7D    decimal.Decimal
	PricePercent7D  float64
	Volume24H       decimal.Decimal
	Volume7D        decimal.Decimal
}

// RankedItem is one entry of a ranked list at a point in time. A row is open
// while SequenceEnd is nil and closed once superseded; closed rows are never
// reopened. ID zero marks an item not yet persisted.
type RankedItem struct {
	ID            int64
	Token         ledger.Token
	Score         decimal.Decimal
	Rank          int64
	SequenceStart int64
	SequenceEnd   *int64
}

// RankedTable names one of the fixed ranked lists the synchronizer maintains.
type RankedTable int

const (
	RankedTokensByVolume RankedTable = iota
	RankedTokensBySupply
)

// Name returns the stable list identifier stored with each row.
func (t RankedTable) Name() string {
	switch t {
	case RankedTokensByVolume:
		return "tokens_by_volume"
	case RankedTokensBySupply:
		return "tokens_by_supply"
	default:
		return "unknown"
	}
}
