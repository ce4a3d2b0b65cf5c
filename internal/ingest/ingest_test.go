package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/exchanges"
	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
	"github.com/Tomyleexrp/xrplmeta/internal/tokens"
)

type fakeLedgerIndex struct {
	upserts []storage.LedgerInfo
}

func (f *fakeLedgerIndex) UpsertLedger(_ context.Context, info storage.LedgerInfo) error {
	f.upserts = append(f.upserts, info)
	return nil
}

func (f *fakeLedgerIndex) MostRecentLedger(_ context.Context) (storage.LedgerInfo, error) {
	return storage.LedgerInfo{}, nil
}

func (f *fakeLedgerIndex) LedgerAt(_ context.Context, _ time.Time, _ bool) (storage.LedgerInfo, error) {
	return storage.LedgerInfo{}, nil
}

type memBalances struct{}

func (memBalances) WriteBalanceSnapshot(_ context.Context, _ storage.BalanceRecord) error {
	return nil
}

func (memBalances) ReadBalanceAsOf(_ context.Context, _ string, _ ledger.Token, _ int64) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (memBalances) SumPositiveBalances(_ context.Context, _ ledger.Token, _ int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type memMetrics struct{}

func (memMetrics) WriteMetricsSnapshot(_ context.Context, _ storage.TokenMetrics) error {
	return nil
}

func (memMetrics) ReadMetricsAsOf(_ context.Context, _ ledger.Token, _ int64) (storage.TokenMetrics, bool, error) {
	return storage.TokenMetrics{}, false, nil
}

type memExchanges struct {
	records []storage.ExchangeRecord
}

func (m *memExchanges) InsertExchange(_ context.Context, rec storage.ExchangeRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memExchanges) MostRecentExchange(_ context.Context, _, _ ledger.Token, _ int64) (storage.ExchangeRecord, bool, error) {
	return storage.ExchangeRecord{}, false, nil
}

func (m *memExchanges) PairVolume(_ context.Context, _, _ ledger.Token, _, _ int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *memExchanges) PairHistory(_ context.Context, _, _ ledger.Token, _ int) ([]storage.ExchangeRecord, error) {
	return nil, nil
}

func newTestIngester() (*Ingester, *fakeLedgerIndex) {
	ledgers := &fakeLedgerIndex{}
	processor := tokens.NewProcessor(memBalances{}, memMetrics{}, zerolog.Nop())
	extractor := exchanges.NewExtractor(&memExchanges{}, zerolog.Nop())
	return New(ledgers, processor, extractor, 2, zerolog.Nop()), ledgers
}

func testLedger(sequence int64) ledger.Ledger {
	return ledger.Ledger{
		Sequence:  sequence,
		CloseTime: 700000000,
		EntryChanges: []ledger.EntryChange{
			{
				Final: &ledger.RippleState{
					Balance:   ledger.Amount{Currency: "USD", Value: decimal.NewFromInt(-100)},
					LowLimit:  ledger.Amount{Currency: "USD", Issuer: "rIssuer"},
					HighLimit: ledger.Amount{Currency: "USD", Issuer: "rAlice"},
				},
			},
		},
		Transactions: []ledger.Transaction{
			{
				Hash: "AA",
				Fills: []ledger.Fill{
					{
						Maker:     "rM",
						Taker:     "rT",
						TakerPaid: ledger.Amount{Currency: "USD", Issuer: "rIssuer", Value: decimal.NewFromInt(50)},
						TakerGot:  ledger.Amount{Currency: "XRP", Value: decimal.NewFromInt(100)},
					},
				},
			},
		},
	}
}

func TestIngestLedgerProducesScopes(t *testing.T) {
	ing, ledgers := newTestIngester()
	defer ing.Close()

	events, err := ing.IngestLedger(context.Background(), testLedger(10))
	if err != nil {
		t.Fatalf("IngestLedger 不应报错: %v", err)
	}

	if len(ledgers.upserts) != 1 || ledgers.upserts[0].Sequence != 10 {
		t.Fatalf("应记录 ledger 索引: %#v", ledgers.upserts)
	}

	changes := map[scope.Change]int{}
	for _, ev := range events {
		changes[ev.Change]++
	}
	if changes[scope.ChangeBalances] != 1 || changes[scope.ChangeMetrics] != 1 || changes[scope.ChangeExchanges] != 1 {
		t.Fatalf("三类 scope 事件各应有 1 个: %#v", changes)
	}
}

func TestIngestLedgerRejectsReplayedSequence(t *testing.T) {
	ing, _ := newTestIngester()
	defer ing.Close()

	if _, err := ing.IngestLedger(context.Background(), testLedger(10)); err != nil {
		t.Fatal(err)
	}
	if _, err := ing.IngestLedger(context.Background(), testLedger(10)); err == nil {
		t.Fatal("重复序号应被拒绝")
	}
	if _, err := ing.IngestLedger(context.Background(), testLedger(9)); err == nil {
		t.Fatal("回退序号应被拒绝")
	}
	if _, err := ing.IngestLedger(context.Background(), testLedger(11)); err != nil {
		t.Fatalf("后续序号应被接受: %v", err)
	}
}

func TestGroupEntryChangesBucketsBothSides(t *testing.T) {
	changes := []ledger.EntryChange{
		{
			Final: &ledger.RippleState{
				Balance:   ledger.Amount{Currency: "USD", Value: decimal.Zero},
				LowLimit:  ledger.Amount{Currency: "USD", Issuer: "rLow", Value: decimal.NewFromInt(500)},
				HighLimit: ledger.Amount{Currency: "USD", Issuer: "rHigh", Value: decimal.NewFromInt(500)},
			},
		},
	}

	byToken := groupEntryChanges(changes)
	if len(byToken) != 2 {
		t.Fatalf("双向限额应产生 2 个 token 分桶, 实际 %d", len(byToken))
	}
	for _, issuer := range []string{"rLow", "rHigh"} {
		token := ledger.Token{Currency: "USD", Issuer: issuer}
		if len(byToken[token]) != 1 {
			t.Fatalf("token %s 应有 1 个分组", token.Key())
		}
	}
}
