package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

type fakeLedgers struct {
	current storage.LedgerInfo
	atTime  map[time.Time]storage.LedgerInfo
}

func (f *fakeLedgers) UpsertLedger(_ context.Context, _ storage.LedgerInfo) error { return nil }

func (f *fakeLedgers) MostRecentLedger(_ context.Context) (storage.LedgerInfo, error) {
	return f.current, nil
}

func (f *fakeLedgers) LedgerAt(_ context.Context, at time.Time, _ bool) (storage.LedgerInfo, error) {
	if info, ok := f.atTime[at]; ok {
		return info, nil
	}
	return f.current, nil
}

type fakeMetricsStore struct {
	bySequence map[int64]storage.TokenMetrics
}

func (f *fakeMetricsStore) WriteMetricsSnapshot(_ context.Context, _ storage.TokenMetrics) error {
	return nil
}

func (f *fakeMetricsStore) ReadMetricsAsOf(_ context.Context, token ledger.Token, sequence int64) (storage.TokenMetrics, bool, error) {
	var best *storage.TokenMetrics
	for seq, m := range f.bySequence {
		m := m
		if seq > sequence {
			continue
		}
		if best == nil || seq > best.LedgerSequence {
			best = &m
		}
	}
	if best == nil {
		return storage.TokenMetrics{}, false, nil
	}
	return *best, true, nil
}

type fakeExchangeLog struct {
	recentBySeq map[int64]storage.ExchangeRecord
	volumes     map[int64]decimal.Decimal
}

func (f *fakeExchangeLog) InsertExchange(_ context.Context, _ storage.ExchangeRecord) error {
	return nil
}

func (f *fakeExchangeLog) MostRecentExchange(_ context.Context, _, _ ledger.Token, asOfSequence int64) (storage.ExchangeRecord, bool, error) {
	rec, ok := f.recentBySeq[asOfSequence]
	return rec, ok, nil
}

func (f *fakeExchangeLog) PairVolume(_ context.Context, _, _ ledger.Token, fromSequence, _ int64) (decimal.Decimal, error) {
	if v, ok := f.volumes[fromSequence]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

func (f *fakeExchangeLog) PairHistory(_ context.Context, _, _ ledger.Token, _ int) ([]storage.ExchangeRecord, error) {
	return nil, nil
}

type fakeCacheStore struct {
	metrics []storage.TokenCacheMetrics
	prices  []storage.TokenCachePrice
}

func (f *fakeCacheStore) UpsertCacheMetrics(_ context.Context, c storage.TokenCacheMetrics) error {
	f.metrics = append(f.metrics, c)
	return nil
}

func (f *fakeCacheStore) UpsertCachePrice(_ context.Context, c storage.TokenCachePrice) error {
	f.prices = append(f.prices, c)
	return nil
}

func (f *fakeCacheStore) SetCacheTrusted(_ context.Context, _ ledger.Token, _ bool) error {
	return nil
}

func (f *fakeCacheStore) GetTokenCache(_ context.Context, _ ledger.Token) (storage.TokenCache, bool, error) {
	return storage.TokenCache{}, false, nil
}

func (f *fakeCacheStore) ListCacheByVolume(_ context.Context, _, _ int) ([]storage.TokenCache, error) {
	return nil, nil
}

func (f *fakeCacheStore) ListCacheBySupply(_ context.Context, _, _ int) ([]storage.TokenCache, error) {
	return nil, nil
}

var (
	testNow  = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	testXRP  = ledger.Token{Currency: "XRP"}
	testUSD  = ledger.Token{Currency: "USD", Issuer: "rIssuer"}
	refTrade = func(price int64) storage.ExchangeRecord {
		return storage.ExchangeRecord{
			TakerPaidToken: testUSD,
			TakerGotToken:  testXRP,
			TakerPaidValue: decimal.NewFromInt(1),
			TakerGotValue:  decimal.NewFromInt(price),
		}
	}
)

func newTestComputer(ledgers *fakeLedgers, metrics *fakeMetricsStore, log *fakeExchangeLog, cache *fakeCacheStore) *Computer {
	c := NewComputer(ledgers, metrics, log, cache, testXRP, zerolog.Nop())
	c.now = func() time.Time { return testNow }
	return c
}

func testWindows() *fakeLedgers {
	return &fakeLedgers{
		current: storage.LedgerInfo{Sequence: 100},
		atTime: map[time.Time]storage.LedgerInfo{
			testNow.Add(-24 * time.Hour):     {Sequence: 50},
			testNow.Add(-7 * 24 * time.Hour): {Sequence: 10},
		},
	}
}

func TestChangeComputesDeltaAndPercent(t *testing.T) {
	delta, pct := change(decimal.NewFromInt(150), decimal.NewFromInt(100))
	if !delta.Equal(decimal.NewFromInt(50)) || pct != 50 {
		t.Fatalf("期望 (50, 50%%), 实际 (%s, %v)", delta, pct)
	}

	delta, pct = change(decimal.NewFromInt(75), decimal.NewFromInt(100))
	if !delta.Equal(decimal.NewFromInt(-25)) || pct != -25 {
		t.Fatalf("期望 (-25, -25%%), 实际 (%s, %v)", delta, pct)
	}
}

func TestChangeZeroBaselineReportsZeroPercent(t *testing.T) {
	delta, pct := change(decimal.NewFromInt(42), decimal.Zero)
	if !delta.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("增量仍应计算: %s", delta)
	}
	if pct != 0 {
		t.Fatalf("零基线百分比应为 0, 实际 %v", pct)
	}
}

func TestChangeCapsPercent(t *testing.T) {
	_, pct := change(decimal.NewFromInt(1_000_000_000_000), decimal.NewFromInt(1))
	if pct != 999999999 {
		t.Fatalf("百分比应被封顶, 实际 %v", pct)
	}
}

func TestUpdateTokenMetricsWindows(t *testing.T) {
	metrics := &fakeMetricsStore{bySequence: map[int64]storage.TokenMetrics{
		10:  {Token: testUSD, LedgerSequence: 10, Trustlines: 10, Holders: 5, Supply: decimal.NewFromInt(1000)},
		50:  {Token: testUSD, LedgerSequence: 50, Trustlines: 20, Holders: 10, Supply: decimal.NewFromInt(2000)},
		100: {Token: testUSD, LedgerSequence: 100, Trustlines: 30, Holders: 10, Supply: decimal.NewFromInt(1500)},
	}}
	cacheStore := &fakeCacheStore{}
	c := newTestComputer(testWindows(), metrics, &fakeExchangeLog{}, cacheStore)

	if err := c.UpdateTokenMetrics(context.Background(), testUSD); err != nil {
		t.Fatalf("UpdateTokenMetrics 不应报错: %v", err)
	}
	if len(cacheStore.metrics) != 1 {
		t.Fatalf("应写入 1 条缓存行, 实际 %d", len(cacheStore.metrics))
	}

	row := cacheStore.metrics[0]
	if row.Trustlines != 30 || row.TrustlinesDelta24H != 10 || row.TrustlinesPercent24H != 50 {
		t.Fatalf("24h 信任线变化不正确: %+v", row)
	}
	if row.TrustlinesDelta7D != 20 || row.TrustlinesPercent7D != 200 {
		t.Fatalf("7d 信任线变化不正确: %+v", row)
	}
	if row.HoldersDelta24H != 0 || row.HoldersPercent24H != 0 {
		t.Fatalf("持有人 24h 无变化: %+v", row)
	}
	if !row.SupplyDelta24H.Equal(decimal.NewFromInt(-500)) || row.SupplyPercent24H != -25 {
		t.Fatalf("供应量 24h 变化不正确: %+v", row)
	}
	if !row.SupplyDelta7D.Equal(decimal.NewFromInt(500)) || row.SupplyPercent7D != 50 {
		t.Fatalf("供应量 7d 变化不正确: %+v", row)
	}
}

func TestUpdateTokenMetricsMissingHistoryDefaultsZero(t *testing.T) {
	metrics := &fakeMetricsStore{bySequence: map[int64]storage.TokenMetrics{
		100: {Token: testUSD, LedgerSequence: 100, Trustlines: 5, Holders: 3, Supply: decimal.NewFromInt(10)},
	}}
	cacheStore := &fakeCacheStore{}
	c := newTestComputer(testWindows(), metrics, &fakeExchangeLog{}, cacheStore)

	if err := c.UpdateTokenMetrics(context.Background(), testUSD); err != nil {
		t.Fatalf("UpdateTokenMetrics 不应报错: %v", err)
	}

	row := cacheStore.metrics[0]
	if row.TrustlinesDelta24H != 5 || row.TrustlinesPercent24H != 0 {
		t.Fatalf("缺失基线时百分比应为 0: %+v", row)
	}
}

func TestUpdateTokenExchangesSkipsReference(t *testing.T) {
	cacheStore := &fakeCacheStore{}
	c := newTestComputer(testWindows(), &fakeMetricsStore{}, &fakeExchangeLog{}, cacheStore)

	if err := c.UpdateTokenExchanges(context.Background(), testXRP); err != nil {
		t.Fatalf("参照资产应被静默跳过: %v", err)
	}
	if len(cacheStore.prices) != 0 {
		t.Fatal("参照资产不应写入价格缓存")
	}
}

func TestUpdateTokenExchangesComputesPriceAndVolume(t *testing.T) {
	log := &fakeExchangeLog{
		recentBySeq: map[int64]storage.ExchangeRecord{
			100: refTrade(2),
			50:  refTrade(1),
			10:  refTrade(4),
		},
		volumes: map[int64]decimal.Decimal{
			50: decimal.NewFromInt(300),
			10: decimal.NewFromInt(900),
		},
	}
	cacheStore := &fakeCacheStore{}
	c := newTestComputer(testWindows(), &fakeMetricsStore{}, log, cacheStore)

	if err := c.UpdateTokenExchanges(context.Background(), testUSD); err != nil {
		t.Fatalf("UpdateTokenExchanges 不应报错: %v", err)
	}
	if len(cacheStore.prices) != 1 {
		t.Fatalf("应写入 1 条价格缓存行, 实际 %d", len(cacheStore.prices))
	}

	row := cacheStore.prices[0]
	if !row.Price.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("当前价格应为 2, 实际 %s", row.Price)
	}
	if !row.PriceDelta24H.Equal(decimal.NewFromInt(1)) || row.PricePercent24H != 100 {
		t.Fatalf("24h 价格变化不正确: %+v", row)
	}
	if !row.PriceDelta7D.Equal(decimal.NewFromInt(-2)) || row.PricePercent7D != -50 {
		t.Fatalf("7d 价格变化不正确: %+v", row)
	}
	if !row.Volume24H.Equal(decimal.NewFromInt(300)) || !row.Volume7D.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("滚动成交量不正确: %+v", row)
	}
}
