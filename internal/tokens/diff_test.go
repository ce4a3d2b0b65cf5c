package tokens

import (
	"context"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
	"github.com/Tomyleexrp/xrplmeta/internal/scope"
	"github.com/Tomyleexrp/xrplmeta/internal/storage"
)

type fakeBalances struct {
	records []storage.BalanceRecord
}

func (f *fakeBalances) WriteBalanceSnapshot(_ context.Context, rec storage.BalanceRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeBalances) ReadBalanceAsOf(_ context.Context, account string, token ledger.Token, sequence int64) (decimal.Decimal, bool, error) {
	var best *storage.BalanceRecord
	for i := range f.records {
		r := &f.records[i]
		if r.Account != account || r.Token != token || r.LedgerSequence > sequence {
			continue
		}
		if best == nil || r.LedgerSequence > best.LedgerSequence {
			best = r
		}
	}
	if best == nil {
		return decimal.Zero, false, nil
	}
	return best.Balance, true, nil
}

func (f *fakeBalances) SumPositiveBalances(ctx context.Context, token ledger.Token, sequence int64) (decimal.Decimal, error) {
	accounts := map[string]struct{}{}
	for _, r := range f.records {
		accounts[r.Account] = struct{}{}
	}
	sum := decimal.Zero
	for account := range accounts {
		balance, found, err := f.ReadBalanceAsOf(ctx, account, token, sequence)
		if err != nil {
			return decimal.Zero, err
		}
		if found && balance.IsPositive() {
			sum = sum.Add(balance)
		}
	}
	return sum, nil
}

type fakeMetrics struct {
	snapshots []storage.TokenMetrics
}

func (f *fakeMetrics) WriteMetricsSnapshot(_ context.Context, m storage.TokenMetrics) error {
	for i := range f.snapshots {
		if f.snapshots[i].Token == m.Token && f.snapshots[i].LedgerSequence == m.LedgerSequence {
			f.snapshots[i] = m
			return nil
		}
	}
	f.snapshots = append(f.snapshots, m)
	return nil
}

func (f *fakeMetrics) ReadMetricsAsOf(_ context.Context, token ledger.Token, sequence int64) (storage.TokenMetrics, bool, error) {
	var best *storage.TokenMetrics
	for i := range f.snapshots {
		s := &f.snapshots[i]
		if s.Token != token || s.LedgerSequence > sequence {
			continue
		}
		if best == nil || s.LedgerSequence > best.LedgerSequence {
			best = s
		}
	}
	if best == nil {
		return storage.TokenMetrics{}, false, nil
	}
	return *best, true, nil
}

func entry(account, balance string) *Entry {
	return &Entry{
		Account: account,
		Token:   testToken(),
		Balance: decimal.RequireFromString(balance),
	}
}

func testToken() ledger.Token {
	return ledger.Token{Currency: "USD", Issuer: "rIssuer"}
}

func newTestProcessor() (*Processor, *fakeBalances, *fakeMetrics) {
	balances := &fakeBalances{}
	metrics := &fakeMetrics{}
	return NewProcessor(balances, metrics, zerolog.Nop()), balances, metrics
}

func TestDiffNewTrustlineWithBalance(t *testing.T) {
	p, balances, metrics := newTestProcessor()

	groups := []ChangeGroup{{Token: testToken(), Final: entry("rAlice", "100")}}
	events, err := p.Diff(context.Background(), testToken(), 10, groups)
	if err != nil {
		t.Fatalf("Diff 不应报错: %v", err)
	}

	m, found, _ := metrics.ReadMetricsAsOf(context.Background(), testToken(), 10)
	if !found {
		t.Fatal("应写入指标快照")
	}
	if m.Trustlines != 1 || m.Holders != 1 || !m.Supply.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("期望 {1,1,100}, 实际 {%d,%d,%s}", m.Trustlines, m.Holders, m.Supply)
	}

	if len(balances.records) != 1 || !balances.records[0].Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("应写入 1 条余额记录: %#v", balances.records)
	}

	assertEvents(t, events, []scope.Event{
		{Account: "rAlice", Change: scope.ChangeBalances},
		{Token: testToken(), Change: scope.ChangeMetrics},
	})
}

func TestDiffNewTrustlineZeroBalance(t *testing.T) {
	p, _, metrics := newTestProcessor()

	groups := []ChangeGroup{{Token: testToken(), Final: entry("rAlice", "0")}}
	if _, err := p.Diff(context.Background(), testToken(), 10, groups); err != nil {
		t.Fatalf("Diff 不应报错: %v", err)
	}

	m, _, _ := metrics.ReadMetricsAsOf(context.Background(), testToken(), 10)
	if m.Trustlines != 1 || m.Holders != 0 || !m.Supply.IsZero() {
		t.Fatalf("零余额信任线期望 {1,0,0}, 实际 {%d,%d,%s}", m.Trustlines, m.Holders, m.Supply)
	}
}

func TestDiffTransitionsAndRemoval(t *testing.T) {
	p, _, metrics := newTestProcessor()

	seed := storage.TokenMetrics{
		Token:          testToken(),
		LedgerSequence: 5,
		Trustlines:     2,
		Holders:        1,
		Supply:         decimal.NewFromInt(100),
	}
	if err := metrics.WriteMetricsSnapshot(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	groups := []ChangeGroup{
		// 持有人清零: holders-1, supply-100
		{Token: testToken(), Previous: entry("rAlice", "100"), Final: entry("rAlice", "0")},
		// 删除零余额信任线: trustlines-1
		{Token: testToken(), Previous: entry("rBob", "0")},
	}
	if _, err := p.Diff(context.Background(), testToken(), 6, groups); err != nil {
		t.Fatalf("Diff 不应报错: %v", err)
	}

	m, _, _ := metrics.ReadMetricsAsOf(context.Background(), testToken(), 6)
	if m.Trustlines != 1 || m.Holders != 0 || !m.Supply.IsZero() {
		t.Fatalf("期望 {1,0,0}, 实际 {%d,%d,%s}", m.Trustlines, m.Holders, m.Supply)
	}
}

func TestDiffRerunSameLedgerIsIdempotent(t *testing.T) {
	p, _, metrics := newTestProcessor()

	groups := []ChangeGroup{{Token: testToken(), Final: entry("rAlice", "100")}}
	for i := 0; i < 2; i++ {
		if _, err := p.Diff(context.Background(), testToken(), 10, groups); err != nil {
			t.Fatalf("第 %d 次 Diff 不应报错: %v", i+1, err)
		}
	}

	m, _, _ := metrics.ReadMetricsAsOf(context.Background(), testToken(), 10)
	if m.Trustlines != 1 || m.Holders != 1 || !m.Supply.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("重跑同一 ledger 不应叠加: {%d,%d,%s}", m.Trustlines, m.Holders, m.Supply)
	}
	if len(metrics.snapshots) != 1 {
		t.Fatalf("同一序号应覆盖而非追加: %d 条", len(metrics.snapshots))
	}
}

func TestDiffFloorsNegativeMetrics(t *testing.T) {
	p, _, metrics := newTestProcessor()

	// 无历史快照时删除带余额的信任线, 所有指标都会转负
	groups := []ChangeGroup{{Token: testToken(), Previous: entry("rAlice", "50")}}
	if _, err := p.Diff(context.Background(), testToken(), 10, groups); err != nil {
		t.Fatalf("Diff 不应报错: %v", err)
	}

	m, _, _ := metrics.ReadMetricsAsOf(context.Background(), testToken(), 10)
	if m.Trustlines != 0 || m.Holders != 0 || !m.Supply.IsZero() {
		t.Fatalf("负值应被钳制为零: {%d,%d,%s}", m.Trustlines, m.Holders, m.Supply)
	}
}

func TestDiffSupplyMatchesBalanceHistory(t *testing.T) {
	p, balances, metrics := newTestProcessor()
	ctx := context.Background()

	ledgers := []struct {
		sequence int64
		groups   []ChangeGroup
	}{
		{10, []ChangeGroup{
			{Token: testToken(), Final: entry("rAlice", "100")},
			{Token: testToken(), Final: entry("rBob", "40")},
		}},
		{11, []ChangeGroup{
			{Token: testToken(), Previous: entry("rAlice", "100"), Final: entry("rAlice", "70")},
		}},
		{12, []ChangeGroup{
			{Token: testToken(), Previous: entry("rBob", "40")},
		}},
	}

	// 每个 ledger 处理完后, 指标快照里的供应量都应等于按余额历史重算的结果
	for _, led := range ledgers {
		if _, err := p.Diff(ctx, testToken(), led.sequence, led.groups); err != nil {
			t.Fatalf("ledger %d Diff 不应报错: %v", led.sequence, err)
		}

		m, found, _ := metrics.ReadMetricsAsOf(ctx, testToken(), led.sequence)
		if !found {
			t.Fatalf("ledger %d 应有指标快照", led.sequence)
		}
		derived, err := balances.SumPositiveBalances(ctx, testToken(), led.sequence)
		if err != nil {
			t.Fatal(err)
		}
		if !m.Supply.Equal(derived) {
			t.Fatalf("ledger %d 供应量与余额历史不符: %s != %s", led.sequence, m.Supply, derived)
		}
	}

	// 删除一条从未见过的大额信任线会把供应量钳制为零, 余额历史照常反映真实总量
	phantom := []ChangeGroup{{Token: testToken(), Previous: entry("rCarol", "500")}}
	if _, err := p.Diff(ctx, testToken(), 13, phantom); err != nil {
		t.Fatalf("Diff 不应报错: %v", err)
	}
	m, _, _ := metrics.ReadMetricsAsOf(ctx, testToken(), 13)
	if !m.Supply.IsZero() {
		t.Fatalf("钳制后供应量应为零: %s", m.Supply)
	}
	derived, err := balances.SumPositiveBalances(ctx, testToken(), 13)
	if err != nil {
		t.Fatal(err)
	}
	if !derived.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("余额历史重算应为 70: %s", derived)
	}
}

func assertEvents(t *testing.T, got, want []scope.Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("事件数量不符, 期望 %d, 实际 %d: %#v", len(want), len(got), got)
	}
	key := func(e scope.Event) string { return e.Account + "|" + e.Token.Key() + "|" + string(e.Change) }
	sort.Slice(got, func(i, j int) bool { return key(got[i]) < key(got[j]) })
	sort.Slice(want, func(i, j int) bool { return key(want[i]) < key(want[j]) })
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("事件不符, 期望 %#v, 实际 %#v", want[i], got[i])
		}
	}
}
