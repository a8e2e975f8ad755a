package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketReplay/config"
	"marketReplay/internal/adapters/session"
	"marketReplay/internal/domain"
	"marketReplay/internal/notify"
	"marketReplay/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memStore is an in-memory ports.KlineStore for service tests.
type memStore struct {
	bars map[int64]domain.Kline
}

func newMemStore() *memStore {
	return &memStore{bars: make(map[int64]domain.Kline)}
}

func (m *memStore) sorted() []domain.Kline {
	keys := make([]int64, 0, len(m.bars))
	for ts := range m.bars {
		keys = append(keys, ts)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]domain.Kline, len(keys))
	for i, ts := range keys {
		out[i] = m.bars[ts]
	}
	return out
}

func (m *memStore) GetRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Kline, error) {
	var out []domain.Kline
	for _, k := range m.sorted() {
		if !k.OpenTime.Before(start) && !k.OpenTime.After(end) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) TotalCount(ctx context.Context, symbol string, tf domain.Timeframe) (int, error) {
	return len(m.bars), nil
}

func (m *memStore) FindClosestIndex(ctx context.Context, symbol string, tf domain.Timeframe, t time.Time) (int, error) {
	idx := 0
	for i, k := range m.sorted() {
		if !k.OpenTime.After(t) {
			idx = i
		}
	}
	return idx, nil
}

func (m *memStore) DataRange(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, time.Time, error) {
	all := m.sorted()
	if len(all) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("empty store: %w", ports.ErrNotFound)
	}
	return all[0].OpenTime, all[len(all)-1].OpenTime, nil
}

func (m *memStore) KlineAt(ctx context.Context, symbol string, tf domain.Timeframe, index int) (domain.Kline, error) {
	all := m.sorted()
	if index < 0 || index >= len(all) {
		return domain.Kline{}, fmt.Errorf("no bar at index %d: %w", index, ports.ErrNotFound)
	}
	return all[index], nil
}

func (m *memStore) InsertKlines(ctx context.Context, symbol string, tf domain.Timeframe, bars []domain.Kline) error {
	for _, k := range bars {
		m.bars[k.OpenTime.UnixMilli()] = k
	}
	return nil
}

var testStart = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

// seedTrendingBars inserts n contiguous 1m bars with close = 100 + index so
// every run over them is identical.
func seedTrendingBars(t *testing.T, store *memStore, n int) {
	t.Helper()
	bars := make([]domain.Kline, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		bars[i] = domain.Kline{
			OpenTime:  testStart.Add(time.Duration(i) * time.Minute),
			Symbol:    "ETHUSDT",
			Timeframe: domain.Timeframe1m,
			Open:      price,
			High:      price.Add(decimal.NewFromInt(2)),
			Low:       price.Sub(decimal.NewFromInt(2)),
			Close:     price.Add(decimal.NewFromInt(1)),
			Volume:    decimal.NewFromInt(10),
		}
	}
	require.NoError(t, store.InsertKlines(context.Background(), "ETHUSDT", domain.Timeframe1m, bars))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Symbol:             "ETHUSDT",
		BaseTimeframe:      domain.Timeframe1m,
		StartingBalance:    decimal.RequireFromString("10000"),
		Leverage:           1,
		CommissionPerTrade: decimal.RequireFromString("0.5"),
		SpreadPoints:       decimal.RequireFromString("0.1"),
		AutoSaveEveryTicks: 0,
		SessionPath:        filepath.Join(t.TempDir(), "session.json"),
		TickInterval:       time.Millisecond,
		StrictGaps:         true,
	}
}

func newTestService(t *testing.T, cfg *config.Config, store *memStore) *ReplayService {
	t.Helper()
	logger := &mockLogger{}
	sessions, err := session.NewStore(session.Config{Path: cfg.SessionPath, Logger: logger})
	require.NoError(t, err)
	svc, err := NewReplayService(cfg, logger, store, sessions, notify.NewBus(nil))
	require.NoError(t, err)
	return svc
}

func TestServiceFreshStart(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore()
	seedTrendingBars(t, store, 10)
	svc := newTestService(t, cfg, store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, -1))
	assert.Equal(t, domain.ReplayPlaying, svc.Cursor().State())
	assert.Equal(t, -1, svc.Cursor().CurrentIndex())

	require.NoError(t, svc.StepOnce(ctx))
	assert.Equal(t, 0, svc.Cursor().CurrentIndex())
}

func TestServiceSessionRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore()
	seedTrendingBars(t, store, 10)
	ctx := context.Background()

	// First run: trade a little, then save.
	first := newTestService(t, cfg, store)
	require.NoError(t, first.Start(ctx, -1))
	require.NoError(t, first.StepOnce(ctx)) // bar 0

	require.NoError(t, first.SubmitOrder(ctx, &domain.Order{
		Symbol:    cfg.Symbol,
		Type:      domain.OrderTypeMarket,
		Direction: domain.Long,
		Size:      decimal.RequireFromString("2"),
	}))
	require.NoError(t, first.StepOnce(ctx)) // bar 1: fills at open

	positions := first.Engine().OpenPositions(cfg.Symbol)
	require.Len(t, positions, 1)
	require.NoError(t, first.ClosePosition(ctx, positions[0].ID))

	require.NoError(t, first.SubmitOrder(ctx, &domain.Order{
		Symbol:    cfg.Symbol,
		Type:      domain.OrderTypeMarket,
		Direction: domain.Long,
		Size:      decimal.RequireFromString("1"),
	}))
	require.NoError(t, first.StepOnce(ctx)) // bar 2: second position opens

	require.NoError(t, first.SubmitOrder(ctx, &domain.Order{
		Symbol:     cfg.Symbol,
		Type:       domain.OrderTypeLimit,
		Direction:  domain.Long,
		Size:       decimal.RequireFromString("1"),
		LimitPrice: decimal.RequireFromString("50"),
	}))
	require.NoError(t, first.SaveSession(ctx))

	balanceBefore := first.Engine().Balance()
	indexBefore := first.Cursor().CurrentIndex()

	// Second run against the same session file restores everything.
	second := newTestService(t, cfg, store)
	require.NoError(t, second.Start(ctx, -1))

	assert.Equal(t, indexBefore, second.Cursor().CurrentIndex(), "playback resumes from the saved bar")
	assert.True(t, second.Engine().Balance().Equal(balanceBefore))

	wantPositions := first.Engine().OpenPositions(cfg.Symbol)
	gotPositions := second.Engine().OpenPositions(cfg.Symbol)
	require.Equal(t, len(wantPositions), len(gotPositions))
	for i := range wantPositions {
		assert.Equal(t, wantPositions[i].ID, gotPositions[i].ID)
		assert.True(t, gotPositions[i].EntryPrice.Equal(wantPositions[i].EntryPrice))
		assert.True(t, gotPositions[i].Size.Equal(wantPositions[i].Size))
		assert.True(t, gotPositions[i].OpenTime.Equal(wantPositions[i].OpenTime))
	}

	wantOrders := first.Engine().PendingOrders(cfg.Symbol)
	gotOrders := second.Engine().PendingOrders(cfg.Symbol)
	require.Equal(t, len(wantOrders), len(gotOrders))
	for i := range wantOrders {
		assert.Equal(t, wantOrders[i].ID, gotOrders[i].ID)
		assert.True(t, gotOrders[i].LimitPrice.Equal(wantOrders[i].LimitPrice))
	}

	wantTrades := first.Engine().TradeHistory(cfg.Symbol)
	gotTrades := second.Engine().TradeHistory(cfg.Symbol)
	require.Equal(t, len(wantTrades), len(gotTrades))
	for i := range wantTrades {
		assert.Equal(t, wantTrades[i].ID, gotTrades[i].ID)
		assert.True(t, gotTrades[i].PNL.Equal(wantTrades[i].PNL))
		assert.True(t, gotTrades[i].ExitPrice.Equal(wantTrades[i].ExitPrice))
	}

	// The restored session keeps ticking from where it left off.
	require.NoError(t, second.StepOnce(ctx))
	assert.Equal(t, indexBefore+1, second.Cursor().CurrentIndex())
}

func TestServiceCorruptSessionFallsBackToFresh(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore()
	seedTrendingBars(t, store, 5)

	require.NoError(t, os.WriteFile(cfg.SessionPath, []byte(`{"formatVersion": 99}`), 0644))

	svc := newTestService(t, cfg, store)
	require.NoError(t, svc.Start(context.Background(), -1), "unreadable session must not block startup")
	assert.Equal(t, -1, svc.Cursor().CurrentIndex())
	assert.True(t, svc.Engine().Balance().Equal(cfg.StartingBalance))
}

func TestServiceAutoSavePersistsProgress(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoSaveEveryTicks = 2
	store := newMemStore()
	seedTrendingBars(t, store, 10)
	svc := newTestService(t, cfg, store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, -1))
	for i := 0; i < 4; i++ {
		require.NoError(t, svc.StepOnce(ctx))
	}

	// The auto-save write is fire-and-forget; wait for it to land.
	logger := &mockLogger{}
	sessions, err := session.NewStore(session.Config{Path: cfg.SessionPath, Logger: logger})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		state, err := sessions.Load(ctx)
		if err != nil {
			return false
		}
		return state.PerSymbol[cfg.Symbol].CurrentIndex == 3
	}, 2*time.Second, 10*time.Millisecond, "auto-save at tick 4 records index 3")
}

func TestServiceFreshReplayIsDeterministic(t *testing.T) {
	// Two independent runs over the same tape with the same scripted orders
	// must produce identical trading results (IDs aside, which are random).
	runOnce := func(t *testing.T) []domain.Trade {
		cfg := testConfig(t)
		store := newMemStore()
		seedTrendingBars(t, store, 8)
		svc := newTestService(t, cfg, store)
		ctx := context.Background()

		require.NoError(t, svc.Start(ctx, -1))
		require.NoError(t, svc.StepOnce(ctx))

		require.NoError(t, svc.SubmitOrder(ctx, &domain.Order{
			Symbol:     cfg.Symbol,
			Type:       domain.OrderTypeMarket,
			Direction:  domain.Long,
			Size:       decimal.RequireFromString("2"),
			TakeProfit: decimal.RequireFromString("105"),
		}))
		for svc.Cursor().State() == domain.ReplayPlaying {
			require.NoError(t, svc.StepOnce(ctx))
		}
		return svc.Engine().TradeHistory(cfg.Symbol)
	}

	a := runOnce(t)
	b := runOnce(t)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.True(t, a[i].EntryPrice.Equal(b[i].EntryPrice))
		assert.True(t, a[i].ExitPrice.Equal(b[i].ExitPrice))
		assert.True(t, a[i].Size.Equal(b[i].Size))
		assert.True(t, a[i].PNL.Equal(b[i].PNL))
		assert.Equal(t, a[i].Reason, b[i].Reason)
		assert.True(t, a[i].EntryTime.Equal(b[i].EntryTime))
		assert.True(t, a[i].ExitTime.Equal(b[i].ExitTime))
	}
}

func TestServiceResampledView(t *testing.T) {
	cfg := testConfig(t)
	store := newMemStore()
	seedTrendingBars(t, store, 12)
	svc := newTestService(t, cfg, store)
	ctx := context.Background()

	// Before any step there is nothing to aggregate.
	view, err := svc.ResampledView(ctx, domain.Timeframe5m)
	require.NoError(t, err)
	assert.Empty(t, view)

	require.NoError(t, svc.Start(ctx, -1))
	for i := 0; i < 7; i++ {
		require.NoError(t, svc.StepOnce(ctx))
	}

	// Bars 0..6 replayed: one full 5m bucket plus a forming one.
	view, err = svc.ResampledView(ctx, domain.Timeframe5m)
	require.NoError(t, err)
	require.Len(t, view, 2)
	assert.True(t, view[0].OpenTime.Equal(testStart))
	assert.True(t, view[0].Open.Equal(decimal.NewFromInt(100)), "open of the first base bar")
	assert.True(t, view[0].Close.Equal(decimal.NewFromInt(105)), "close of the fifth base bar")
	assert.True(t, view[1].OpenTime.Equal(testStart.Add(5*time.Minute)))
	assert.True(t, view[1].Close.Equal(decimal.NewFromInt(107)), "close of the last replayed bar")
}
