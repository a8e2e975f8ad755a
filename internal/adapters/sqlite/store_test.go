package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketReplay/internal/domain"
	"marketReplay/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestStore creates a temporary database for testing
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "market-replay-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewStore(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

// seedContiguousBars inserts n contiguous 1m bars starting at start, with
// close = 100 + index so each bar is identifiable.
func seedContiguousBars(t *testing.T, store *Store, symbol string, start time.Time, n int) []domain.Kline {
	t.Helper()

	bars := make([]domain.Kline, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		bars[i] = domain.Kline{
			OpenTime:  start.Add(time.Duration(i) * time.Minute),
			Symbol:    symbol,
			Timeframe: domain.Timeframe1m,
			Open:      price,
			High:      price.Add(decimal.NewFromInt(1)),
			Low:       price.Sub(decimal.NewFromInt(1)),
			Close:     price,
			Volume:    decimal.NewFromInt(10),
		}
	}
	require.NoError(t, store.InsertKlines(context.Background(), symbol, domain.Timeframe1m, bars))
	return bars
}

func TestStore_InsertAndGetRange(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	bars := seedContiguousBars(t, store, "ETHUSDT", start, 10)

	// Window covering bars 2..5 inclusive.
	got, err := store.GetRange(ctx, "ETHUSDT", domain.Timeframe1m, bars[2].OpenTime, bars[5].OpenTime)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, k := range got {
		want := bars[2+i]
		assert.True(t, k.OpenTime.Equal(want.OpenTime))
		assert.True(t, k.Open.Equal(want.Open), "open round-trips exactly")
		assert.True(t, k.Close.Equal(want.Close), "close round-trips exactly")
		assert.True(t, k.Volume.Equal(want.Volume))
		assert.Equal(t, "ETHUSDT", k.Symbol)
		assert.Equal(t, domain.Timeframe1m, k.Timeframe)
	}

	// Window outside the data is empty, not an error.
	got, err = store.GetRange(ctx, "ETHUSDT", domain.Timeframe1m, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_InsertIgnoresDuplicates(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	bars := seedContiguousBars(t, store, "ETHUSDT", start, 5)

	// Re-inserting the same bars must not grow the table.
	require.NoError(t, store.InsertKlines(ctx, "ETHUSDT", domain.Timeframe1m, bars))

	total, err := store.TotalCount(ctx, "ETHUSDT", domain.Timeframe1m)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestStore_TotalCountAndDataRange(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	bars := seedContiguousBars(t, store, "ETHUSDT", start, 7)

	total, err := store.TotalCount(ctx, "ETHUSDT", domain.Timeframe1m)
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	first, last, err := store.DataRange(ctx, "ETHUSDT", domain.Timeframe1m)
	require.NoError(t, err)
	assert.True(t, first.Equal(bars[0].OpenTime))
	assert.True(t, last.Equal(bars[6].OpenTime))
}

func TestStore_DataRangeEmptyTable(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// Create the table, insert nothing.
	require.NoError(t, store.InsertKlines(ctx, "ETHUSDT", domain.Timeframe1m, nil))

	_, _, err := store.DataRange(ctx, "ETHUSDT", domain.Timeframe1m)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_FindClosestIndex(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	bars := seedContiguousBars(t, store, "ETHUSDT", start, 10)

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"exact first bar", bars[0].OpenTime, 0},
		{"exact middle bar", bars[4].OpenTime, 4},
		{"between bars rounds down", bars[4].OpenTime.Add(30 * time.Second), 4},
		{"before all data clamps to first", start.Add(-time.Hour), 0},
		{"after all data clamps to last", start.Add(24 * time.Hour), 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindClosestIndex(ctx, "ETHUSDT", domain.Timeframe1m, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_KlineAt(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	bars := seedContiguousBars(t, store, "ETHUSDT", start, 5)

	k, err := store.KlineAt(ctx, "ETHUSDT", domain.Timeframe1m, 3)
	require.NoError(t, err)
	assert.True(t, k.OpenTime.Equal(bars[3].OpenTime))
	assert.True(t, k.Close.Equal(bars[3].Close))

	_, err = store.KlineAt(ctx, "ETHUSDT", domain.Timeframe1m, 5)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = store.KlineAt(ctx, "ETHUSDT", domain.Timeframe1m, -1)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestStore_MissingTableIsDataSourceUnavailable(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.TotalCount(ctx, "NOSUCH", domain.Timeframe1m)
	assert.ErrorIs(t, err, ports.ErrDataSourceUnavailable)

	_, err = store.GetRange(ctx, "NOSUCH", domain.Timeframe1m, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, ports.ErrDataSourceUnavailable)

	_, err = store.FindClosestIndex(ctx, "NOSUCH", domain.Timeframe1m, time.Now())
	assert.ErrorIs(t, err, ports.ErrDataSourceUnavailable)
}

func TestStore_RejectsUnsafeTableName(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.TotalCount(ctx, "ETH;DROP TABLE x", domain.Timeframe1m)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestStore_GetRangeSkipsCorruptRows(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	seedContiguousBars(t, store, "ETHUSDT", start, 3)

	// Corrupt one row directly underneath the store.
	table, err := tableName("ETHUSDT", domain.Timeframe1m)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET open = 'not-a-number' WHERE timestamp = ?`, table),
		start.Add(time.Minute).UnixMilli())
	require.NoError(t, err)

	got, err := store.GetRange(ctx, "ETHUSDT", domain.Timeframe1m, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2, "the unreadable row is skipped, not fatal")
	assert.True(t, got[0].OpenTime.Equal(start))
	assert.True(t, got[1].OpenTime.Equal(start.Add(2*time.Minute)))
}

func TestStore_SymbolsAndTimeframesAreIsolated(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	seedContiguousBars(t, store, "ETHUSDT", start, 4)
	seedContiguousBars(t, store, "BTCUSDT", start, 2)

	ethTotal, err := store.TotalCount(ctx, "ETHUSDT", domain.Timeframe1m)
	require.NoError(t, err)
	btcTotal, err := store.TotalCount(ctx, "BTCUSDT", domain.Timeframe1m)
	require.NoError(t, err)
	assert.Equal(t, 4, ethTotal)
	assert.Equal(t, 2, btcTotal)
}
