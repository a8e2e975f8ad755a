package session

import (
	"context"
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

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewStore(Config{Path: path, Logger: &mockLogger{}})
	require.NoError(t, err)
	return store, path
}

func sampleState() *domain.ReplaySessionState {
	openTime := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	return &domain.ReplaySessionState{
		StartingBalance:  decimal.RequireFromString("10000"),
		Leverage:         5,
		LastActiveSymbol: "ETHUSDT",
		PerSymbol: map[string]domain.SymbolSessionState{
			"ETHUSDT": {
				CurrentIndex: 42,
				OpenPositions: []domain.Position{{
					ID:         "pos-1",
					Symbol:     "ETHUSDT",
					Direction:  domain.Long,
					EntryPrice: decimal.RequireFromString("2000.50"),
					Size:       decimal.RequireFromString("0.1"),
					StopLoss:   decimal.RequireFromString("1950"),
					TakeProfit: decimal.RequireFromString("2100"),
					OpenTime:   openTime,
				}},
				PendingOrders: []domain.Order{{
					ID:         "ord-1",
					Symbol:     "ETHUSDT",
					Type:       domain.OrderTypeLimit,
					Direction:  domain.Short,
					Size:       decimal.RequireFromString("0.2"),
					LimitPrice: decimal.RequireFromString("2150"),
					State:      domain.OrderStatePending,
				}},
				TradeHistory: []domain.Trade{{
					ID:         "trd-1",
					PositionID: "pos-0",
					Symbol:     "ETHUSDT",
					Direction:  domain.Long,
					EntryPrice: decimal.RequireFromString("1900"),
					ExitPrice:  decimal.RequireFromString("1950.25"),
					Size:       decimal.RequireFromString("0.1"),
					PNL:        decimal.RequireFromString("5.025"),
					EntryTime:  openTime.Add(-time.Hour),
					ExitTime:   openTime.Add(-30 * time.Minute),
					Reason:     domain.CloseReasonTakeProfit,
				}},
			},
		},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	want := sampleState()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.SessionFormatVersion, got.FormatVersion)
	assert.True(t, got.StartingBalance.Equal(want.StartingBalance))
	assert.Equal(t, want.Leverage, got.Leverage)
	assert.Equal(t, want.LastActiveSymbol, got.LastActiveSymbol)

	wantSym := want.PerSymbol["ETHUSDT"]
	gotSym, ok := got.PerSymbol["ETHUSDT"]
	require.True(t, ok)
	assert.Equal(t, wantSym.CurrentIndex, gotSym.CurrentIndex)

	require.Len(t, gotSym.OpenPositions, 1)
	gotPos := gotSym.OpenPositions[0]
	wantPos := wantSym.OpenPositions[0]
	assert.Equal(t, wantPos.ID, gotPos.ID)
	assert.True(t, gotPos.EntryPrice.Equal(wantPos.EntryPrice), "prices survive the JSON round trip exactly")
	assert.True(t, gotPos.StopLoss.Equal(wantPos.StopLoss))
	assert.True(t, gotPos.OpenTime.Equal(wantPos.OpenTime))

	require.Len(t, gotSym.PendingOrders, 1)
	assert.True(t, gotSym.PendingOrders[0].LimitPrice.Equal(wantSym.PendingOrders[0].LimitPrice))
	assert.Equal(t, domain.OrderStatePending, gotSym.PendingOrders[0].State)

	require.Len(t, gotSym.TradeHistory, 1)
	assert.True(t, gotSym.TradeHistory[0].PNL.Equal(wantSym.TradeHistory[0].PNL))
	assert.Equal(t, domain.CloseReasonTakeProfit, gotSym.TradeHistory[0].Reason)
}

func TestSessionLoadMissingFile(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestSessionLoadCorruptFile(t *testing.T) {
	store, path := setupTestStore(t)

	require.NoError(t, os.WriteFile(path, []byte(`{"formatVersion": 1, "perSymbolState": {`), 0644))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ports.ErrSerialization)
}

func TestSessionLoadUnsupportedVersion(t *testing.T) {
	store, path := setupTestStore(t)

	require.NoError(t, os.WriteFile(path, []byte(`{"formatVersion": 99, "perSymbolState": {}}`), 0644))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ports.ErrSerialization)
}

func TestSessionSaveLeavesNoTempFile(t *testing.T) {
	store, path := setupTestStore(t)

	require.NoError(t, store.Save(context.Background(), sampleState()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "the temp file is renamed away")
}

func TestSessionSaveOverwritesPrevious(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	first := sampleState()
	require.NoError(t, store.Save(ctx, first))

	second := sampleState()
	sym := second.PerSymbol["ETHUSDT"]
	sym.CurrentIndex = 99
	second.PerSymbol["ETHUSDT"] = sym
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 99, got.PerSymbol["ETHUSDT"].CurrentIndex)
}

func TestSessionSaveNilState(t *testing.T) {
	store, _ := setupTestStore(t)

	err := store.Save(context.Background(), nil)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(Config{Path: "x.json"})
	assert.Error(t, err, "logger is required")

	_, err = NewStore(Config{Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
