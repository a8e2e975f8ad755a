package ports

import (
	"context"
	"time"

	"marketReplay/internal/domain"
)

// KlineStore defines the interface for the persisted, timestamp-indexed
// OHLCV store. Implementations keep one table per symbol+timeframe keyed by
// timestamp and must answer windowed queries without loading full history.
type KlineStore interface {
	// GetRange returns the ordered bars with OpenTime in [start, end].
	GetRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Kline, error)

	// TotalCount returns the number of bars stored for symbol+timeframe.
	TotalCount(ctx context.Context, symbol string, tf domain.Timeframe) (int, error)

	// FindClosestIndex returns the index of the latest bar with
	// OpenTime <= t. It clamps to 0 if t precedes all data and to count-1
	// if t follows all data.
	FindClosestIndex(ctx context.Context, symbol string, tf domain.Timeframe, t time.Time) (int, error)

	// DataRange returns the first and last bar timestamps for symbol+timeframe.
	DataRange(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, time.Time, error)

	// KlineAt returns the bar at the given zero-based index in timestamp order.
	KlineAt(ctx context.Context, symbol string, tf domain.Timeframe, index int) (domain.Kline, error)

	// InsertKlines stores bars, ignoring duplicates by timestamp.
	InsertKlines(ctx context.Context, symbol string, tf domain.Timeframe, bars []domain.Kline) error
}

// SessionStore persists and restores replay session state.
type SessionStore interface {
	// Save atomically writes the session snapshot.
	Save(ctx context.Context, state *domain.ReplaySessionState) error
	// Load reads the persisted session. Returns ErrNotFound when no session
	// file exists and ErrSerialization when it is corrupt or has an
	// unsupported format version.
	Load(ctx context.Context) (*domain.ReplaySessionState, error)
}

// HistoricalDataSource fetches historical klines from an external provider
// to seed the local store. Live trading connectivity is out of scope.
type HistoricalDataSource interface {
	// GetKlines retrieves the most recent bars up to limit.
	GetKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error)
	// GetKlinesRange retrieves all bars between start and end.
	GetKlinesRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Kline, error)
}
