package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketReplay/internal/domain"
	"marketReplay/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements ports.KlineStore using SQLite. One table per
// symbol+timeframe, keyed by timestamp (unix milliseconds, primary key),
// with OHLCV columns stored as decimal strings so prices round-trip exactly.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite kline store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// NewStore creates a new SQLite kline store instance.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/klines.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDataSourceUnavailable, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDataSourceUnavailable, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite kline store opened", map[string]interface{}{"path": dbPath})

	return &Store{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite kline store")
		return s.db.Close()
	}
	return nil
}

// tableName builds the per-symbol+timeframe table name. The symbol and
// timeframe are folded into an identifier and validated to keep table names
// out of reach of injection.
func tableName(symbol string, tf domain.Timeframe) (string, error) {
	name := fmt.Sprintf("klines_%s_%s", strings.ToUpper(symbol), string(tf))
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid symbol/timeframe for table name %q: %w", name, ports.ErrInvalidRequest)
	}
	return name, nil
}

// wrapQueryErr maps a missing backing table onto ErrDataSourceUnavailable.
func wrapQueryErr(op, table string, err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%s: table %s: %w: %w", op, table, ports.ErrDataSourceUnavailable, err)
	}
	return fmt.Errorf("%s: table %s: %w: %w", op, table, ports.ErrQueryFailed, err)
}

// ensureTable creates the backing table for symbol+timeframe if needed.
func (s *Store) ensureTable(ctx context.Context, table string) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		timestamp INTEGER PRIMARY KEY,
		open TEXT NOT NULL,
		high TEXT NOT NULL,
		low TEXT NOT NULL,
		close TEXT NOT NULL,
		volume TEXT NOT NULL
	);`, table)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// InsertKlines stores bars, ignoring duplicates by timestamp.
func (s *Store) InsertKlines(ctx context.Context, symbol string, tf domain.Timeframe, bars []domain.Kline) error {
	table, err := tableName(symbol, tf)
	if err != nil {
		return err
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (timestamp, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?)`, table)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert for %s: %w", table, err)
	}
	defer stmt.Close()

	for _, k := range bars {
		if _, err := stmt.ExecContext(ctx,
			k.OpenTime.UTC().UnixMilli(),
			k.Open.String(), k.High.String(), k.Low.String(), k.Close.String(), k.Volume.String(),
		); err != nil {
			return fmt.Errorf("failed to insert bar at %s into %s: %w", k.OpenTime, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert into %s: %w", table, err)
	}
	s.logger.Debug(ctx, "Klines inserted", map[string]interface{}{"table": table, "count": len(bars)})
	return nil
}

// GetRange returns the ordered bars with OpenTime in [start, end].
// The window is answered straight from the timestamp index; full history is
// never loaded. Rows with unparseable values are skipped and logged.
func (s *Store) GetRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Kline, error) {
	table, err := tableName(symbol, tf)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
	SELECT timestamp, open, high, low, close, volume
	FROM %s
	WHERE timestamp >= ? AND timestamp <= ?
	ORDER BY timestamp ASC`, table)

	rows, err := s.db.QueryContext(ctx, query, start.UTC().UnixMilli(), end.UTC().UnixMilli())
	if err != nil {
		return nil, wrapQueryErr("GetRange", table, err)
	}
	defer rows.Close()

	bars := make([]domain.Kline, 0)
	for rows.Next() {
		k, err := s.scanKlineRow(rows, symbol, tf)
		if err != nil {
			// A single unreadable row must not abort the whole query.
			s.logger.Warn(ctx, "Skipping unreadable kline row", map[string]interface{}{"table": table, "error": err.Error()})
			continue
		}
		bars = append(bars, k)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapQueryErr("GetRange", table, err)
	}
	return bars, nil
}

// TotalCount returns the number of bars stored for symbol+timeframe.
func (s *Store) TotalCount(ctx context.Context, symbol string, tf domain.Timeframe) (int, error) {
	table, err := tableName(symbol, tf)
	if err != nil {
		return 0, err
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, wrapQueryErr("TotalCount", table, err)
	}
	return count, nil
}

// FindClosestIndex returns the index of the latest bar with OpenTime <= t.
// The count of earlier-or-equal timestamps is resolved inside the B-tree
// index; clamping gives 0 before all data and count-1 after all data.
func (s *Store) FindClosestIndex(ctx context.Context, symbol string, tf domain.Timeframe, t time.Time) (int, error) {
	table, err := tableName(symbol, tf)
	if err != nil {
		return 0, err
	}
	var atOrBefore int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE timestamp <= ?`, table)
	if err := s.db.QueryRowContext(ctx, query, t.UTC().UnixMilli()).Scan(&atOrBefore); err != nil {
		return 0, wrapQueryErr("FindClosestIndex", table, err)
	}
	if atOrBefore == 0 {
		return 0, nil
	}
	return atOrBefore - 1, nil
}

// DataRange returns the first and last bar timestamps for symbol+timeframe.
func (s *Store) DataRange(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, time.Time, error) {
	table, err := tableName(symbol, tf)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	var minTS, maxTS sql.NullInt64
	query := fmt.Sprintf(`SELECT MIN(timestamp), MAX(timestamp) FROM %s`, table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&minTS, &maxTS); err != nil {
		return time.Time{}, time.Time{}, wrapQueryErr("DataRange", table, err)
	}
	if !minTS.Valid || !maxTS.Valid {
		return time.Time{}, time.Time{}, fmt.Errorf("DataRange: table %s is empty: %w", table, ports.ErrNotFound)
	}
	return time.UnixMilli(minTS.Int64).UTC(), time.UnixMilli(maxTS.Int64).UTC(), nil
}

// KlineAt returns the bar at the given zero-based index in timestamp order.
func (s *Store) KlineAt(ctx context.Context, symbol string, tf domain.Timeframe, index int) (domain.Kline, error) {
	table, err := tableName(symbol, tf)
	if err != nil {
		return domain.Kline{}, err
	}
	if index < 0 {
		return domain.Kline{}, fmt.Errorf("KlineAt: negative index %d: %w", index, ports.ErrInvalidRequest)
	}

	query := fmt.Sprintf(`
	SELECT timestamp, open, high, low, close, volume
	FROM %s
	ORDER BY timestamp ASC
	LIMIT 1 OFFSET ?`, table)

	row := s.db.QueryRowContext(ctx, query, index)
	k, err := s.scanKlineRow(row, symbol, tf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Kline{}, fmt.Errorf("KlineAt: no bar at index %d in %s: %w", index, table, ports.ErrNotFound)
		}
		return domain.Kline{}, wrapQueryErr("KlineAt", table, err)
	}
	return k, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanKlineRow(sc scanner, symbol string, tf domain.Timeframe) (domain.Kline, error) {
	var ts int64
	var open, high, low, cls, vol string
	if err := sc.Scan(&ts, &open, &high, &low, &cls, &vol); err != nil {
		return domain.Kline{}, err // Handle sql.ErrNoRows in the caller
	}

	k := domain.Kline{
		OpenTime:  time.UnixMilli(ts).UTC(),
		Symbol:    symbol,
		Timeframe: tf,
	}
	var err error
	if k.Open, err = decimal.NewFromString(open); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing open %q: %w", open, err)
	}
	if k.High, err = decimal.NewFromString(high); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing high %q: %w", high, err)
	}
	if k.Low, err = decimal.NewFromString(low); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing low %q: %w", low, err)
	}
	if k.Close, err = decimal.NewFromString(cls); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing close %q: %w", cls, err)
	}
	if k.Volume, err = decimal.NewFromString(vol); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing volume %q: %w", vol, err)
	}
	return k, nil
}
