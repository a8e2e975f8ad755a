package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"marketReplay/internal/adapters/logger" // Import the logger package for LogLevel
	"marketReplay/internal/domain"
)

// Config holds all application configuration. The engine consumes these
// values read-only; it never mutates them.
type Config struct {
	// Replay target
	Symbol        string
	BaseTimeframe domain.Timeframe

	// Simulation Parameters
	StartingBalance    decimal.Decimal
	Leverage           int
	CommissionPerTrade decimal.Decimal // Flat commission charged per closed trade
	SpreadPoints       decimal.Decimal // Simulated spread in price points per unit

	// Session
	AutoSaveEveryTicks int           // Auto-save interval in ticks (0 disables)
	SessionPath        string        // Persisted session file
	TickInterval       time.Duration // Delay between ticks when playing
	StrictGaps         bool          // Halt on missing bars mid-replay

	// Database
	DBPath string

	// Data seeding (Binance public endpoints only)
	IsTestnet bool

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}

	cfg.BaseTimeframe, err = domain.ParseTimeframe(getEnv("BASE_TIMEFRAME", "1m"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BASE_TIMEFRAME: %v", err))
	}

	cfg.StartingBalance, err = getEnvAsDecimal("STARTING_BALANCE", "10000")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STARTING_BALANCE: %v", err))
	} else if !cfg.StartingBalance.IsPositive() {
		errs = append(errs, "STARTING_BALANCE must be positive")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	cfg.CommissionPerTrade, err = getEnvAsDecimal("COMMISSION_PER_TRADE", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid COMMISSION_PER_TRADE: %v", err))
	} else if cfg.CommissionPerTrade.IsNegative() {
		errs = append(errs, "COMMISSION_PER_TRADE cannot be negative")
	}

	cfg.SpreadPoints, err = getEnvAsDecimal("SPREAD_POINTS", "0")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SPREAD_POINTS: %v", err))
	} else if cfg.SpreadPoints.IsNegative() {
		errs = append(errs, "SPREAD_POINTS cannot be negative")
	}

	cfg.AutoSaveEveryTicks = getEnvAsInt("AUTOSAVE_EVERY_TICKS", 50)
	if cfg.AutoSaveEveryTicks < 0 {
		errs = append(errs, "AUTOSAVE_EVERY_TICKS cannot be negative")
	}

	cfg.SessionPath = getEnv("SESSION_PATH", "./data/session.json")
	cfg.DBPath = getEnv("DB_PATH", "./data/klines.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	tickMillis := getEnvAsInt("TICK_INTERVAL_MS", 250)
	if tickMillis < 0 {
		errs = append(errs, "TICK_INTERVAL_MS cannot be negative")
	}
	cfg.TickInterval = time.Duration(tickMillis) * time.Millisecond

	cfg.StrictGaps = getEnvAsBool("STRICT_GAPS", true)
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimal(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
