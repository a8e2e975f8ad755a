package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Replay / Simulation Errors
	ErrDataSourceUnavailable = errors.New("backing time-series store missing or unreadable")
	ErrDataGap               = errors.New("expected bar missing mid-replay")
	ErrInsufficientMargin    = errors.New("required margin exceeds available balance")
	ErrInvalidModification   = errors.New("stop-loss/take-profit level on wrong side of price")
	ErrSerialization         = errors.New("corrupt or unsupported session file")
	ErrInvalidReplayState    = errors.New("operation not allowed in current replay state")

	// Data Source Errors
	ErrExchangeUnavailable = errors.New("exchange API is unavailable")
	ErrConnectionFailed    = errors.New("failed to connect to the data source")
	ErrRateLimited         = errors.New("API rate limit exceeded")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
)
