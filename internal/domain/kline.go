package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline represents a single immutable candlestick for one symbol, timeframe
// and time bucket. Bars for a given symbol+timeframe are strictly ordered,
// non-overlapping and unique by OpenTime.
type Kline struct {
	OpenTime  time.Time       `json:"openTime"`  // Start of the bucket (UTC, floor-aligned)
	Symbol    string          `json:"symbol"`    // Trading symbol
	Timeframe Timeframe       `json:"timeframe"` // Bucket duration
	Open      decimal.Decimal `json:"open"`      // Opening price
	High      decimal.Decimal `json:"high"`      // Highest price
	Low       decimal.Decimal `json:"low"`       // Lowest price
	Close     decimal.Decimal `json:"close"`     // Closing price
	Volume    decimal.Decimal `json:"volume"`    // Traded volume
}

// CloseTime returns the exclusive end of the bar's bucket.
func (k Kline) CloseTime() time.Time {
	return k.OpenTime.Add(k.Timeframe.Duration())
}
