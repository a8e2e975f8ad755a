package domain

import (
	"fmt"
	"time"
)

// Timeframe is a named bucket duration used for aggregation (e.g., "1m", "1h").
// The set of timeframes is a fixed enumeration; each maps to an exact duration.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// Timeframes lists all supported timeframes in ascending duration order.
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe4h, Timeframe1d,
}

// Duration returns the fixed bucket duration of the timeframe.
// Returns 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// IsValid reports whether the timeframe is part of the enumeration.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// ParseTimeframe converts a string like "1m" or "4h" into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.IsValid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// BucketStart returns the UTC floor-aligned start of the bucket containing t.
func (tf Timeframe) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}
