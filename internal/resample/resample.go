// Package resample aggregates base-timeframe bars into higher timeframes.
package resample

import (
	"fmt"

	"marketReplay/internal/domain"
	"marketReplay/internal/ports"
)

// Resample aggregates ordered base bars into the target timeframe.
//
// The function is pure and restartable: no hidden state, same input always
// yields the same output. Buckets are UTC floor-aligned
// (bucketStart = floor(ts/duration)*duration). A bucket with no contributing
// bars produces no output bar; gaps are never synthetically filled. The
// trailing, not-yet-closed bucket IS emitted from the bars seen so far, so a
// progressive replay display can show the forming candle.
//
// Aggregation invariants: open = first constituent's open, close = last
// constituent's close, high = max, low = min, volume = sum.
func Resample(base []domain.Kline, target domain.Timeframe) ([]domain.Kline, error) {
	if !target.IsValid() {
		return nil, fmt.Errorf("resample: invalid target timeframe %q: %w", target, ports.ErrInvalidRequest)
	}
	if len(base) == 0 {
		return nil, nil
	}
	baseTF := base[0].Timeframe
	if target.Duration() <= baseTF.Duration() {
		return nil, fmt.Errorf("resample: target %s must be coarser than base %s: %w", target, baseTF, ports.ErrInvalidRequest)
	}

	out := make([]domain.Kline, 0, len(base)/int(target.Duration()/baseTF.Duration())+1)
	var cur *domain.Kline

	for i := range base {
		b := base[i]
		bucket := target.BucketStart(b.OpenTime)

		if cur == nil || !cur.OpenTime.Equal(bucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &domain.Kline{
				OpenTime:  bucket,
				Symbol:    b.Symbol,
				Timeframe: target,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
			continue
		}

		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume = cur.Volume.Add(b.Volume)
	}

	if cur != nil {
		out = append(out, *cur)
	}
	return out, nil
}
