package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents an open simulated position. Positions are owned
// exclusively by the position engine and mutated only through its API.
type Position struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Size       decimal.Decimal `json:"size"`

	// Protective levels. A zero value means not set.
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`

	OpenTime time.Time `json:"openTime"`
}

// HasStopLoss reports whether a stop-loss level is set.
func (p *Position) HasStopLoss() bool { return !p.StopLoss.IsZero() }

// HasTakeProfit reports whether a take-profit level is set.
func (p *Position) HasTakeProfit() bool { return !p.TakeProfit.IsZero() }

// UnrealizedPnl computes the mark-to-market P&L of the position at price.
func (p *Position) UnrealizedPnl(price decimal.Decimal) decimal.Decimal {
	return p.Direction.Sign().Mul(price.Sub(p.EntryPrice)).Mul(p.Size)
}

// Notional returns the position's entry notional value.
func (p *Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Size)
}
