package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a simulated order submitted to the position engine.
// MARKET orders carry no price and fill at the next bar's open. LIMIT and
// STOP orders wait PENDING until their trigger price is touched.
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Type      OrderType       `json:"type"`
	Direction Direction       `json:"direction"`
	Size      decimal.Decimal `json:"size"`

	// LimitPrice is set for LIMIT orders, StopPrice for STOP orders.
	// A zero value means not set.
	LimitPrice decimal.Decimal `json:"limitPrice"`
	StopPrice  decimal.Decimal `json:"stopPrice"`

	// Optional protective levels attached to the position created on fill.
	// A zero value means not set.
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`

	State       OrderState `json:"state"`
	SubmittedAt time.Time  `json:"submittedAt"`
}

// TriggerPrice returns the price a PENDING order fills at once touched.
func (o *Order) TriggerPrice() decimal.Decimal {
	if o.Type == OrderTypeStop {
		return o.StopPrice
	}
	return o.LimitPrice
}
