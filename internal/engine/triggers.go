package engine

import (
	"github.com/shopspring/decimal"

	"marketReplay/internal/domain"
)

// Pending LIMIT/STOP orders are evaluated against the [low, high] range of
// the current bar and fill at the order's specified price. The intrabar
// path is unknowable, so touching the level anywhere in the range counts as
// a trigger. This is a documented conservative policy, not a simulation of
// tick-by-tick execution.

func orderTriggered(o *domain.Order, low, high decimal.Decimal) bool {
	switch o.Type {
	case domain.OrderTypeLimit:
		if o.Direction == domain.Long {
			return low.LessThanOrEqual(o.LimitPrice)
		}
		return high.GreaterThanOrEqual(o.LimitPrice)
	case domain.OrderTypeStop:
		if o.Direction == domain.Long {
			return high.GreaterThanOrEqual(o.StopPrice)
		}
		return low.LessThanOrEqual(o.StopPrice)
	default:
		return false
	}
}

func hitStopLoss(p *domain.Position, low, high decimal.Decimal) bool {
	if !p.HasStopLoss() {
		return false
	}
	if p.Direction == domain.Long {
		return low.LessThanOrEqual(p.StopLoss)
	}
	return high.GreaterThanOrEqual(p.StopLoss)
}

func hitTakeProfit(p *domain.Position, low, high decimal.Decimal) bool {
	if !p.HasTakeProfit() {
		return false
	}
	if p.Direction == domain.Long {
		return high.GreaterThanOrEqual(p.TakeProfit)
	}
	return low.LessThanOrEqual(p.TakeProfit)
}
