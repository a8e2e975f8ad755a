package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"marketReplay/internal/domain"
)

// Topic identifies a class of notification events.
type Topic string

const (
	TopicOpenPositionsUpdated    Topic = "openPositionsUpdated"
	TopicPendingOrdersUpdated    Topic = "pendingOrdersUpdated"
	TopicTradeHistoryUpdated     Topic = "tradeHistoryUpdated"
	TopicUnrealizedPnlCalculated Topic = "unrealizedPnlCalculated"
	TopicBarAdvanced             Topic = "barAdvanced"
	TopicReplayStateChanged      Topic = "replayStateChanged"
)

// Event is a state-change notification. Every event carries an immutable
// snapshot of the state it describes, never a live mutable reference.
type Event interface {
	Topic() Topic
}

// EventHandler consumes events for one topic. Handlers run synchronously on
// the publisher's goroutine; they must not call back into the engine.
type EventHandler func(ctx context.Context, event Event)

// EventBus is a synchronous publish/subscribe channel propagating
// state-change snapshots to external consumers (UI, analytics, tests).
type EventBus interface {
	// Subscribe registers a handler for a topic and returns an unsubscribe func.
	Subscribe(topic Topic, handler EventHandler) (unsubscribe func())
	// Publish delivers the event to all handlers of its topic, in
	// subscription order, before returning.
	Publish(ctx context.Context, event Event)
}

// OpenPositionsUpdated carries a snapshot of all open positions for a symbol.
type OpenPositionsUpdated struct {
	Symbol    string
	Positions []domain.Position
}

func (OpenPositionsUpdated) Topic() Topic { return TopicOpenPositionsUpdated }

// PendingOrdersUpdated carries a snapshot of all pending orders for a symbol.
type PendingOrdersUpdated struct {
	Symbol string
	Orders []domain.Order
}

func (PendingOrdersUpdated) Topic() Topic { return TopicPendingOrdersUpdated }

// TradeHistoryUpdated carries a snapshot of the full trade history for a symbol.
type TradeHistoryUpdated struct {
	Symbol string
	Trades []domain.Trade
}

func (TradeHistoryUpdated) Topic() Topic { return TopicTradeHistoryUpdated }

// UnrealizedPnlCalculated carries per-position and aggregate unrealized P&L
// recomputed from the current bar's close. The sum of PerPosition values
// always equals Total.
type UnrealizedPnlCalculated struct {
	Symbol      string
	PerPosition map[string]decimal.Decimal
	Total       decimal.Decimal
}

func (UnrealizedPnlCalculated) Topic() Topic { return TopicUnrealizedPnlCalculated }

// BarAdvanced is published after the cursor steps to a new bar and the
// engine has finished evaluating it.
type BarAdvanced struct {
	Bar   domain.Kline
	Index int
}

func (BarAdvanced) Topic() Topic { return TopicBarAdvanced }

// ReplayStateChanged is published on every cursor state transition.
type ReplayStateChanged struct {
	Symbol string
	State  domain.ReplayState
	Index  int
}

func (ReplayStateChanged) Topic() Topic { return TopicReplayStateChanged }
