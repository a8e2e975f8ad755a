package domain

import "github.com/shopspring/decimal"

// OrderType represents how an order is priced and triggered.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// Direction represents the side of an order or position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT as a decimal factor for P&L math.
func (d Direction) Sign() decimal.Decimal {
	if d == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderState represents the lifecycle state of an order.
type OrderState string

const (
	OrderStatePending   OrderState = "PENDING"
	OrderStateFilled    OrderState = "FILLED"
	OrderStateCancelled OrderState = "CANCELLED"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonMarket     CloseReason = "Market" // Manual or driver-initiated market close
	CloseReasonSessionEnd CloseReason = "SESSION_END"
	CloseReasonUnknown    CloseReason = "Unknown"
)

// ReplayState represents the state of the replay cursor.
type ReplayState string

const (
	ReplayStopped ReplayState = "STOPPED"
	ReplayPlaying ReplayState = "PLAYING"
	ReplayPaused  ReplayState = "PAUSED"
	ReplayAtEnd   ReplayState = "AT_END"
)
