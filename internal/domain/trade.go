package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable archival record produced when a position closes.
// PNL is net of commission and spread cost.
type Trade struct {
	ID         string          `json:"id"`
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	Size       decimal.Decimal `json:"size"`
	PNL        decimal.Decimal `json:"pnl"`
	Commission decimal.Decimal `json:"commission"`
	SpreadCost decimal.Decimal `json:"spreadCost"`
	EntryTime  time.Time       `json:"entryTime"`
	ExitTime   time.Time       `json:"exitTime"`
	Reason     CloseReason     `json:"reason"`

	// Populated by external journaling tools, carried through persistence.
	Tags  []string `json:"tags,omitempty"`
	Notes string   `json:"notes,omitempty"`
}
