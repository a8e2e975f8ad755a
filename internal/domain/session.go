package domain

import "github.com/shopspring/decimal"

// SessionFormatVersion is the current version of the persisted session file.
// Loaders must reject any other version.
const SessionFormatVersion = 1

// SymbolSessionState holds the replay and trading state for one symbol.
type SymbolSessionState struct {
	CurrentIndex  int        `json:"currentIndex"`
	OpenPositions []Position `json:"openPositions"`
	PendingOrders []Order    `json:"pendingOrders"`
	TradeHistory  []Trade    `json:"tradeHistory"`
}

// ReplaySessionState is the full persistable state of a replay session.
// It must round-trip losslessly: reloading reproduces an identical
// simulation state to before the save.
type ReplaySessionState struct {
	FormatVersion    int                           `json:"formatVersion"`
	StartingBalance  decimal.Decimal               `json:"startingBalance"`
	Leverage         int                           `json:"leverage"`
	PerSymbol        map[string]SymbolSessionState `json:"perSymbolState"`
	LastActiveSymbol string                        `json:"lastActiveSymbol"`
}
