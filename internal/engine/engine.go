// Package engine simulates order lifecycle, position lifecycle and P&L
// against a replayed price tape.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketReplay/internal/domain"
	"marketReplay/internal/id"
	"marketReplay/internal/ports"
)

// Config holds the read-only simulation settings consumed by the engine.
// The engine never mutates these.
type Config struct {
	Logger             ports.Logger
	Bus                ports.EventBus
	StartingBalance    decimal.Decimal
	Leverage           int
	CommissionPerTrade decimal.Decimal
	SpreadPoints       decimal.Decimal
}

// Engine is the paper-trading position engine.
//
// It is single-writer by contract: all mutation happens inside tick
// processing (OnBarAdvance) or API calls issued from that same logical
// sequence. Concurrent mutation from multiple goroutines is disallowed;
// callers that need serialization hold their own lock around the engine.
type Engine struct {
	logger     ports.Logger
	bus        ports.EventBus
	starting   decimal.Decimal
	leverage   int
	commission decimal.Decimal
	spread     decimal.Decimal

	realized decimal.Decimal // cumulative net realized P&L across all symbols
	symbols  map[string]*symbolState
}

type symbolState struct {
	lastBar       *domain.Kline
	pendingOrders []*domain.Order
	openPositions []*domain.Position
	tradeHistory  []domain.Trade
}

// NewEngine creates a position engine. All collaborators are passed in
// explicitly; the engine holds no global state.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Logger == nil || cfg.Bus == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	if !cfg.StartingBalance.IsPositive() {
		return nil, fmt.Errorf("starting balance must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("leverage must be positive: %w", ports.ErrConfigurationError)
	}
	if cfg.CommissionPerTrade.IsNegative() || cfg.SpreadPoints.IsNegative() {
		return nil, fmt.Errorf("commission and spread points cannot be negative: %w", ports.ErrConfigurationError)
	}
	return &Engine{
		logger:     cfg.Logger,
		bus:        cfg.Bus,
		starting:   cfg.StartingBalance,
		leverage:   cfg.Leverage,
		commission: cfg.CommissionPerTrade,
		spread:     cfg.SpreadPoints,
		symbols:    make(map[string]*symbolState),
	}, nil
}

func (e *Engine) state(symbol string) *symbolState {
	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{}
		e.symbols[symbol] = st
	}
	return st
}

// Balance returns the starting balance plus all net realized P&L.
func (e *Engine) Balance() decimal.Decimal {
	return e.starting.Add(e.realized)
}

// UsedMargin returns the margin locked by all open positions
// (entry notional / leverage).
func (e *Engine) UsedMargin() decimal.Decimal {
	lev := decimal.NewFromInt(int64(e.leverage))
	used := decimal.Zero
	for _, st := range e.symbols {
		for _, p := range st.openPositions {
			used = used.Add(p.Notional().Div(lev))
		}
	}
	return used
}

// AvailableBalance returns the balance not locked as margin.
func (e *Engine) AvailableBalance() decimal.Decimal {
	return e.Balance().Sub(e.UsedMargin())
}

// Leverage returns the configured leverage multiplier.
func (e *Engine) Leverage() int { return e.leverage }

// StartingBalance returns the configured starting balance.
func (e *Engine) StartingBalance() decimal.Decimal { return e.starting }

// referencePrice returns the price used for margin and sanity checks at
// submit time. The actual MARKET fill price (the next bar's open) is
// unknowable when the order is submitted, so the last processed close
// stands in for it.
func (e *Engine) referencePrice(st *symbolState, order *domain.Order) (decimal.Decimal, error) {
	switch order.Type {
	case domain.OrderTypeLimit:
		if !order.LimitPrice.IsPositive() {
			return decimal.Zero, fmt.Errorf("limit order requires a positive limit price: %w", ports.ErrInvalidRequest)
		}
		return order.LimitPrice, nil
	case domain.OrderTypeStop:
		if !order.StopPrice.IsPositive() {
			return decimal.Zero, fmt.Errorf("stop order requires a positive stop price: %w", ports.ErrInvalidRequest)
		}
		return order.StopPrice, nil
	case domain.OrderTypeMarket:
		if st.lastBar == nil {
			return decimal.Zero, fmt.Errorf("no market price seen yet for market order: %w", ports.ErrInvalidRequest)
		}
		return st.lastBar.Close, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown order type %q: %w", order.Type, ports.ErrInvalidRequest)
	}
}

// validateProtectiveLevels checks that SL/TP sit on the correct side of the
// reference price for the direction. Zero values mean not set.
func validateProtectiveLevels(direction domain.Direction, ref, sl, tp decimal.Decimal) error {
	if !sl.IsZero() {
		if sl.IsNegative() {
			return fmt.Errorf("stop-loss cannot be negative: %w", ports.ErrInvalidModification)
		}
		if direction == domain.Long && sl.GreaterThanOrEqual(ref) {
			return fmt.Errorf("long stop-loss %s must be below price %s: %w", sl, ref, ports.ErrInvalidModification)
		}
		if direction == domain.Short && sl.LessThanOrEqual(ref) {
			return fmt.Errorf("short stop-loss %s must be above price %s: %w", sl, ref, ports.ErrInvalidModification)
		}
	}
	if !tp.IsZero() {
		if direction == domain.Long && tp.LessThanOrEqual(ref) {
			return fmt.Errorf("long take-profit %s must be above price %s: %w", tp, ref, ports.ErrInvalidModification)
		}
		if direction == domain.Short && tp.GreaterThanOrEqual(ref) {
			return fmt.Errorf("short take-profit %s must be below price %s: %w", tp, ref, ports.ErrInvalidModification)
		}
	}
	return nil
}

// SubmitOrder validates and queues an order.
//
// MARKET orders fill at the NEXT bar's open (look-ahead-free convention);
// LIMIT/STOP orders wait PENDING for their trigger. The order is rejected
// synchronously with no state change when validation or the margin check
// fails.
func (e *Engine) SubmitOrder(ctx context.Context, order *domain.Order) error {
	if order == nil || order.Symbol == "" {
		return fmt.Errorf("order and symbol are required: %w", ports.ErrInvalidRequest)
	}
	if !order.Size.IsPositive() {
		return fmt.Errorf("order size must be positive: %w", ports.ErrInvalidRequest)
	}
	if order.Direction != domain.Long && order.Direction != domain.Short {
		return fmt.Errorf("unknown order direction %q: %w", order.Direction, ports.ErrInvalidRequest)
	}

	st := e.state(order.Symbol)
	ref, err := e.referencePrice(st, order)
	if err != nil {
		return err
	}
	if err := validateProtectiveLevels(order.Direction, ref, order.StopLoss, order.TakeProfit); err != nil {
		return fmt.Errorf("order protective levels: %w", err)
	}

	required := ref.Mul(order.Size).Div(decimal.NewFromInt(int64(e.leverage)))
	if required.GreaterThan(e.AvailableBalance()) {
		return fmt.Errorf("required margin %s exceeds available %s: %w",
			required, e.AvailableBalance(), ports.ErrInsufficientMargin)
	}

	if order.ID == "" {
		order.ID = id.New()
	}
	order.State = domain.OrderStatePending
	st.pendingOrders = append(st.pendingOrders, order)

	e.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"orderID": order.ID, "symbol": order.Symbol, "type": string(order.Type),
		"direction": string(order.Direction), "size": order.Size.String(),
	})
	e.publishPendingOrders(ctx, order.Symbol)
	return nil
}

// CancelOrder cancels a PENDING order.
func (e *Engine) CancelOrder(ctx context.Context, symbol, orderID string) error {
	st := e.state(symbol)
	for i, o := range st.pendingOrders {
		if o.ID == orderID {
			o.State = domain.OrderStateCancelled
			st.pendingOrders = append(st.pendingOrders[:i:i], st.pendingOrders[i+1:]...)
			e.logger.Info(ctx, "Order cancelled", map[string]interface{}{"orderID": orderID, "symbol": symbol})
			e.publishPendingOrders(ctx, symbol)
			return nil
		}
	}
	return fmt.Errorf("pending order %s not found for %s: %w", orderID, symbol, ports.ErrNotFound)
}

// OnBarAdvance evaluates the engine state against the next replayed bar.
//
// Order of evaluation per tick:
//  1. queued MARKET orders fill at the bar's open;
//  2. PENDING LIMIT/STOP orders are trigger-checked against [low, high] and
//     fill at their specified price;
//  3. stop-loss/take-profit levels of positions that were open BEFORE this
//     bar are checked; positions opened by this bar's fills are first
//     evaluated on the next bar (the intrabar ordering of fill vs. touch is
//     unknowable);
//  4. unrealized P&L is recomputed from the bar's close and published.
//
// When both SL and TP are touched within the same bar, the stop-loss wins,
// deterministically.
func (e *Engine) OnBarAdvance(ctx context.Context, bar domain.Kline) error {
	st := e.state(bar.Symbol)

	preexisting := make([]*domain.Position, len(st.openPositions))
	copy(preexisting, st.openPositions)

	ordersChanged := false
	positionsChanged := false
	tradesChanged := false

	// Phase 1+2: fills.
	remaining := st.pendingOrders[:0]
	for _, o := range st.pendingOrders {
		var fillPrice decimal.Decimal
		filled := false

		switch o.Type {
		case domain.OrderTypeMarket:
			fillPrice = bar.Open
			filled = true
		default:
			if orderTriggered(o, bar.Low, bar.High) {
				fillPrice = o.TriggerPrice()
				filled = true
			}
		}

		if !filled {
			remaining = append(remaining, o)
			continue
		}

		o.State = domain.OrderStateFilled
		pos := &domain.Position{
			ID:         id.New(),
			Symbol:     o.Symbol,
			Direction:  o.Direction,
			EntryPrice: fillPrice,
			Size:       o.Size,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			OpenTime:   bar.OpenTime,
		}
		st.openPositions = append(st.openPositions, pos)
		ordersChanged = true
		positionsChanged = true

		e.logger.Info(ctx, "Order filled", map[string]interface{}{
			"orderID": o.ID, "positionID": pos.ID, "symbol": o.Symbol,
			"price": fillPrice.String(), "type": string(o.Type),
		})
	}
	st.pendingOrders = remaining

	// Phase 3: SL/TP on preexisting positions. SL checked before TP so a
	// same-bar double touch always resolves to the stop-loss.
	for _, p := range preexisting {
		if !e.isOpen(st, p.ID) {
			continue
		}
		switch {
		case hitStopLoss(p, bar.Low, bar.High):
			e.closeAt(ctx, st, p, p.StopLoss, bar.OpenTime, domain.CloseReasonStopLoss)
			positionsChanged = true
			tradesChanged = true
		case hitTakeProfit(p, bar.Low, bar.High):
			e.closeAt(ctx, st, p, p.TakeProfit, bar.OpenTime, domain.CloseReasonTakeProfit)
			positionsChanged = true
			tradesChanged = true
		}
	}

	barCopy := bar
	st.lastBar = &barCopy

	if ordersChanged {
		e.publishPendingOrders(ctx, bar.Symbol)
	}
	if positionsChanged {
		e.publishOpenPositions(ctx, bar.Symbol)
	}
	if tradesChanged {
		e.publishTradeHistory(ctx, bar.Symbol)
	}
	e.publishUnrealizedPnl(ctx, bar.Symbol)
	return nil
}

func (e *Engine) isOpen(st *symbolState, positionID string) bool {
	for _, p := range st.openPositions {
		if p.ID == positionID {
			return true
		}
	}
	return false
}

// ClosePosition closes an open position at the current bar's close
// (market-close semantics). SL/TP closes go through closeAt with their
// explicit level price instead.
func (e *Engine) ClosePosition(ctx context.Context, symbol, positionID string, reason domain.CloseReason) error {
	st := e.state(symbol)
	if st.lastBar == nil {
		return fmt.Errorf("no market price seen yet for %s: %w", symbol, ports.ErrInvalidRequest)
	}
	for _, p := range st.openPositions {
		if p.ID == positionID {
			if reason == "" {
				reason = domain.CloseReasonMarket
			}
			e.closeAt(ctx, st, p, st.lastBar.Close, st.lastBar.OpenTime, reason)
			e.publishOpenPositions(ctx, symbol)
			e.publishTradeHistory(ctx, symbol)
			e.publishUnrealizedPnl(ctx, symbol)
			return nil
		}
	}
	return fmt.Errorf("open position %s not found for %s: %w", positionID, symbol, ports.ErrNotFound)
}

// closeAt realizes a position at the given exit price. Removal from open
// positions and append to trade history happen in one step so a snapshot
// taken between ticks never sees the position duplicated or lost.
//
// Realized P&L = direction_sign * (exit - entry) * size - commission - spreadCost,
// with spreadCost = spreadPoints * size. Fills are recorded at raw prices
// and the spread is charged here exactly once.
func (e *Engine) closeAt(ctx context.Context, st *symbolState, p *domain.Position, exitPrice decimal.Decimal, exitTime time.Time, reason domain.CloseReason) {
	gross := p.Direction.Sign().Mul(exitPrice.Sub(p.EntryPrice)).Mul(p.Size)
	spreadCost := e.spread.Mul(p.Size)
	net := gross.Sub(e.commission).Sub(spreadCost)

	trade := domain.Trade{
		ID:         id.New(),
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Size:       p.Size,
		PNL:        net,
		Commission: e.commission,
		SpreadCost: spreadCost,
		EntryTime:  p.OpenTime,
		ExitTime:   exitTime,
		Reason:     reason,
	}

	for i, open := range st.openPositions {
		if open.ID == p.ID {
			st.openPositions = append(st.openPositions[:i:i], st.openPositions[i+1:]...)
			break
		}
	}
	st.tradeHistory = append(st.tradeHistory, trade)
	e.realized = e.realized.Add(net)

	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID": p.ID, "symbol": p.Symbol, "exit": exitPrice.String(),
		"pnl": net.String(), "reason": string(reason),
	})
}

// ModifyPosition replaces a position's protective levels after validating
// that they sit on the correct side of the current (or entry) price. On
// failure the position is left unchanged.
func (e *Engine) ModifyPosition(ctx context.Context, symbol, positionID string, newSL, newTP decimal.Decimal) error {
	st := e.state(symbol)
	for _, p := range st.openPositions {
		if p.ID != positionID {
			continue
		}
		ref := p.EntryPrice
		if st.lastBar != nil {
			ref = st.lastBar.Close
		}
		if err := validateProtectiveLevels(p.Direction, ref, newSL, newTP); err != nil {
			return err
		}
		p.StopLoss = newSL
		p.TakeProfit = newTP
		e.logger.Info(ctx, "Position modified", map[string]interface{}{
			"positionID": positionID, "symbol": symbol,
			"stopLoss": newSL.String(), "takeProfit": newTP.String(),
		})
		e.publishOpenPositions(ctx, symbol)
		return nil
	}
	return fmt.Errorf("open position %s not found for %s: %w", positionID, symbol, ports.ErrNotFound)
}

// --- Snapshots ---

// OpenPositions returns a value-copied snapshot of the open positions.
func (e *Engine) OpenPositions(symbol string) []domain.Position {
	st := e.state(symbol)
	out := make([]domain.Position, len(st.openPositions))
	for i, p := range st.openPositions {
		out[i] = *p
	}
	return out
}

// PendingOrders returns a value-copied snapshot of the pending orders.
func (e *Engine) PendingOrders(symbol string) []domain.Order {
	st := e.state(symbol)
	out := make([]domain.Order, len(st.pendingOrders))
	for i, o := range st.pendingOrders {
		out[i] = *o
	}
	return out
}

// TradeHistory returns a copied snapshot of the trade history.
func (e *Engine) TradeHistory(symbol string) []domain.Trade {
	st := e.state(symbol)
	out := make([]domain.Trade, len(st.tradeHistory))
	copy(out, st.tradeHistory)
	return out
}

// UnrealizedPnl recomputes per-position and aggregate unrealized P&L from
// the last seen bar's close. The sum of the per-position values equals the
// returned total.
func (e *Engine) UnrealizedPnl(symbol string) (map[string]decimal.Decimal, decimal.Decimal) {
	st := e.state(symbol)
	per := make(map[string]decimal.Decimal, len(st.openPositions))
	total := decimal.Zero
	if st.lastBar == nil {
		return per, total
	}
	for _, p := range st.openPositions {
		pnl := p.UnrealizedPnl(st.lastBar.Close)
		per[p.ID] = pnl
		total = total.Add(pnl)
	}
	return per, total
}

// Symbols lists all symbols the engine holds state for.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.symbols))
	for sym := range e.symbols {
		out = append(out, sym)
	}
	return out
}

// --- Session state ---

// ExportState snapshots one symbol's trading state for persistence.
// The replay cursor owns CurrentIndex; the caller fills it in.
func (e *Engine) ExportState(symbol string) domain.SymbolSessionState {
	return domain.SymbolSessionState{
		OpenPositions: e.OpenPositions(symbol),
		PendingOrders: e.PendingOrders(symbol),
		TradeHistory:  e.TradeHistory(symbol),
	}
}

// Restore replaces the engine's entire trading state from a persisted
// session. Realized P&L is rebuilt from the trade history so the balance
// reproduces the pre-save value exactly.
func (e *Engine) Restore(state *domain.ReplaySessionState) error {
	if state == nil {
		return fmt.Errorf("nil session state: %w", ports.ErrInvalidRequest)
	}
	if state.Leverage > 0 {
		e.leverage = state.Leverage
	}
	if state.StartingBalance.IsPositive() {
		e.starting = state.StartingBalance
	}

	e.symbols = make(map[string]*symbolState)
	e.realized = decimal.Zero
	for symbol, ss := range state.PerSymbol {
		st := e.state(symbol)
		st.openPositions = make([]*domain.Position, len(ss.OpenPositions))
		for i := range ss.OpenPositions {
			p := ss.OpenPositions[i]
			st.openPositions[i] = &p
		}
		st.pendingOrders = make([]*domain.Order, len(ss.PendingOrders))
		for i := range ss.PendingOrders {
			o := ss.PendingOrders[i]
			st.pendingOrders[i] = &o
		}
		st.tradeHistory = make([]domain.Trade, len(ss.TradeHistory))
		copy(st.tradeHistory, ss.TradeHistory)
		for _, t := range st.tradeHistory {
			e.realized = e.realized.Add(t.PNL)
		}
	}
	return nil
}

// --- Event publication ---

func (e *Engine) publishOpenPositions(ctx context.Context, symbol string) {
	e.bus.Publish(ctx, ports.OpenPositionsUpdated{Symbol: symbol, Positions: e.OpenPositions(symbol)})
}

func (e *Engine) publishPendingOrders(ctx context.Context, symbol string) {
	e.bus.Publish(ctx, ports.PendingOrdersUpdated{Symbol: symbol, Orders: e.PendingOrders(symbol)})
}

func (e *Engine) publishTradeHistory(ctx context.Context, symbol string) {
	e.bus.Publish(ctx, ports.TradeHistoryUpdated{Symbol: symbol, Trades: e.TradeHistory(symbol)})
}

func (e *Engine) publishUnrealizedPnl(ctx context.Context, symbol string) {
	per, total := e.UnrealizedPnl(symbol)
	e.bus.Publish(ctx, ports.UnrealizedPnlCalculated{Symbol: symbol, PerPosition: per, Total: total})
}
