// Package replay drives bar-by-bar playback of stored history.
package replay

import (
	"context"
	"fmt"

	"marketReplay/internal/domain"
	"marketReplay/internal/ports"
)

// Ticker consumes one replayed bar per step. Implemented by the position engine.
type Ticker interface {
	OnBarAdvance(ctx context.Context, bar domain.Kline) error
}

// Config holds the collaborators and settings of a replay cursor.
type Config struct {
	Store     ports.KlineStore
	Ticker    Ticker
	Bus       ports.EventBus
	Logger    ports.Logger
	Symbol    string
	Timeframe domain.Timeframe

	// AutoSaveEveryTicks triggers the AutoSave hook every N ticks.
	// Zero disables auto-save.
	AutoSaveEveryTicks int

	// AutoSave is invoked synchronously at the tick boundary; the
	// implementation snapshots state synchronously and may write it in the
	// background.
	AutoSave func(ctx context.Context)

	// StrictGaps halts the cursor with ErrDataGap when consecutive bars are
	// not exactly one timeframe duration apart. Suits 24/7 markets; disable
	// for data with scheduled market closures.
	StrictGaps bool
}

// Cursor is the per-symbol replay state machine.
//
// Like the engine it drives, the cursor is single-writer by contract: one
// external driver advances it, and every Step fully evaluates the engine
// tick and publishes events before the next advance is permitted.
// Cancellation is only observed at tick boundaries, never mid-tick.
type Cursor struct {
	cfg   Config
	state domain.ReplayState
	index int // index of the bar most recently processed
	total int
	ticks int // ticks since start, drives auto-save
}

// NewCursor creates a replay cursor in the STOPPED state.
func NewCursor(cfg Config) (*Cursor, error) {
	if cfg.Store == nil || cfg.Ticker == nil || cfg.Bus == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Cursor")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required: %w", ports.ErrConfigurationError)
	}
	if !cfg.Timeframe.IsValid() {
		return nil, fmt.Errorf("invalid timeframe %q: %w", cfg.Timeframe, ports.ErrConfigurationError)
	}
	if cfg.AutoSaveEveryTicks < 0 {
		return nil, fmt.Errorf("auto-save interval cannot be negative: %w", ports.ErrConfigurationError)
	}
	return &Cursor{cfg: cfg, state: domain.ReplayStopped, index: -1}, nil
}

// State returns the cursor's current replay state.
func (c *Cursor) State() domain.ReplayState { return c.state }

// CurrentIndex returns the index of the most recently processed bar,
// or -1 before the first step.
func (c *Cursor) CurrentIndex() int { return c.index }

// TotalBars returns the bar count captured at Start.
func (c *Cursor) TotalBars() int { return c.total }

// Start positions the cursor at startIndex and transitions to PLAYING.
// The bar at startIndex is treated as already consumed; the first Step
// processes startIndex+1. A negative startIndex begins at the first bar.
func (c *Cursor) Start(ctx context.Context, startIndex int) error {
	if c.state == domain.ReplayPlaying {
		return fmt.Errorf("cursor already playing: %w", ports.ErrInvalidReplayState)
	}

	total, err := c.cfg.Store.TotalCount(ctx, c.cfg.Symbol, c.cfg.Timeframe)
	if err != nil {
		return fmt.Errorf("failed to count bars for %s %s: %w", c.cfg.Symbol, c.cfg.Timeframe, err)
	}
	if total == 0 {
		return fmt.Errorf("no data for %s %s: %w", c.cfg.Symbol, c.cfg.Timeframe, ports.ErrDataSourceUnavailable)
	}
	if startIndex >= total {
		return fmt.Errorf("start index %d beyond last bar %d: %w", startIndex, total-1, ports.ErrInvalidRequest)
	}
	if startIndex < -1 {
		startIndex = -1
	}

	c.total = total
	c.index = startIndex
	c.ticks = 0
	c.setState(ctx, domain.ReplayPlaying)
	c.cfg.Logger.Info(ctx, "Replay started", map[string]interface{}{
		"symbol": c.cfg.Symbol, "timeframe": string(c.cfg.Timeframe),
		"startIndex": startIndex, "totalBars": total,
	})
	return nil
}

// Pause transitions PLAYING -> PAUSED.
func (c *Cursor) Pause(ctx context.Context) error {
	if c.state != domain.ReplayPlaying {
		return fmt.Errorf("cannot pause from %s: %w", c.state, ports.ErrInvalidReplayState)
	}
	c.setState(ctx, domain.ReplayPaused)
	return nil
}

// Resume transitions PAUSED -> PLAYING.
func (c *Cursor) Resume(ctx context.Context) error {
	if c.state != domain.ReplayPaused {
		return fmt.Errorf("cannot resume from %s: %w", c.state, ports.ErrInvalidReplayState)
	}
	c.setState(ctx, domain.ReplayPlaying)
	return nil
}

// Stop halts all ticking immediately from any state.
func (c *Cursor) Stop(ctx context.Context) {
	c.setState(ctx, domain.ReplayStopped)
}

// Step advances the cursor by one bar: it fetches the next bar, runs the
// engine tick on it, publishes the new current bar, and only then allows
// any further advance. Stepping is allowed while PLAYING or PAUSED (manual
// single-step). When no further bars exist the cursor transitions to AT_END.
//
// A missing expected bar halts the cursor with ErrDataGap; the session
// remains resumable from the last successfully processed tick.
func (c *Cursor) Step(ctx context.Context) error {
	if c.state != domain.ReplayPlaying && c.state != domain.ReplayPaused {
		return fmt.Errorf("cannot step from %s: %w", c.state, ports.ErrInvalidReplayState)
	}

	next := c.index + 1
	if next >= c.total {
		c.setState(ctx, domain.ReplayAtEnd)
		return nil
	}

	bar, err := c.cfg.Store.KlineAt(ctx, c.cfg.Symbol, c.cfg.Timeframe, next)
	if err != nil {
		c.setState(ctx, domain.ReplayPaused)
		return fmt.Errorf("failed to fetch bar %d: %w: %w", next, ports.ErrDataGap, err)
	}

	if c.cfg.StrictGaps && c.index >= 0 {
		prev, err := c.cfg.Store.KlineAt(ctx, c.cfg.Symbol, c.cfg.Timeframe, c.index)
		if err == nil {
			expected := prev.OpenTime.Add(c.cfg.Timeframe.Duration())
			if !bar.OpenTime.Equal(expected) {
				c.setState(ctx, domain.ReplayPaused)
				return fmt.Errorf("bar at %s, expected %s: %w", bar.OpenTime, expected, ports.ErrDataGap)
			}
		}
	}

	// Engine tick runs synchronously before any further advance.
	if err := c.cfg.Ticker.OnBarAdvance(ctx, bar); err != nil {
		c.setState(ctx, domain.ReplayPaused)
		return fmt.Errorf("tick evaluation failed at bar %d: %w", next, err)
	}

	c.index = next
	c.ticks++
	c.cfg.Bus.Publish(ctx, ports.BarAdvanced{Bar: bar, Index: next})

	if c.cfg.AutoSaveEveryTicks > 0 && c.cfg.AutoSave != nil && c.ticks%c.cfg.AutoSaveEveryTicks == 0 {
		c.cfg.AutoSave(ctx)
	}

	if next == c.total-1 {
		c.setState(ctx, domain.ReplayAtEnd)
	}
	return nil
}

func (c *Cursor) setState(ctx context.Context, s domain.ReplayState) {
	if c.state == s {
		return
	}
	c.state = s
	c.cfg.Bus.Publish(ctx, ports.ReplayStateChanged{Symbol: c.cfg.Symbol, State: s, Index: c.index})
}
