package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"marketReplay/config"
	"marketReplay/internal/domain"
	"marketReplay/internal/engine"
	"marketReplay/internal/ports"
	"marketReplay/internal/replay"
	"marketReplay/internal/resample"
)

// ReplayService orchestrates a replay session: it owns the cursor, the
// position engine, session persistence and the notification bus wiring.
//
// All mutation funnels through the service mutex, enforcing the
// single-writer model: ticks, order submission and session saves never
// interleave. Long-running I/O (bulk loads, resampling) happens outside the
// lock and results are only applied at the next sequencing point.
type ReplayService struct {
	cfg      *config.Config
	logger   ports.Logger
	store    ports.KlineStore
	sessions ports.SessionStore
	bus      ports.EventBus
	engine   *engine.Engine
	cursor   *replay.Cursor

	mu     sync.Mutex
	saveWG sync.WaitGroup
}

// NewReplayService creates a new replay service instance.
func NewReplayService(
	cfg *config.Config,
	logger ports.Logger,
	store ports.KlineStore,
	sessions ports.SessionStore,
	bus ports.EventBus,
) (*ReplayService, error) {

	// Validate dependencies
	if cfg == nil || logger == nil || store == nil || sessions == nil || bus == nil {
		return nil, fmt.Errorf("missing required dependencies for ReplayService")
	}

	eng, err := engine.NewEngine(engine.Config{
		Logger:             logger,
		Bus:                bus,
		StartingBalance:    cfg.StartingBalance,
		Leverage:           cfg.Leverage,
		CommissionPerTrade: cfg.CommissionPerTrade,
		SpreadPoints:       cfg.SpreadPoints,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create position engine: %w", err)
	}

	s := &ReplayService{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		sessions: sessions,
		bus:      bus,
		engine:   eng,
	}

	cursor, err := replay.NewCursor(replay.Config{
		Store:              store,
		Ticker:             eng,
		Bus:                bus,
		Logger:             logger,
		Symbol:             cfg.Symbol,
		Timeframe:          cfg.BaseTimeframe,
		AutoSaveEveryTicks: cfg.AutoSaveEveryTicks,
		AutoSave:           s.autoSave,
		StrictGaps:         cfg.StrictGaps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create replay cursor: %w", err)
	}
	s.cursor = cursor

	return s, nil
}

// Engine exposes the position engine for drivers and tests.
func (s *ReplayService) Engine() *engine.Engine { return s.engine }

// Cursor exposes the replay cursor for drivers and tests.
func (s *ReplayService) Cursor() *replay.Cursor { return s.cursor }

// Start prepares the session and begins playback. When a persisted session
// exists and is readable it is restored and playback resumes from the saved
// index; a corrupt or version-mismatched file falls back to a fresh session.
func (s *ReplayService) Start(ctx context.Context, startIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored, err := s.restoreLocked(ctx)
	if err != nil {
		return err
	}
	if restored >= 0 {
		startIndex = restored
	}
	return s.cursor.Start(ctx, startIndex)
}

// restoreLocked loads a saved session into the engine. Returns the saved
// current index for the configured symbol, or -1 when starting fresh.
func (s *ReplayService) restoreLocked(ctx context.Context) (int, error) {
	state, err := s.sessions.Load(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			s.logger.Info(ctx, "No saved session, starting fresh")
			return -1, nil
		}
		if errors.Is(err, ports.ErrSerialization) {
			s.logger.Warn(ctx, "Saved session unreadable, starting fresh", map[string]interface{}{"error": err.Error()})
			return -1, nil
		}
		return -1, fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.engine.Restore(state); err != nil {
		return -1, fmt.Errorf("failed to restore engine state: %w", err)
	}
	s.logger.Info(ctx, "Session restored", map[string]interface{}{
		"symbols": len(state.PerSymbol), "lastActiveSymbol": state.LastActiveSymbol,
	})

	if ss, ok := state.PerSymbol[s.cfg.Symbol]; ok {
		return ss.CurrentIndex, nil
	}
	return -1, nil
}

// Run drives the session until the tape ends or the context is cancelled.
// It installs signal handling, restores any saved session, then ticks at
// the configured interval while the cursor is PLAYING. The session is saved
// synchronously on the way out.
func (s *ReplayService) Run(ctx context.Context, startIndex int) error {
	s.logger.Info(ctx, "Starting Replay Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.Start(ctx, startIndex); err != nil {
		return fmt.Errorf("failed to start replay session: %w", err)
	}

	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			// Cancellation is only honored at tick boundaries.
			break loop
		case <-ticker.C:
			s.mu.Lock()
			state := s.cursor.State()
			if state == domain.ReplayAtEnd || state == domain.ReplayStopped {
				s.mu.Unlock()
				break loop
			}
			if state != domain.ReplayPlaying {
				s.mu.Unlock()
				continue
			}
			err := s.cursor.Step(ctx)
			s.mu.Unlock()
			if err != nil {
				if errors.Is(err, ports.ErrDataGap) {
					s.logger.Error(ctx, err, "Replay halted on data gap; session remains resumable")
					break loop
				}
				return fmt.Errorf("replay tick failed: %w", err)
			}
		}
	}

	if err := s.SaveSession(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error(ctx, err, "Failed to save session on shutdown")
	}
	s.saveWG.Wait()
	s.logger.Info(ctx, "Replay Service stopped", map[string]interface{}{
		"index": s.cursor.CurrentIndex(), "state": string(s.cursor.State()),
	})
	return nil
}

// Pause pauses playback at the current tick boundary.
func (s *ReplayService) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Pause(ctx)
}

// Resume resumes playback.
func (s *ReplayService) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Resume(ctx)
}

// StepOnce advances exactly one bar (manual single-step while paused).
func (s *ReplayService) StepOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor.Step(ctx)
}

// SubmitOrder forwards an order to the engine on the service's write path.
func (s *ReplayService) SubmitOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SubmitOrder(ctx, order)
}

// ClosePosition closes an open position at the current bar's close.
func (s *ReplayService) ClosePosition(ctx context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ClosePosition(ctx, s.cfg.Symbol, positionID, domain.CloseReasonMarket)
}

// ModifyPosition updates a position's protective levels.
func (s *ReplayService) ModifyPosition(ctx context.Context, positionID string, newSL, newTP decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ModifyPosition(ctx, s.cfg.Symbol, positionID, newSL, newTP)
}

// snapshotLocked assembles the persistable session document from the
// engine and cursor. Callers hold the service mutex, so the snapshot is
// consistent with a tick boundary.
func (s *ReplayService) snapshotLocked() *domain.ReplaySessionState {
	state := &domain.ReplaySessionState{
		FormatVersion:    domain.SessionFormatVersion,
		StartingBalance:  s.engine.StartingBalance(),
		Leverage:         s.engine.Leverage(),
		PerSymbol:        make(map[string]domain.SymbolSessionState),
		LastActiveSymbol: s.cfg.Symbol,
	}
	for _, symbol := range s.engine.Symbols() {
		ss := s.engine.ExportState(symbol)
		if symbol == s.cfg.Symbol {
			ss.CurrentIndex = s.cursor.CurrentIndex()
		}
		state.PerSymbol[symbol] = ss
	}
	// A session saved before any order activity still records the cursor.
	if _, ok := state.PerSymbol[s.cfg.Symbol]; !ok {
		state.PerSymbol[s.cfg.Symbol] = domain.SymbolSessionState{
			CurrentIndex:  s.cursor.CurrentIndex(),
			OpenPositions: []domain.Position{},
			PendingOrders: []domain.Order{},
			TradeHistory:  []domain.Trade{},
		}
	}
	return state
}

// autoSave is invoked by the cursor at tick boundaries. The snapshot is
// taken synchronously (so a concurrent Step cannot produce a torn state)
// and the write happens on a background goroutine, fire-and-forget.
func (s *ReplayService) autoSave(ctx context.Context) {
	state := s.snapshotLocked()
	s.saveWG.Add(1)
	go func() {
		defer s.saveWG.Done()
		if err := s.sessions.Save(context.WithoutCancel(ctx), state); err != nil {
			s.logger.Error(ctx, err, "Auto-save failed")
			return
		}
		s.logger.Debug(ctx, "Auto-save completed", map[string]interface{}{"index": state.PerSymbol[s.cfg.Symbol].CurrentIndex})
	}()
}

// SaveSession synchronously persists the current session state.
func (s *ReplayService) SaveSession(ctx context.Context) error {
	s.mu.Lock()
	state := s.snapshotLocked()
	s.mu.Unlock()
	return s.sessions.Save(ctx, state)
}

// ResampledView loads the base bars replayed so far and aggregates them into
// the target timeframe, including the forming partial bucket. The bulk range
// load runs off the tick path; callers apply the result at their own pace.
func (s *ReplayService) ResampledView(ctx context.Context, target domain.Timeframe) ([]domain.Kline, error) {
	s.mu.Lock()
	index := s.cursor.CurrentIndex()
	s.mu.Unlock()

	if index < 0 {
		return nil, nil
	}

	first, _, err := s.store.DataRange(ctx, s.cfg.Symbol, s.cfg.BaseTimeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to determine data range: %w", err)
	}
	current, err := s.store.KlineAt(ctx, s.cfg.Symbol, s.cfg.BaseTimeframe, index)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current bar: %w", err)
	}

	base, err := s.store.GetRange(ctx, s.cfg.Symbol, s.cfg.BaseTimeframe, first, current.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("failed to load base bars: %w", err)
	}
	return resample.Resample(base, target)
}
