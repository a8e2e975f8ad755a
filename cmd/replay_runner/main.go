// Headless replay session driver. Plays the configured symbol's history
// bar by bar, optionally submitting a scripted market order, and prints the
// session summary at the end. Useful for smoke-testing data and settings
// without a UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"marketReplay/config"
	"marketReplay/internal/adapters/logger"
	"marketReplay/internal/adapters/session"
	"marketReplay/internal/adapters/sqlite"
	"marketReplay/internal/app"
	"marketReplay/internal/domain"
	"marketReplay/internal/notify"
	"marketReplay/internal/ports"
	"marketReplay/internal/utils"
)

func main() {
	startAt := flag.String("start", "", "RFC3339 timestamp to start replay from (default: beginning of data)")
	orderSize := flag.String("order-size", "", "submit a scripted market LONG of this size after the first bar")
	tradesCSV := flag.String("trades-csv", "", "export trade history to this CSV file at the end")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	store, err := sqlite.NewStore(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open kline store: %v", err)
	}
	defer store.Close()

	sessions, err := session.NewStore(session.Config{Path: cfg.SessionPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to create session store: %v", err)
	}

	bus := notify.NewBus(appLogger)
	bus.Subscribe(ports.TopicTradeHistoryUpdated, func(ctx context.Context, event ports.Event) {
		e := event.(ports.TradeHistoryUpdated)
		last := e.Trades[len(e.Trades)-1]
		fmt.Printf("trade closed: %s %s entry=%s exit=%s pnl=%s (%s)\n",
			last.Symbol, last.Direction, last.EntryPrice, last.ExitPrice, last.PNL, last.Reason)
	})

	service, err := app.NewReplayService(cfg, appLogger, store, sessions, bus)
	if err != nil {
		log.Fatalf("FATAL: Failed to create replay service: %v", err)
	}

	startIndex := -1
	if *startAt != "" {
		t, err := time.Parse(time.RFC3339, *startAt)
		if err != nil {
			log.Fatalf("FATAL: invalid -start value: %v", err)
		}
		idx, err := store.FindClosestIndex(ctx, cfg.Symbol, cfg.BaseTimeframe, t)
		if err != nil {
			log.Fatalf("FATAL: failed to resolve start index: %v", err)
		}
		startIndex = idx
	}

	if *orderSize != "" {
		size, err := decimal.NewFromString(*orderSize)
		if err != nil {
			log.Fatalf("FATAL: invalid -order-size value: %v", err)
		}
		var unsubscribe func()
		unsubscribe = bus.Subscribe(ports.TopicBarAdvanced, func(ctx context.Context, event ports.Event) {
			unsubscribe()
			// Submitted from the tick path, fills at the next bar's open.
			err := service.Engine().SubmitOrder(ctx, &domain.Order{
				Symbol:      cfg.Symbol,
				Type:        domain.OrderTypeMarket,
				Direction:   domain.Long,
				Size:        size,
				SubmittedAt: time.Now().UTC(),
			})
			if err != nil {
				appLogger.Error(ctx, err, "Scripted order rejected")
			}
		})
	}

	if err := service.Run(ctx, startIndex); err != nil {
		log.Fatalf("Replay run failed: %v", err)
	}

	eng := service.Engine()
	fmt.Printf("replay finished at index %d/%d\n", service.Cursor().CurrentIndex(), service.Cursor().TotalBars())
	fmt.Printf("balance=%s available=%s openPositions=%d trades=%d\n",
		eng.Balance(), eng.AvailableBalance(), len(eng.OpenPositions(cfg.Symbol)), len(eng.TradeHistory(cfg.Symbol)))

	if *tradesCSV != "" {
		if err := utils.WriteTradesToCSV(eng.TradeHistory(cfg.Symbol), *tradesCSV); err != nil {
			log.Fatalf("Failed to export trades CSV: %v", err)
		}
		fmt.Printf("trade history exported to %s\n", *tradesCSV)
	}
}
