package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"marketReplay/config"
	"marketReplay/internal/adapters/binanceclient"
	"marketReplay/internal/adapters/logger"
	"marketReplay/internal/adapters/sqlite"
	"marketReplay/internal/utils"
)

func main() {
	months := flag.Int("months", 3, "how many months of history to fetch")
	csvPath := flag.String("csv", "", "optionally also export the fetched bars to this CSV file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Binance data source
	binanceClient, err := binanceclient.New(binanceclient.Config{
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 4. Initialize Kline Store
	store, err := sqlite.NewStore(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open kline store: %v", err)
	}
	defer store.Close()

	symbol := cfg.Symbol
	tf := cfg.BaseTimeframe
	end := time.Now().UTC()
	start := end.AddDate(0, -*months, 0)

	fmt.Printf("Fetching %s %s klines from %s to %s...\n", symbol, tf, start, end)
	klines, err := binanceClient.GetKlinesRange(context.Background(), symbol, tf, start, end)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(context.Background(), "Fetched klines", map[string]interface{}{"count": len(klines)})

	if err := store.InsertKlines(context.Background(), symbol, tf, klines); err != nil {
		appLogger.Error(context.Background(), err, "Error storing klines")
		log.Fatalf("Error storing klines: %v", err)
	}

	total, err := store.TotalCount(context.Background(), symbol, tf)
	if err != nil {
		log.Fatalf("Error counting stored klines: %v", err)
	}
	appLogger.Info(context.Background(), "Store updated", map[string]interface{}{"symbol": symbol, "timeframe": string(tf), "totalBars": total})

	if *csvPath != "" {
		if err := utils.WriteKlinesToCSV(klines, *csvPath); err != nil {
			appLogger.Error(context.Background(), err, "Error writing CSV")
			log.Fatalf("Error writing CSV: %v", err)
		}
		appLogger.Info(context.Background(), "Saved CSV export", map[string]interface{}{"filename": *csvPath})
	}
}
