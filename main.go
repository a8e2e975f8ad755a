package main

import (
	"context"
	"log"

	"marketReplay/config"
	"marketReplay/internal/adapters/logger"
	"marketReplay/internal/adapters/session"
	"marketReplay/internal/adapters/sqlite"
	"marketReplay/internal/app"
	"marketReplay/internal/notify"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Kline Store (SQLite Adapter)
	store, err := sqlite.NewStore(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to open kline store")
		log.Fatalf("FATAL: Failed to open kline store: %v", err)
	}
	defer store.Close()

	// 4. Initialize Session Store
	sessions, err := session.NewStore(session.Config{Path: cfg.SessionPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to create session store")
		log.Fatalf("FATAL: Failed to create session store: %v", err)
	}

	// 5. Initialize Notification Bus
	bus := notify.NewBus(appLogger)

	// 6. Create and run the replay service
	service, err := app.NewReplayService(cfg, appLogger, store, sessions, bus)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to create replay service")
		log.Fatalf("FATAL: Failed to create replay service: %v", err)
	}

	if err := service.Run(context.Background(), -1); err != nil {
		appLogger.Error(context.Background(), err, "Replay service exited with error")
		log.Fatalf("Replay service exited with error: %v", err)
	}
}
