package utils

import (
	"encoding/csv"
	"os"
	"time"

	"marketReplay/internal/domain"
)

// WriteKlinesToCSV exports bars for inspection in external tools.
func WriteKlinesToCSV(klines []domain.Kline, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"open_time", "symbol", "timeframe", "open", "high", "low", "close", "volume"})

	for _, k := range klines {
		writer.Write([]string{
			k.OpenTime.Format(time.RFC3339),
			k.Symbol,
			string(k.Timeframe),
			k.Open.String(),
			k.High.String(),
			k.Low.String(),
			k.Close.String(),
			k.Volume.String(),
		})
	}
	return writer.Error()
}

// WriteTradesToCSV exports the archived trade history of a session.
func WriteTradesToCSV(trades []domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"id", "symbol", "direction", "entry_price", "exit_price", "size", "pnl", "commission", "spread_cost", "entry_time", "exit_time", "reason"})

	for _, t := range trades {
		writer.Write([]string{
			t.ID,
			t.Symbol,
			string(t.Direction),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.Size.String(),
			t.PNL.String(),
			t.Commission.String(),
			t.SpreadCost.String(),
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			string(t.Reason),
		})
	}
	return writer.Error()
}
