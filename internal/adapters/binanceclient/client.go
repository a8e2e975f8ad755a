// Package binanceclient fetches historical klines from Binance to seed the
// local time-series store. Only public market-data endpoints are used; live
// trading connectivity is out of scope.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"marketReplay/internal/domain"
	"marketReplay/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.HistoricalDataSource interface using the
// go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance data-source adapter. No API keys are needed for
// the public kline endpoints.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := futures.NewClient("", "")
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1120, -1121: // Invalid interval / symbol
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrExchangeUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetKlines retrieves the most recent historical klines for the given symbol.
func (c *Client) GetKlines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Kline, error) {
	op := "GetKlines"
	binanceKlines, err := c.futuresClient.NewKlinesService().
		Symbol(symbol).Interval(string(tf)).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	bars := make([]domain.Kline, 0, len(binanceKlines))
	for _, bk := range binanceKlines {
		dk, err := translateBinanceKline(bk, symbol, tf)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		bars = append(bars, dk)
	}

	return bars, nil
}

// GetKlinesRange fetches all klines for a symbol/timeframe between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Kline, error) {
	op := "GetKlinesRange"
	var allBars []domain.Kline
	const maxLimit = 1500
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			dk, err := translateBinanceKline(bk, symbol, tf)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline range: %w", err), op)
			}
			allBars = append(allBars, dk)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}

	return allBars, nil
}

// --- Translation Helpers ---

// translateBinanceKline converts a Binance kline into a domain bar. Binance
// returns prices as decimal strings, which map 1:1 onto decimal.Decimal.
func translateBinanceKline(bk *futures.Kline, symbol string, tf domain.Timeframe) (domain.Kline, error) {
	if bk == nil {
		return domain.Kline{}, errors.New("received nil historical kline")
	}

	k := domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		Symbol:    symbol,
		Timeframe: tf,
	}
	var err error
	if k.Open, err = decimal.NewFromString(bk.Open); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	if k.High, err = decimal.NewFromString(bk.High); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	if k.Low, err = decimal.NewFromString(bk.Low); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	if k.Close, err = decimal.NewFromString(bk.Close); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	if k.Volume, err = decimal.NewFromString(bk.Volume); err != nil {
		return domain.Kline{}, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}
	return k, nil
}
