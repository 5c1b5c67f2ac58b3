package market

import (
	"context"
	"fmt"
	"strconv"

	goBinance "github.com/adshao/go-binance/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantloop/enginecore/internal/candle"
)

// binanceRequestsPerMinute is the reference rate limit: 1200 requests/min.
const binanceRequestsPerMinute = 1200

// BinanceMarketDataSource fetches historical candles from Binance's public
// REST API, pacing requests under a shared rate limiter and tripping a
// circuit breaker when the exchange starts failing.
type BinanceMarketDataSource struct {
	client  *goBinance.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewBinanceMarketDataSource constructs a data source backed by a public
// (unauthenticated) Binance client — historical klines are a public endpoint.
func NewBinanceMarketDataSource() *BinanceMarketDataSource {
	return &BinanceMarketDataSource{
		client:  goBinance.NewClient("", ""),
		limiter: rate.NewLimiter(rate.Limit(binanceRequestsPerMinute)/60, binanceRequestsPerMinute),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "binance-market-data",
			MaxRequests: 3,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
		}),
	}
}

// FetchCandles implements DataSource. It blocks on the rate limiter, then
// runs the REST call through the circuit breaker.
func (s *BinanceMarketDataSource) FetchCandles(ctx context.Context, symbol, timeframe string, startTimeSec, endTimeSec int64, maxCount int) ([]candle.Candle, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance rate limiter: %w", err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		klines, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			StartTime(startTimeSec * 1000).
			EndTime(endTimeSec * 1000).
			Limit(maxCount).
			Do(ctx)
		if err != nil {
			return nil, err
		}
		return klines, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch binance candles: %w", err)
	}

	klines := result.([]*goBinance.Kline)
	candles := make([]candle.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := klineToCandle(symbol, timeframe, k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func klineToCandle(symbol, timeframe string, k *goBinance.Kline) (candle.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse open: %w", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse high: %w", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse close: %w", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return candle.Candle{}, fmt.Errorf("parse volume: %w", err)
	}

	return candle.Candle{
		Exchange:  "binance",
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: k.OpenTime / 1000,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
