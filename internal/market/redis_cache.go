package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/quantloop/enginecore/internal/candle"
)

// RedisCandleCache caches the most recent N candles per
// (exchange, symbol, timeframe) and the latest ticker price per symbol, so
// the live paper-trading driver and reporting API can avoid re-fetching
// recent history from the exchange on every read.
type RedisCandleCache struct {
	client *redis.Client
	ttl    time.Duration
}

// tickerEntry is the cached shape for a "latest price" read.
type tickerEntry struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRedisCandleCache constructs a cache backed by client. A nil client
// disables caching entirely: the constructor returns nil, and on a nil cache
// GetCandles/GetTicker report a miss while SetCandles, SetTicker and Health
// return a "cache not initialized" error.
func NewRedisCandleCache(client *redis.Client, ttl time.Duration) *RedisCandleCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &RedisCandleCache{client: client, ttl: ttl}
}

// SetCandles replaces the cached recent-candle window for (exchange, symbol,
// timeframe).
func (c *RedisCandleCache) SetCandles(ctx context.Context, exchange, symbol, timeframe string, candles []candle.Candle) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("marshal candles: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, c.candlesKey(exchange, symbol, timeframe), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache candles")
		return err
	}
	return nil
}

// GetCandles returns the cached recent-candle window, or (nil, false) on a
// cache miss or error — a miss is never treated as a fetch failure by
// callers.
func (c *RedisCandleCache) GetCandles(ctx context.Context, exchange, symbol, timeframe string) ([]candle.Candle, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, c.candlesKey(exchange, symbol, timeframe)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("redis get error - treating as cache miss")
		}
		return nil, false
	}

	var candles []candle.Candle
	if err := json.Unmarshal([]byte(cached), &candles); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("failed to unmarshal cached candles")
		return nil, false
	}
	return candles, true
}

// SetTicker stores the latest known price for symbol.
func (c *RedisCandleCache) SetTicker(ctx context.Context, symbol string, price float64) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}
	entry := tickerEntry{Symbol: symbol, Price: price, Timestamp: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ticker: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	return c.client.Set(cacheCtx, c.tickerKey(symbol), data, c.ttl).Err()
}

// GetTicker returns the last cached price for symbol.
func (c *RedisCandleCache) GetTicker(ctx context.Context, symbol string) (float64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, c.tickerKey(symbol)).Result()
	if err != nil {
		return 0, false
	}

	var entry tickerEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		return 0, false
	}
	return entry.Price, true
}

// Health checks the Redis connection.
func (c *RedisCandleCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (c *RedisCandleCache) candlesKey(exchange, symbol, timeframe string) string {
	return fmt.Sprintf("enginecore:candles:%s:%s:%s", exchange, symbol, timeframe)
}

func (c *RedisCandleCache) tickerKey(symbol string) string {
	return fmt.Sprintf("enginecore:ticker:%s", symbol)
}
