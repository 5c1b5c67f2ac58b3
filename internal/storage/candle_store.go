package storage

import (
	"context"
	"fmt"

	"github.com/quantloop/enginecore/internal/candle"
)

// CandleStore persists OHLCV candles, keyed uniquely by
// (exchange, symbol, timeframe, timestamp).
type CandleStore struct {
	pool PoolInterface
}

// NewCandleStore creates a CandleStore backed by pool.
func NewCandleStore(pool PoolInterface) *CandleStore {
	return &CandleStore{pool: pool}
}

// Upsert inserts c, or updates the existing row for its
// (exchange, symbol, timeframe, timestamp) key.
func (s *CandleStore) Upsert(ctx context.Context, c candle.Candle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO candles (exchange, symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (exchange, symbol, timeframe, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`, c.Exchange, c.Symbol, c.Timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("upserting candle %s/%s@%d: %w", c.Symbol, c.Timeframe, c.Timestamp, err)
	}
	return nil
}

// UpsertBatch upserts candles one at a time inside the caller's transaction
// boundary; batch chunking into exchange-sized pages happens upstream in
// internal/market's import pipeline.
func (s *CandleStore) UpsertBatch(ctx context.Context, candles []candle.Candle) error {
	for _, c := range candles {
		if err := s.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Range returns candles for (exchange, symbol, timeframe) with timestamp in
// [from, to], ordered ascending by timestamp.
func (s *CandleStore) Range(ctx context.Context, exchange, symbol, timeframe string, from, to int64) ([]candle.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT exchange, symbol, timeframe, timestamp, open, high, low, close, volume
		FROM candles
		WHERE exchange = $1 AND symbol = $2 AND timeframe = $3 AND timestamp BETWEEN $4 AND $5
		ORDER BY timestamp ASC
	`, exchange, symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying candle range for %s/%s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.Exchange, &c.Symbol, &c.Timeframe, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scanning candle row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candle rows: %w", err)
	}
	return out, nil
}
