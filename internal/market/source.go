// Package market provides MarketDataSource implementations for historical
// candle retrieval, a chunked backfill pipeline, and Redis-backed caches for
// recent candles and tickers.
package market

import (
	"context"

	"github.com/quantloop/enginecore/internal/candle"
)

// DataSource is the abstract boundary for historical candle retrieval.
// Implementers may call a REST API, read a fixture, or replay from storage.
//
// Contract: candles are sorted ascending by timestamp and boundary-aligned
// to timeframe. Fewer candles than requested means end of available data
// for this window only — an empty return does not imply end-of-series if
// startTimeSec < endTimeSec; the chunking pipeline may need to advance
// across a gap.
type DataSource interface {
	FetchCandles(ctx context.Context, symbol, timeframe string, startTimeSec, endTimeSec int64, maxCount int) ([]candle.Candle, error)
}

// FetchChunked drives src across [startTimeSec, endTimeSec) in maxCount-sized
// windows, advancing past empty chunks by a full window so temporary
// exchange gaps don't stall the backfill, and advancing past non-empty
// chunks to just after the last candle received. It stops when the cursor
// reaches endTimeSec or ctx is cancelled.
func FetchChunked(ctx context.Context, src DataSource, symbol, timeframe string, startTimeSec, endTimeSec int64, maxCount int) ([]candle.Candle, error) {
	step, ok := candle.TimeframeSeconds(timeframe)
	if !ok {
		step = 60
	}

	var all []candle.Candle
	cursor := startTimeSec
	for cursor < endTimeSec {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		chunk, err := src.FetchCandles(ctx, symbol, timeframe, cursor, endTimeSec, maxCount)
		if err != nil {
			return all, err
		}

		if len(chunk) == 0 {
			cursor += int64(maxCount) * step
			continue
		}

		all = append(all, chunk...)
		cursor = chunk[len(chunk)-1].Timestamp + step
	}
	return all, nil
}
