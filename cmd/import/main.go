// Historical candle importer CLI
//
// import <SYMBOL> <TIMEFRAME> <DAYS>
//
// Fetches the last DAYS days of TIMEFRAME candles for SYMBOL from Binance
// and persists them via internal/storage.CandleStore. Exits 0 once at least
// one candle is stored, non-zero on a hard failure (REST ping failed, DB
// open failed).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantloop/enginecore/internal/candle"
	"github.com/quantloop/enginecore/internal/db"
	"github.com/quantloop/enginecore/internal/market"
	"github.com/quantloop/enginecore/internal/storage"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: import <SYMBOL> <TIMEFRAME> <DAYS>")
		os.Exit(1)
	}
	symbol := os.Args[1]
	timeframe := os.Args[2]
	days, err := strconv.Atoi(os.Args[3])
	if err != nil || days <= 0 {
		fmt.Fprintln(os.Stderr, "DAYS must be a positive integer")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := run(ctx, symbol, timeframe, days); err != nil {
		log.Error().Err(err).Msg("import failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, symbol, timeframe string, days int) error {
	source := market.NewBinanceMarketDataSource()

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	defer pingCancel()
	endTime := time.Now().Unix()
	startTime := endTime - int64(days)*24*60*60

	probe, err := source.FetchCandles(pingCtx, symbol, timeframe, endTime-3600, endTime, 1)
	if err != nil {
		return fmt.Errorf("exchange REST ping failed: %w", err)
	}
	log.Info().Int("probe_candles", len(probe)).Msg("exchange reachable")

	database, err := db.New(ctx)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	store := storage.NewCandleStore(database.Pool())

	const chunkSize = 1000
	candles, err := market.FetchChunked(ctx, source, symbol, timeframe, startTime, endTime, chunkSize)
	if err != nil && len(candles) == 0 {
		return fmt.Errorf("fetch candles: %w", err)
	}

	if len(candles) == 0 {
		return fmt.Errorf("no candles returned for %s %s over %d days", symbol, timeframe, days)
	}

	if err := store.UpsertBatch(ctx, candles); err != nil {
		return fmt.Errorf("persist candles: %w", err)
	}

	log.Info().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("days", days).
		Int("candles_stored", len(candles)).
		Int64("range_start", firstTimestamp(candles)).
		Int64("range_end", lastTimestamp(candles)).
		Msg("import complete")
	return nil
}

func firstTimestamp(candles []candle.Candle) int64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[0].Timestamp
}

func lastTimestamp(candles []candle.Candle) int64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].Timestamp
}
