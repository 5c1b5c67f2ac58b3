// Reporting API server entrypoint.
//
// Wires internal/storage against the database pool and serves the
// read-only backtest/recipe reporting surface defined in internal/api.
// There is no trading-control surface here: this process never places or
// cancels orders, it only reports on backtests already run.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantloop/enginecore/internal/api"
	"github.com/quantloop/enginecore/internal/config"
	"github.com/quantloop/enginecore/internal/db"
	"github.com/quantloop/enginecore/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx := context.Background()
	database, err := db.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	jwtSecret := os.Getenv("ENGINECORE_API_JWT_SECRET")
	if jwtSecret == "" {
		log.Warn().Msg("ENGINECORE_API_JWT_SECRET not set: POST /api/v1/backtests is disabled")
	}

	server := api.NewServer(api.Config{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		Results:   storage.NewBacktestResultStore(database.Pool()),
		Recipes:   storage.NewRecipeStore(database.Pool()),
		Candles:   storage.NewCandleStore(database.Pool()),
		JWTSecret: jwtSecret,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("reporting API server failed")
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down reporting API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during reporting API server shutdown")
	}
}
