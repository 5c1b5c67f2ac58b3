// Exchange credential smoke-test CLI
//
// test-auth <API_KEY> <API_SECRET>
//
// Runs four checks against Binance in order — connectivity ping, server
// time, authenticated account read, balance list — and exits 0 only if all
// four pass.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	goBinance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: test-auth <API_KEY> <API_SECRET>")
		os.Exit(1)
	}
	apiKey, apiSecret := os.Args[1], os.Args[2]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, apiKey, apiSecret); err != nil {
		log.Error().Err(err).Msg("credential check failed")
		os.Exit(1)
	}
	log.Info().Msg("all credential checks passed")
}

func run(ctx context.Context, apiKey, apiSecret string) error {
	client := goBinance.NewClient(apiKey, apiSecret)

	if err := client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	log.Info().Msg("step 1/4: ping ok")

	serverTime, err := client.NewServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("server time: %w", err)
	}
	log.Info().Int64("server_time_ms", serverTime).Msg("step 2/4: server time ok")

	account, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		return fmt.Errorf("authenticated account read: %w", err)
	}
	log.Info().Str("account_type", account.AccountType).Msg("step 3/4: account read ok")

	nonZero := 0
	for _, bal := range account.Balances {
		if bal.Free != "0" || bal.Locked != "0" {
			nonZero++
		}
	}
	log.Info().Int("total_assets", len(account.Balances)).Int("non_zero_assets", nonZero).Msg("step 4/4: balance list ok")

	return nil
}
