// Package engineerr defines the sentinel errors shared across the engine's
// recovered-vs-fatal error taxonomy (spec §7). Callers distinguish branches
// with errors.Is; wrapped context is added with fmt.Errorf("...: %w", ...).
package engineerr

import "errors"

var (
	// ErrInvalidInput marks a recovered input validation failure (bad
	// recipe, malformed request, empty symbol). The caller is told the
	// message; no state changes.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientData marks not-enough-candles-for-an-indicator-period
	// or an empty candle array entering a backtest. Recovered locally.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInsufficientCash marks a portfolio unable to afford a requested
	// open. The caller skips the order for that bar and continues.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrStorageError marks a persistence-layer failure.
	ErrStorageError = errors.New("storage error")

	// ErrNetworkError marks a REST fetch that returned empty or timed out.
	ErrNetworkError = errors.New("network error")

	// ErrWebSocketError marks a lost connection or failed handshake.
	ErrWebSocketError = errors.New("websocket error")
)
