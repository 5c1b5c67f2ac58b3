package live

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/enginecore/internal/engineerr"
)

func TestPaperPortfolio_BuyDeductsCostAndFee(t *testing.T) {
	p := NewPaperPortfolio(10000, 0.001)

	err := p.Buy("BTCUSDT", 1, 100, 0)
	require.NoError(t, err)

	fee := 1 * 100 * 0.001
	assert.InDelta(t, 10000-100-fee, p.Balance(), 1e-9)

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.AvgEntryPrice)
}

func TestPaperPortfolio_BuyAppliesSlippage(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)

	require.NoError(t, p.Buy("BTCUSDT", 1, 100, 0.01))

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 101.0, pos.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 10000-101.0, p.Balance(), 1e-9)
}

func TestPaperPortfolio_BuyRejectsWhenCostExceedsBalance(t *testing.T) {
	p := NewPaperPortfolio(50, 0)

	err := p.Buy("BTCUSDT", 1, 100, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engineerr.ErrInsufficientCash))

	_, ok := p.Position("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, 50.0, p.Balance())
}

func TestPaperPortfolio_BuyReaveragesExistingPosition(t *testing.T) {
	p := NewPaperPortfolio(100000, 0)

	require.NoError(t, p.Buy("BTCUSDT", 1, 100, 0))
	require.NoError(t, p.Buy("BTCUSDT", 1, 200, 0))

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2.0, pos.Quantity)
	assert.InDelta(t, 150.0, pos.AvgEntryPrice, 1e-9)
}

func TestPaperPortfolio_SellCreditsProceedsMinusFee(t *testing.T) {
	p := NewPaperPortfolio(10000, 0.001)
	require.NoError(t, p.Buy("BTCUSDT", 2, 100, 0))

	balanceAfterBuy := p.Balance()
	require.NoError(t, p.Sell("BTCUSDT", 1, 120, 0))

	fee := 1 * 120 * 0.001
	assert.InDelta(t, balanceAfterBuy+120-fee, p.Balance(), 1e-9)

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.Quantity)
}

func TestPaperPortfolio_SellAppliesSlippage(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)
	require.NoError(t, p.Buy("BTCUSDT", 1, 100, 0))

	balanceAfterBuy := p.Balance()
	require.NoError(t, p.Sell("BTCUSDT", 1, 100, 0.01))

	assert.InDelta(t, balanceAfterBuy+99.0, p.Balance(), 1e-9)
}

func TestPaperPortfolio_SellRemovesPositionBelowDustThreshold(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)
	require.NoError(t, p.Buy("BTCUSDT", 0.00005, 100, 0))

	require.NoError(t, p.Sell("BTCUSDT", 0.00004, 100, 0))

	_, ok := p.Position("BTCUSDT")
	assert.False(t, ok, "remaining qty below 1e-4 dust threshold should be removed")
}

func TestPaperPortfolio_SellRejectsWithoutPosition(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)

	err := p.Sell("BTCUSDT", 1, 100, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engineerr.ErrInvalidInput))
}

func TestPaperPortfolio_SellRejectsQtyExceedingHeld(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)
	require.NoError(t, p.Buy("BTCUSDT", 1, 100, 0))

	err := p.Sell("BTCUSDT", 2, 100, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engineerr.ErrInvalidInput))
}

func TestPaperPortfolio_UpdatePriceRecomputesUnrealizedPnL(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)
	require.NoError(t, p.Buy("BTCUSDT", 2, 100, 0))

	p.UpdatePrice("BTCUSDT", 110)

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 20.0, pos.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10.0, pos.UnrealizedPct, 1e-9)
}

func TestPaperPortfolio_UpdatePriceNoOpWithoutPosition(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)
	p.UpdatePrice("BTCUSDT", 110) // must not panic
}

func TestPaperPortfolio_EquityIdentityHoldsAcrossBuySellUpdate(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)

	require.NoError(t, p.Buy("BTCUSDT", 1, 100, 0))
	assert.InDelta(t, 10000, p.Equity(), 1e-9, "equity unchanged immediately after a zero-fee buy at cost")

	p.UpdatePrice("BTCUSDT", 120)
	assert.InDelta(t, 10020, p.Equity(), 1e-9, "equity reflects unrealized gain after price update")

	require.NoError(t, p.Sell("BTCUSDT", 1, 120, 0))
	assert.InDelta(t, 10020, p.Equity(), 1e-9, "equity unchanged by realizing the gain via sell")
}

func TestPaperPortfolio_TradeHistoryRecordsEveryAcceptedOrder(t *testing.T) {
	p := NewPaperPortfolio(10000, 0)
	require.NoError(t, p.Buy("BTCUSDT", 1, 100, 0))
	require.NoError(t, p.Sell("BTCUSDT", 1, 110, 0))

	// A rejected order must not be recorded.
	_ = p.Sell("BTCUSDT", 1, 100, 0)

	history := p.TradeHistory()
	require.Len(t, history, 2)
	assert.Equal(t, PaperOrderBuy, history[0].Side)
	assert.Equal(t, PaperOrderSell, history[1].Side)
}
