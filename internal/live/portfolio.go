package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantloop/enginecore/internal/engineerr"
)

// PaperPosition is one open paper holding in a PaperPortfolio.
type PaperPosition struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	CurrentPrice  float64
	UnrealizedPnL float64
	UnrealizedPct float64
}

// PaperOrderSide distinguishes buy/sell entries in tradeHistory.
type PaperOrderSide string

const (
	PaperOrderBuy  PaperOrderSide = "BUY"
	PaperOrderSell PaperOrderSide = "SELL"
)

// PaperTrade is one accepted paper order, appended to tradeHistory on every
// successful buy or sell.
type PaperTrade struct {
	Symbol    string
	Side      PaperOrderSide
	Quantity  float64
	ExecPrice float64
	Fee       float64
	Time      time.Time
}

// PaperPortfolio is the live paper-trading ledger of spec §4.8, distinct
// from internal/portfolio's Portfolio: it has no trade-status lifecycle or
// stop-loss/take-profit bookkeeping, only balance, open positions keyed by
// symbol, and a running trade history, mutated exclusively by the main
// (single-threaded cooperative) context per spec §5.
type PaperPortfolio struct {
	mu sync.Mutex

	initialBalance float64
	balance        float64
	feeRate        float64
	positions      map[string]*PaperPosition
	tradeHistory   []PaperTrade
}

// NewPaperPortfolio constructs a paper ledger seeded with initialBalance and
// a flat per-trade fee rate (e.g. 0.001 for 0.1%).
func NewPaperPortfolio(initialBalance, feeRate float64) *PaperPortfolio {
	return &PaperPortfolio{
		initialBalance: initialBalance,
		balance:        initialBalance,
		feeRate:        feeRate,
		positions:      make(map[string]*PaperPosition),
	}
}

// Balance returns the current cash balance.
func (p *PaperPortfolio) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Position returns the open position for symbol, if any.
func (p *PaperPortfolio) Position(symbol string) (PaperPosition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return PaperPosition{}, false
	}
	return *pos, true
}

// TradeHistory returns a copy of every accepted order.
func (p *PaperPortfolio) TradeHistory() []PaperTrade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperTrade, len(p.tradeHistory))
	copy(out, p.tradeHistory)
	return out
}

// Buy executes a paper market buy. exec = price*(1+slippage); fee =
// qty*exec*feeRate. Rejects with ErrInsufficientCash if cost+fee exceeds the
// current balance, leaving all state unchanged. A repeat buy into an
// existing position re-averages the entry price.
func (p *PaperPortfolio) Buy(symbol string, qty, price, slippage float64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("%w: buy requires positive qty and price", engineerr.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	execPrice := price * (1 + slippage)
	fee := qty * execPrice * p.feeRate
	cost := qty*execPrice + fee
	if cost > p.balance {
		return fmt.Errorf("%w: buy %s cost %.8f exceeds balance %.8f", engineerr.ErrInsufficientCash, symbol, cost, p.balance)
	}

	p.balance -= cost

	if existing, ok := p.positions[symbol]; ok {
		newQty := existing.Quantity + qty
		existing.AvgEntryPrice = (existing.AvgEntryPrice*existing.Quantity + execPrice*qty) / newQty
		existing.Quantity = newQty
		existing.CurrentPrice = execPrice
		existing.UnrealizedPnL = (execPrice - existing.AvgEntryPrice) * existing.Quantity
		existing.UnrealizedPct = (execPrice - existing.AvgEntryPrice) / existing.AvgEntryPrice * 100
	} else {
		p.positions[symbol] = &PaperPosition{
			Symbol:        symbol,
			Quantity:      qty,
			AvgEntryPrice: execPrice,
			CurrentPrice:  execPrice,
		}
	}

	p.tradeHistory = append(p.tradeHistory, PaperTrade{
		Symbol: symbol, Side: PaperOrderBuy, Quantity: qty, ExecPrice: execPrice, Fee: fee, Time: time.Now(),
	})
	return nil
}

// minClosePositionQty is the dust threshold below which a reduced position
// is treated as fully closed and removed, matching spec §4.8's "remove if
// remaining qty < 1e-4".
const minClosePositionQty = 1e-4

// Sell executes a paper market sell against an existing position.
// exec = price*(1-slippage); fee = qty*exec*feeRate; credits
// exec*qty - fee to balance. Rejects if there is no position for symbol or
// qty exceeds the held quantity.
func (p *PaperPortfolio) Sell(symbol string, qty, price, slippage float64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("%w: sell requires positive qty and price", engineerr.ErrInvalidInput)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return fmt.Errorf("%w: no open position in %s", engineerr.ErrInvalidInput, symbol)
	}
	if qty > pos.Quantity {
		return fmt.Errorf("%w: sell qty %.8f exceeds held %.8f in %s", engineerr.ErrInvalidInput, qty, pos.Quantity, symbol)
	}

	execPrice := price * (1 - slippage)
	fee := qty * execPrice * p.feeRate
	proceeds := qty*execPrice - fee

	p.balance += proceeds
	pos.Quantity -= qty
	pos.CurrentPrice = execPrice
	pos.UnrealizedPnL = (execPrice - pos.AvgEntryPrice) * pos.Quantity
	pos.UnrealizedPct = (execPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	if pos.Quantity < minClosePositionQty {
		delete(p.positions, symbol)
	}

	p.tradeHistory = append(p.tradeHistory, PaperTrade{
		Symbol: symbol, Side: PaperOrderSell, Quantity: qty, ExecPrice: execPrice, Fee: fee, Time: time.Now(),
	})
	return nil
}

// UpdatePrice refreshes the mark-to-market price of an open position and
// recomputes unrealized PnL and its percentage. A call for a symbol with no
// open position is a no-op.
func (p *PaperPortfolio) UpdatePrice(symbol string, newPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = newPrice
	pos.UnrealizedPnL = (newPrice - pos.AvgEntryPrice) * pos.Quantity
	if pos.AvgEntryPrice != 0 {
		pos.UnrealizedPct = (newPrice - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	}
}

// Equity returns balance + sum(unrealizedPnL) + sum(initial position
// notional), the identity spec §4.8 requires Buy/Sell/UpdatePrice to keep
// consistent: initial notional is each position's cost basis
// (avgEntry*qty), and unrealizedPnL on top of it reconstructs current
// mark-to-market value without re-deriving it from CurrentPrice*qty, so a
// stale UpdatePrice cannot silently understate equity.
func (p *PaperPortfolio) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.balance
	for _, pos := range p.positions {
		equity += pos.UnrealizedPnL + pos.AvgEntryPrice*pos.Quantity
	}
	return equity
}
