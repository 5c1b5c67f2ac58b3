package portfolio

import (
	"fmt"

	"github.com/quantloop/enginecore/internal/engineerr"
)

// Portfolio is the cash + open-position ledger mutated by a BacktestSimulator
// over the course of one run. It owns its trades; callers receive copies for
// reporting. Not safe for concurrent use — one Portfolio belongs to exactly
// one simulator run.
type Portfolio struct {
	InitialCapital float64
	Cash           float64
	openTrades     []Trade
	closedTrades   []Trade
	nextTradeID    int
}

// New constructs a Portfolio starting with initialCapital in cash.
func New(initialCapital float64) *Portfolio {
	return &Portfolio{InitialCapital: initialCapital, Cash: initialCapital}
}

// OpenTrades returns a read-only copy of currently open trades.
func (p *Portfolio) OpenTrades() []Trade {
	out := make([]Trade, len(p.openTrades))
	copy(out, p.openTrades)
	return out
}

// ClosedTrades returns a read-only copy of closed trades.
func (p *Portfolio) ClosedTrades() []Trade {
	out := make([]Trade, len(p.closedTrades))
	copy(out, p.closedTrades)
	return out
}

// OpenPositionCount returns the number of currently open trades.
func (p *Portfolio) OpenPositionCount() int {
	return len(p.openTrades)
}

// OpenPosition requires cash >= entryPrice*quantity + commission + slippage;
// on insufficient cash it leaves state unchanged and returns
// engineerr.ErrInsufficientCash. On success it assigns an ID if trade.ID is
// empty, deducts cash, records entry commission/slippage on the trade, and
// appends it to the open-trade list.
func (p *Portfolio) OpenPosition(trade Trade, commission, slippage float64) (bool, error) {
	cost := trade.EntryPrice*trade.Quantity + commission + slippage
	if p.Cash < cost {
		return false, engineerr.ErrInsufficientCash
	}
	if trade.ID == "" {
		p.nextTradeID++
		trade.ID = fmt.Sprintf("T%d", p.nextTradeID)
	}
	trade.Status = Open
	trade.Commission = commission
	trade.Slippage = slippage
	p.Cash -= cost
	p.openTrades = append(p.openTrades, trade)
	return true, nil
}

// ClosePosition locates the open trade by ID, computes realized PnL, credits
// cash, and moves the trade from open to closed. Closing a non-existent ID
// is a no-op returning false, nil (a "programmer error" per spec §7 — logged
// by the caller, never fatal).
func (p *Portfolio) ClosePosition(tradeID string, exitPrice float64, exitTime int64, reason string, commission, slippage float64) (bool, error) {
	idx := -1
	for i, t := range p.openTrades {
		if t.ID == tradeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}

	trade := p.openTrades[idx]
	totalCommission := trade.Commission + commission
	totalSlippage := trade.Slippage + slippage

	trade.ExitPrice = exitPrice
	trade.ExitTime = exitTime
	trade.ExitReason = reason
	trade.Status = Closed
	trade.Commission = totalCommission
	trade.Slippage = totalSlippage

	var pnl float64
	if trade.Type == Short {
		pnl = (trade.EntryPrice-exitPrice)*trade.Quantity - totalCommission - totalSlippage
	} else {
		pnl = (exitPrice-trade.EntryPrice)*trade.Quantity - totalCommission - totalSlippage
	}
	trade.PnL = pnl
	if trade.EntryPrice*trade.Quantity != 0 {
		trade.PnLPercent = pnl / (trade.EntryPrice * trade.Quantity) * 100
	}

	p.openTrades = append(p.openTrades[:idx], p.openTrades[idx+1:]...)
	p.closedTrades = append(p.closedTrades, trade)

	p.Cash += exitPrice*trade.Quantity - commission - slippage
	return true, nil
}

// Equity returns cash plus the mark-to-market value of open positions at
// currentPrice. When currentPrice is 0, each open trade is valued at its own
// entry price (zero unrealized PnL) rather than producing a nonsensical
// zero-valued book.
func (p *Portfolio) Equity(currentPrice float64) float64 {
	equity := p.Cash
	for _, t := range p.openTrades {
		price := currentPrice
		if price == 0 {
			price = t.EntryPrice
		}
		equity += t.Quantity * price
	}
	return equity
}

// Reset clears open and closed trades and resets cash and the ID counter to
// start a fresh run with newCapital.
func (p *Portfolio) Reset(newCapital float64) {
	p.InitialCapital = newCapital
	p.Cash = newCapital
	p.openTrades = nil
	p.closedTrades = nil
	p.nextTradeID = 0
}
