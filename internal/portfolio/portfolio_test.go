package portfolio

import (
	"errors"
	"testing"

	"github.com/quantloop/enginecore/internal/engineerr"
)

func TestOpenPositionDeductsCashAndAssignsID(t *testing.T) {
	p := New(1000)
	ok, err := p.OpenPosition(Trade{Symbol: "BTCUSDT", Type: Long, EntryPrice: 100, Quantity: 1, EntryTime: 1}, 1, 0.5)
	if !ok || err != nil {
		t.Fatalf("OpenPosition failed: ok=%v err=%v", ok, err)
	}
	if p.Cash != 1000-100-1-0.5 {
		t.Errorf("Cash = %v", p.Cash)
	}
	open := p.OpenTrades()
	if len(open) != 1 || open[0].ID != "T1" {
		t.Errorf("expected trade ID T1, got %+v", open)
	}
}

func TestOpenPositionInsufficientCash(t *testing.T) {
	p := New(10)
	ok, err := p.OpenPosition(Trade{EntryPrice: 100, Quantity: 1}, 0, 0)
	if ok || !errors.Is(err, engineerr.ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got ok=%v err=%v", ok, err)
	}
	if p.Cash != 10 {
		t.Errorf("expected cash unchanged, got %v", p.Cash)
	}
	if len(p.OpenTrades()) != 0 {
		t.Errorf("expected no open trades after failed open")
	}
}

func TestClosePositionComputesPnLAndCreditsCash(t *testing.T) {
	p := New(1000)
	p.OpenPosition(Trade{Type: Long, EntryPrice: 100, Quantity: 2, EntryTime: 1}, 1, 0)
	open := p.OpenTrades()
	id := open[0].ID

	ok, err := p.ClosePosition(id, 110, 2, "Exit Signal", 1, 0)
	if !ok || err != nil {
		t.Fatalf("ClosePosition: ok=%v err=%v", ok, err)
	}
	closed := p.ClosedTrades()
	if len(closed) != 1 {
		t.Fatalf("expected one closed trade, got %d", len(closed))
	}
	trade := closed[0]
	wantPnL := (110-100.0)*2 - 2 // entry commission 1 + exit commission 1
	if trade.PnL != wantPnL {
		t.Errorf("PnL = %v, want %v", trade.PnL, wantPnL)
	}
	if trade.Status != Closed {
		t.Errorf("expected Closed status")
	}
	if len(p.OpenTrades()) != 0 {
		t.Error("expected trade removed from open list")
	}
}

func TestCloseNonexistentIDIsNoOp(t *testing.T) {
	p := New(1000)
	ok, err := p.ClosePosition("bogus", 100, 1, "x", 0, 0)
	if ok || err != nil {
		t.Fatalf("expected no-op false,nil; got %v %v", ok, err)
	}
}

func TestEquityIdentity(t *testing.T) {
	p := New(1000)
	p.OpenPosition(Trade{Type: Long, EntryPrice: 100, Quantity: 2, EntryTime: 1}, 0, 0)
	if got := p.Equity(110); got != p.Cash+2*110 {
		t.Errorf("Equity(110) = %v, want %v", got, p.Cash+2*110)
	}
	if got := p.Equity(0); got != p.Cash+2*100 {
		t.Errorf("Equity(0) should value at entry price: got %v want %v", got, p.Cash+2*100)
	}
}

func TestTradeMovesExactlyOnceNeverVanishes(t *testing.T) {
	p := New(1000)
	p.OpenPosition(Trade{Type: Long, EntryPrice: 100, Quantity: 1, EntryTime: 1}, 0, 0)
	id := p.OpenTrades()[0].ID
	total := func() int { return len(p.OpenTrades()) + len(p.ClosedTrades()) }
	before := total()
	p.ClosePosition(id, 105, 2, "Exit Signal", 0, 0)
	if total() != before {
		t.Errorf("expected trade count to stay constant across close, before=%d after=%d", before, total())
	}
}

func TestResetClearsState(t *testing.T) {
	p := New(1000)
	p.OpenPosition(Trade{Type: Long, EntryPrice: 100, Quantity: 1, EntryTime: 1}, 0, 0)
	p.Reset(5000)
	if p.Cash != 5000 || p.InitialCapital != 5000 {
		t.Errorf("expected reset capital, got cash=%v initial=%v", p.Cash, p.InitialCapital)
	}
	if len(p.OpenTrades()) != 0 || len(p.ClosedTrades()) != 0 {
		t.Error("expected trades cleared")
	}
	ok, _ := p.OpenPosition(Trade{EntryPrice: 1, Quantity: 1}, 0, 0)
	if !ok || p.OpenTrades()[0].ID != "T1" {
		t.Errorf("expected ID counter reset, got %+v", p.OpenTrades())
	}
}
