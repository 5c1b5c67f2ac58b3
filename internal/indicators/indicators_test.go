package indicators

import (
	"math"
	"testing"

	"github.com/quantloop/enginecore/internal/candle"
)

func constantSeries(n int, v float64) candle.PriceSeries {
	s := make(candle.PriceSeries, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func increasingSeries(n int) candle.PriceSeries {
	s := make(candle.PriceSeries, n)
	for i := range s {
		s[i] = float64(i)
	}
	return s
}

func TestSMAInsufficientData(t *testing.T) {
	if SMA(increasingSeries(5), 10) != nil {
		t.Fatal("expected nil for N < p")
	}
}

func TestSMAWarmupAndSlidingWindow(t *testing.T) {
	s := increasingSeries(10)
	out := SMA(s, 3)
	if len(out) != 10 {
		t.Fatalf("expected length 10, got %d", len(out))
	}
	for i := 0; i < 2; i++ {
		if !math.IsNaN(out[i]) {
			t.Errorf("expected NaN at %d, got %v", i, out[i])
		}
	}
	if math.IsNaN(out[2]) {
		t.Error("expected finite value at p-1")
	}
	// naive recompute agreement
	for i := 2; i < len(s); i++ {
		want := (s[i] + s[i-1] + s[i-2]) / 3
		if math.Abs(out[i]-want) > 1e-9 {
			t.Errorf("SMA[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestSMAConstantSeries(t *testing.T) {
	s := constantSeries(10, 42)
	out := SMA(s, 4)
	for i := 3; i < len(s); i++ {
		if out[i] != 42 {
			t.Errorf("SMA[%d] = %v, want 42", i, out[i])
		}
	}
}

func TestEMAConstantSeries(t *testing.T) {
	s := constantSeries(20, 7)
	out := EMA(s, 5)
	for i := 4; i < len(s); i++ {
		if math.Abs(out[i]-7) > 1e-9 {
			t.Errorf("EMA[%d] = %v, want 7", i, out[i])
		}
	}
}

func TestRSIMonotoneSeries(t *testing.T) {
	up := RSI(increasingSeries(30), 14)
	found := false
	for _, v := range up {
		if !math.IsNaN(v) && v > 70 {
			found = true
		}
	}
	if !found {
		t.Error("expected strictly increasing series to yield RSI > 70")
	}

	downSeries := make(candle.PriceSeries, 30)
	for i := range downSeries {
		downSeries[i] = float64(30 - i)
	}
	down := RSI(downSeries, 14)
	found = false
	for _, v := range down {
		if !math.IsNaN(v) && v < 30 {
			found = true
		}
	}
	if !found {
		t.Error("expected strictly decreasing series to yield RSI < 30")
	}
}

func TestRSIConstantSeriesIsFifty(t *testing.T) {
	s := constantSeries(20, 100)
	out := RSI(s, 14)
	for i := 14; i < len(s); i++ {
		if out[i] != 50 {
			t.Errorf("RSI[%d] = %v, want 50", i, out[i])
		}
	}
}

func TestMACDHistogramIdentity(t *testing.T) {
	s := increasingSeries(60)
	res := MACD(s, 12, 26, 9)
	for i := range s {
		if math.IsNaN(res.Histogram[i]) {
			continue
		}
		want := res.MACDLine[i] - res.Signal[i]
		if math.Abs(res.Histogram[i]-want) > 1e-9 {
			t.Errorf("histogram[%d] = %v, want %v", i, res.Histogram[i], want)
		}
	}
}

func TestBollingerConstantSeries(t *testing.T) {
	s := constantSeries(20, 50)
	res := Bollinger(s, 10, 2)
	for i := 9; i < len(s); i++ {
		if res.Upper[i] != res.Middle[i] || res.Middle[i] != res.Lower[i] {
			t.Errorf("expected flat bands at %d: upper=%v mid=%v lower=%v", i, res.Upper[i], res.Middle[i], res.Lower[i])
		}
	}
}

func buildCandles(closes []float64) []candle.Candle {
	out := make([]candle.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle.Candle{Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100}
	}
	return out
}

func TestStochasticRange(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 50 + float64(i%7)
	}
	res := Stochastic(buildCandles(closes), 14, 3)
	for _, v := range res.K {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("%%K out of range: %v", v)
		}
	}
}

func TestOBVDirection(t *testing.T) {
	candles := []candle.Candle{
		{Close: 10, Volume: 5},
		{Close: 11, Volume: 3},
		{Close: 9, Volume: 2},
		{Close: 9, Volume: 1},
	}
	out := OBV(candles)
	if out[0] != 0 {
		t.Fatalf("expected OBV[0]=0, got %v", out[0])
	}
	if out[1] != 3 {
		t.Fatalf("expected OBV[1]=3 (up), got %v", out[1])
	}
	if out[2] != 1 {
		t.Fatalf("expected OBV[2]=1 (down), got %v", out[2])
	}
	if out[3] != 1 {
		t.Fatalf("expected OBV[3] unchanged, got %v", out[3])
	}
}

func TestATRFirstSampleNaN(t *testing.T) {
	candles := buildCandles([]float64{10, 11, 12, 11, 13, 14, 15, 13, 12, 14, 16})
	out := ATR(candles, 5)
	if !math.IsNaN(out[0]) {
		t.Errorf("expected ATR first sample NaN (no previous close)")
	}
}

func TestCCIZeroDeviation(t *testing.T) {
	s := constantSeries(20, 100)
	candles := buildCandles(s)
	out := CCI(candles, 10)
	for i := 9; i < len(candles); i++ {
		if out[i] != 0 {
			t.Errorf("CCI[%d] = %v, want 0 for zero deviation", i, out[i])
		}
	}
}

func TestADXWithinPlausibleRange(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	candles := buildCandles(closes)
	out := ADX(candles, 14)
	if out == nil {
		t.Fatal("expected non-nil ADX for sufficient data")
	}
	for _, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || v > 100.0001 {
			t.Errorf("ADX out of plausible range: %v", v)
		}
	}
}

func TestIndicatorLengthContract(t *testing.T) {
	s := increasingSeries(100)
	if got := len(SMA(s, 10)); got != len(s) {
		t.Errorf("SMA length = %d, want %d", got, len(s))
	}
	if got := SMA(s, 200); got != nil {
		t.Errorf("expected nil result for period exceeding length, got len %d", len(got))
	}
}
