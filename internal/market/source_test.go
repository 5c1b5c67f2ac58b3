package market

import (
	"context"
	"testing"

	"github.com/quantloop/enginecore/internal/candle"
)

// fakeSource replays a fixed sequence of chunks in order, regardless of the
// requested window, to exercise FetchChunked's gap-jumping and cursor logic.
type fakeSource struct {
	chunks [][]candle.Candle
	calls  int
}

func (f *fakeSource) FetchCandles(ctx context.Context, symbol, timeframe string, startTimeSec, endTimeSec int64, maxCount int) ([]candle.Candle, error) {
	if f.calls >= len(f.chunks) {
		return nil, nil
	}
	chunk := f.chunks[f.calls]
	f.calls++
	return chunk, nil
}

func TestFetchChunkedAdvancesPastNonEmptyChunk(t *testing.T) {
	src := &fakeSource{chunks: [][]candle.Candle{
		{{Timestamp: 0, Close: 1}, {Timestamp: 3600, Close: 2}},
		{{Timestamp: 7200, Close: 3}},
	}}
	got, err := FetchChunked(context.Background(), src, "BTCUSDT", "1h", 0, 10800, 2)
	if err != nil {
		t.Fatalf("FetchChunked: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
}

func TestFetchChunkedJumpsGapOnEmptyChunk(t *testing.T) {
	src := &fakeSource{chunks: [][]candle.Candle{
		nil, // empty chunk: cursor should jump by maxCount*step
		{{Timestamp: 7200, Close: 1}},
	}}
	got, err := FetchChunked(context.Background(), src, "BTCUSDT", "1h", 0, 10800, 2)
	if err != nil {
		t.Fatalf("FetchChunked: %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 7200 {
		t.Fatalf("unexpected result after gap jump: %+v", got)
	}
}

func TestFetchChunkedStopsAtEndTime(t *testing.T) {
	src := &fakeSource{chunks: [][]candle.Candle{
		{{Timestamp: 0, Close: 1}},
	}}
	got, err := FetchChunked(context.Background(), src, "BTCUSDT", "1h", 0, 3600, 100)
	if err != nil {
		t.Fatalf("FetchChunked: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 candle, got %d", len(got))
	}
	if src.calls != 1 {
		t.Errorf("expected exactly 1 fetch call once cursor reaches endTime, got %d", src.calls)
	}
}
