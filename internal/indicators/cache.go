package indicators

import (
	"fmt"

	"github.com/quantloop/enginecore/internal/candle"
)

// Cache holds one computed series per canonical indicator key for the
// duration of a single backtest run. It is not safe for concurrent use; per
// spec §5 it is owned exclusively by the single compute task running the
// backtest.
type Cache struct {
	series map[string]candle.PriceSeries
}

// NewCache returns an empty indicator cache.
func NewCache() *Cache {
	return &Cache{series: make(map[string]candle.PriceSeries)}
}

// Set stores a computed series under key.
func (c *Cache) Set(key string, s candle.PriceSeries) {
	c.series[key] = s
}

// Get returns the series stored under key and whether it was present.
func (c *Cache) Get(key string) (candle.PriceSeries, bool) {
	s, ok := c.series[key]
	return s, ok
}

// ValueAt returns the value of the series under key at index i, or NaN if
// the key is absent or i is out of range.
func (c *Cache) ValueAt(key string, i int) float64 {
	s, ok := c.series[key]
	if !ok || i < 0 || i >= len(s) {
		return NaN
	}
	return s[i]
}

// Key builds the canonical cache key for a named indicator instance, e.g.
// "rsi_14" or "macd_12_26_9_line".
func Key(name string, parts ...interface{}) string {
	key := name
	for _, p := range parts {
		key += fmt.Sprintf("_%v", p)
	}
	return key
}
