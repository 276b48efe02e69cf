// Package domain defines core data structures used throughout the risk core.
package domain

import (
	"fmt"
	"time"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// String returns the string representation.
func (p *Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated symbol representation.
func (p *Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// Candle single OHLCV candlestick.
// Immutable once received; ordering is by Timestamp ascending.
type Candle struct {
	// Timestamp is the candle open time in unix seconds.
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Time returns the candle open time.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0)
}
