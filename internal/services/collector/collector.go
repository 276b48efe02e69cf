// Package collector fetches OHLCV candles from cryptocurrency exchanges
// and normalizes them into the domain candle shape.
package collector

import (
	"context"

	"github.com/vadiminshakov/voltra/internal/domain"
)

// KlineProvider defines the interface for fetching kline (candlestick) data.
// Implementations must return candles sorted ascending by timestamp with no
// duplicates; gaps are tolerated but never interpolated.
type KlineProvider interface {
	// GetKlines fetches historical kline data for a trading pair.
	// limit specifies the maximum number of klines to fetch.
	// interval specifies the kline interval (e.g., "1m", "5m", "1h", "4h").
	GetKlines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.Candle, error)
}
