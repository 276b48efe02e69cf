// Package clients constructs exchange API clients.
package clients

import (
	"github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
)

// NewBinanceClient returns a Binance REST client. Keys may be empty for
// public market-data endpoints.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewBybitClient returns a Bybit REST client. Keys may be empty for
// public market-data endpoints.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	if apiKey == "" && apiSecret == "" {
		return bybit.NewClient()
	}
	return bybit.NewClient().WithAuth(apiKey, apiSecret)
}
