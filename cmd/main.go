// Command voltra runs the volume-admission and correlation risk core.
// It polls OHLCV candles for the configured pairs, scores each candle's
// volume, persists admit/reject decisions to an append-only log and
// periodically reports high cross-instrument correlations.
//
// Usage:
//
//	voltra --config config.yaml
//	voltra (uses CLI arguments)
//
// Optional environment variables (public market data needs no keys):
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/voltra/config"
	"github.com/vadiminshakov/voltra/internal/clients"
	"github.com/vadiminshakov/voltra/internal/services"
	"github.com/vadiminshakov/voltra/internal/services/collector"
	"github.com/vadiminshakov/voltra/internal/services/correlation"
	"github.com/vadiminshakov/voltra/internal/services/sizer"
	"github.com/vadiminshakov/voltra/internal/services/volume"
	"github.com/vadiminshakov/voltra/internal/storage/decisions"
	"github.com/vadiminshakov/voltra/internal/storage/tradeexits"
	"go.uber.org/zap"
)

const correlationReportInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	decisionStore, err := decisions.NewStore(cfg.DecisionDB)
	if err != nil {
		logger.Fatal("failed to open decision store", zap.Error(err))
	}
	defer decisionStore.Close()

	exitStore, err := tradeexits.NewStore(cfg.TradeExitDB)
	if err != nil {
		logger.Fatal("failed to open trade-exit store", zap.Error(err))
	}
	defer exitStore.Close()

	engine := correlation.NewEngine(historySource{store: exitStore}, logger)

	ctx := context.Background()

	symbols := make([]string, 0, len(cfg.Pairs))
	for _, pairCfg := range cfg.Pairs {
		symbols = append(symbols, pairCfg.Pair.Symbol())

		provider, err := newProvider(pairCfg.Platform)
		if err != nil {
			logger.Fatal("failed to create kline provider",
				zap.String("platform", pairCfg.Platform), zap.Error(err))
		}

		analyzer := volume.NewAnalyzer(pairCfg.Pair.Symbol(), pairCfg.Analyzer)

		filter, err := volume.NewFilter(pairCfg.Filter)
		if err != nil {
			logger.Fatal("invalid filter policy",
				zap.String("pair", pairCfg.Pair.String()), zap.Error(err))
		}

		walDir := filepath.Join(cfg.WALDir, pairCfg.Pair.Symbol())
		svc, err := services.NewAdmissionService(logger, pairCfg.Pair, pairCfg.Interval,
			pairCfg.PollInterval, provider, analyzer, filter, decisionStore, walDir)
		if err != nil {
			logger.Fatal("failed to create admission service",
				zap.String("pair", pairCfg.Pair.String()), zap.Error(err))
		}
		defer svc.Close()

		svc.AttachSizer(sizer.New(provider, logger),
			decimal.NewFromFloat(cfg.QuoteBalance), cfg.RiskFraction)

		go func() {
			if err := svc.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("admission service stopped", zap.Error(err))
			}
		}()

		logger.Info("started", zap.String("pair", pairCfg.Pair.String()))
	}

	go reportCorrelations(ctx, engine, symbols, cfg, logger)

	select {}
}

// newProvider dispatches to the platform-specific kline provider.
func newProvider(platform string) (collector.KlineProvider, error) {
	switch platform {
	case "binance":
		client := clients.NewBinanceClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
		return collector.NewBinanceKlineProvider(client), nil
	case "bybit":
		client := clients.NewBybitClient(os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET"))
		return collector.NewBybitKlineProvider(client), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", platform)
	}
}

// reportCorrelations periodically logs pairs whose correlation crossed the
// configured threshold.
func reportCorrelations(ctx context.Context, engine *correlation.Engine, symbols []string, cfg *config.Config, logger *zap.Logger) {
	if len(symbols) < 2 {
		return
	}

	ticker := time.NewTicker(correlationReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts, err := engine.CurrentCorrelations(ctx, symbols, cfg.CorrelationThreshold, cfg.LookbackDays)
			if err != nil {
				logger.Error("correlation computation failed", zap.Error(err))
				continue
			}
			for _, alert := range alerts {
				logger.Warn("high correlation",
					zap.String("symbol_a", alert.SymbolA),
					zap.String("symbol_b", alert.SymbolB),
					zap.Float64("correlation", alert.Correlation),
					zap.Float64("threshold", alert.Threshold))
			}
		}
	}
}

// historySource adapts the trade-exit store to the correlation engine.
type historySource struct {
	store *tradeexits.Store
}

func (h historySource) Acquire(ctx context.Context) (correlation.HistorySession, error) {
	return h.store.Acquire(ctx)
}
