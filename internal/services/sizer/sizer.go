// Package sizer recommends volatility-adjusted position sizes.
package sizer

import (
	"context"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/voltra/internal/domain"
	"github.com/vadiminshakov/voltra/internal/services/collector"
	"go.uber.org/zap"
)

const (
	atrPeriod = 14

	// baselineATRPct is the volatility at which the factor is exactly 1.0.
	baselineATRPct = 0.02
	// defaultATRPct is assumed when no usable history exists.
	defaultATRPct = 0.05

	minVolatilityFactor = 0.25
	maxVolatilityFactor = 2.0
)

// Sizer derives a volatility metric (ATR%) from recent candles and scales a
// risk budget by it. The exact sizing policy is a collaborator contract: the
// risk engine only depends on the recommendation shape.
type Sizer struct {
	provider collector.KlineProvider
	logger   *zap.Logger
}

// New creates a position sizer over a kline provider.
func New(provider collector.KlineProvider, logger *zap.Logger) *Sizer {
	return &Sizer{provider: provider, logger: logger}
}

// Volatility computes the current ATR as a fraction of the last close.
// Falls back to the 5% default when history is too short to compute ATR.
func (s *Sizer) Volatility(ctx context.Context, pair domain.Pair, interval string, limit int) (float64, error) {
	if limit < atrPeriod+1 {
		limit = atrPeriod * 4
	}

	candles, err := s.provider.GetKlines(ctx, pair, interval, limit)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch klines for volatility of %s", pair.String())
	}
	if len(candles) < atrPeriod+1 {
		s.logger.Warn("not enough candles for ATR, using default volatility",
			zap.String("pair", pair.String()),
			zap.Int("candles", len(candles)))
		return defaultATRPct, nil
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	atr := volatility.NewAtrWithPeriod[float64](atrPeriod)
	atrValues := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))
	if len(atrValues) == 0 {
		return defaultATRPct, nil
	}

	lastClose := candles[len(candles)-1].Close
	if lastClose <= 0 {
		return defaultATRPct, nil
	}

	return atrValues[len(atrValues)-1] / lastClose, nil
}

// Recommend converts a balance, risk fraction and volatility metric into a
// sizing recommendation. High volatility shrinks the position, low
// volatility grows it, clamped to [0.25, 2.0] around a 2% ATR baseline.
func (s *Sizer) Recommend(balance decimal.Decimal, riskFraction, atrPct float64) domain.SizeRecommendation {
	if atrPct <= 0 {
		atrPct = defaultATRPct
	}

	factor := baselineATRPct / atrPct
	if factor < minVolatilityFactor {
		factor = minVolatilityFactor
	}
	if factor > maxVolatilityFactor {
		factor = maxVolatilityFactor
	}

	budget := domain.NewRiskBudget(riskFraction)
	recommended := budget.Value(balance).Mul(decimal.NewFromFloat(factor))

	return domain.SizeRecommendation{
		RecommendedSize:  recommended,
		VolatilityFactor: factor,
		VolatilityMetric: atrPct,
	}
}
