// Package correlation quantifies co-movement between instruments from
// historical realized-trade closing prices.
package correlation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/voltra/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultLookbackDays is the historical window for matrix computation.
	DefaultLookbackDays = 30
	// DefaultMinDataPoints is the smallest joined sample a pair needs before
	// its correlation is trusted; smaller samples report 0.0.
	DefaultMinDataPoints = 20

	// acquireTimeout bounds the wait for a history connection so a blocked
	// writer cannot stall matrix computation indefinitely.
	acquireTimeout = 15 * time.Second
)

// HistorySession is a single acquired connection to the trade-exit history.
// Sessions must be closed on every exit path.
type HistorySession interface {
	// PricePoints returns (timestamp, close) rows for a symbol within the
	// lookback window, most recent first, capped by the store.
	PricePoints(ctx context.Context, symbol string, lookback time.Duration) ([]domain.PricePoint, error)
	Close() error
}

// HistorySource hands out history sessions. Acquisition honors the context
// deadline so callers never hang on a locked store.
type HistorySource interface {
	Acquire(ctx context.Context) (HistorySession, error)
}

// Engine computes pairwise and portfolio-weighted correlations.
// It holds no mutable state and may be shared between goroutines; each
// computation uses its own short-lived history session.
type Engine struct {
	source HistorySource
	logger *zap.Logger
}

// NewEngine creates a correlation engine over a trade-exit history source.
func NewEngine(source HistorySource, logger *zap.Logger) *Engine {
	return &Engine{source: source, logger: logger}
}

// CalculateMatrix builds a fresh symmetric correlation matrix for the given
// symbols. Self-pairs are always 1.0. A pair whose joined sample is smaller
// than minDataPoints, or whose computation fails, degrades to 0.0; only a
// failure to acquire the history connection fails the whole matrix.
func (e *Engine) CalculateMatrix(ctx context.Context, symbols []string, lookbackDays, minDataPoints int) (domain.CorrelationMatrix, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	if minDataPoints <= 0 {
		minDataPoints = DefaultMinDataPoints
	}
	lookback := time.Duration(lookbackDays) * 24 * time.Hour

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	session, err := e.source.Acquire(acquireCtx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire trade-exit history connection")
	}
	defer session.Close()

	matrix := make(domain.CorrelationMatrix, len(symbols))
	for i, symbolA := range symbols {
		matrix[symbolA] = make(map[string]float64, len(symbols))
		for j, symbolB := range symbols {
			if i == j {
				matrix[symbolA][symbolB] = 1.0
				continue
			}

			corr, err := e.pairCorrelation(ctx, session, symbolA, symbolB, lookback, minDataPoints)
			if err != nil {
				// one bad pair must never abort the whole matrix
				e.logger.Warn("pair correlation failed, defaulting to 0",
					zap.String("symbol_a", symbolA),
					zap.String("symbol_b", symbolB),
					zap.Error(err))
				corr = 0
			}
			matrix[symbolA][symbolB] = corr
		}
	}

	return matrix, nil
}

// pairCorrelation joins the two price series on timestamp and correlates
// their percent-change series.
func (e *Engine) pairCorrelation(ctx context.Context, session HistorySession, symbolA, symbolB string, lookback time.Duration, minDataPoints int) (float64, error) {
	pointsA, err := session.PricePoints(ctx, symbolA, lookback)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch history for %s", symbolA)
	}
	pointsB, err := session.PricePoints(ctx, symbolB, lookback)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch history for %s", symbolB)
	}

	pricesA, pricesB := joinOnTimestamp(pointsA, pointsB)
	if len(pricesA) < minDataPoints {
		return 0, nil
	}

	return pearson(percentChanges(pricesA), percentChanges(pricesB)), nil
}

// CurrentCorrelations computes the matrix once and emits an alert for every
// ordered non-self pair whose correlation reaches the threshold.
func (e *Engine) CurrentCorrelations(ctx context.Context, symbols []string, threshold float64, lookbackDays int) ([]domain.CorrelationAlert, error) {
	matrix, err := e.CalculateMatrix(ctx, symbols, lookbackDays, DefaultMinDataPoints)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var alerts []domain.CorrelationAlert
	for _, symbolA := range symbols {
		for _, symbolB := range symbols {
			if symbolA == symbolB {
				continue
			}
			corr := matrix.Get(symbolA, symbolB)
			if corr >= threshold {
				alerts = append(alerts, domain.CorrelationAlert{
					SymbolA:     symbolA,
					SymbolB:     symbolB,
					Correlation: corr,
					Threshold:   threshold,
					Timestamp:   now,
					AlertType:   domain.AlertHighCorrelation,
				})
			}
		}
	}

	return alerts, nil
}

// PortfolioCorrelation computes, per symbol, the average correlation to the
// other symbols weighted by each other symbol's share of total portfolio
// value. Symbols absent from the portfolio contribute zero weight; when the
// portfolio has no value a symbol is omitted rather than reported as zero.
func (e *Engine) PortfolioCorrelation(ctx context.Context, portfolio map[string]float64, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		symbols = make([]string, 0, len(portfolio))
		for symbol := range portfolio {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
	}

	matrix, err := e.CalculateMatrix(ctx, symbols, DefaultLookbackDays, DefaultMinDataPoints)
	if err != nil {
		return nil, err
	}

	totalValue := 0.0
	for _, value := range portfolio {
		totalValue += value
	}

	result := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		var weightedSum, weightSum float64
		for _, other := range symbols {
			if other == symbol {
				continue
			}
			weight := 0.0
			if totalValue > 0 {
				weight = portfolio[other] / totalValue
			}
			weightedSum += matrix.Get(symbol, other) * weight
			weightSum += weight
		}
		if weightSum > 0 {
			result[symbol] = weightedSum / weightSum
		}
	}

	return result, nil
}

// joinOnTimestamp inner-joins two series on matching timestamps and returns
// the aligned close prices in ascending time order.
func joinOnTimestamp(a, b []domain.PricePoint) ([]float64, []float64) {
	byTime := make(map[int64]float64, len(a))
	for _, p := range a {
		byTime[p.Timestamp] = p.Close
	}

	type joined struct {
		ts     int64
		closeA float64
		closeB float64
	}
	rows := make([]joined, 0, len(b))
	for _, p := range b {
		if closeA, ok := byTime[p.Timestamp]; ok {
			rows = append(rows, joined{ts: p.Timestamp, closeA: closeA, closeB: p.Close})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ts < rows[j].ts })

	pricesA := make([]float64, len(rows))
	pricesB := make([]float64, len(rows))
	for i, r := range rows {
		pricesA[i] = r.closeA
		pricesB[i] = r.closeB
	}
	return pricesA, pricesB
}

// percentChanges converts a price series into period-over-period returns.
// A zero previous price contributes a zero change.
func percentChanges(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	changes := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			changes[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return changes
}

// pearson is the population-form Pearson correlation coefficient.
// Zero-variance series correlate as 0.0.
func pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0
	}

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var num, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		num += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	denom := math.Sqrt(varX) * math.Sqrt(varY)
	if denom == 0 {
		return 0
	}
	return num / denom
}
