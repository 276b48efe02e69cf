package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/voltra/internal/domain"
	"go.uber.org/zap"
)

type stubSource struct {
	data       map[string][]domain.PricePoint
	failSymbol string
	acquireErr error
	closed     int
}

func (s *stubSource) Acquire(ctx context.Context) (HistorySession, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return &stubSession{source: s}, nil
}

type stubSession struct {
	source *stubSource
}

func (s *stubSession) PricePoints(ctx context.Context, symbol string, lookback time.Duration) ([]domain.PricePoint, error) {
	if symbol == s.source.failSymbol {
		return nil, errors.New("query failed")
	}
	return s.source.data[symbol], nil
}

func (s *stubSession) Close() error {
	s.source.closed++
	return nil
}

// series builds n price points with the given sequence of percent changes,
// cycling through them, starting at price 100.
func series(n int, changes ...float64) []domain.PricePoint {
	points := make([]domain.PricePoint, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i > 0 {
			price *= 1 + changes[(i-1)%len(changes)]
		}
		points[i] = domain.PricePoint{Timestamp: int64(i+1) * 3600, Close: price}
	}
	return points
}

// inverseOf negates the percent-change pattern of series.
func inverseOf(n int, changes ...float64) []domain.PricePoint {
	inverted := make([]float64, len(changes))
	for i, c := range changes {
		inverted[i] = -c
	}
	return series(n, inverted...)
}

func newTestEngine(source *stubSource) *Engine {
	return NewEngine(source, zap.NewNop())
}

func TestCalculateMatrixSymmetricWithUnitDiagonal(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0.1, -0.1),
		"ETHUSDT": series(30, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	matrix, err := engine.CalculateMatrix(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, 30, 20)
	require.NoError(t, err)

	assert.Equal(t, 1.0, matrix.Get("BTCUSDT", "BTCUSDT"))
	assert.Equal(t, 1.0, matrix.Get("ETHUSDT", "ETHUSDT"))
	assert.Equal(t, matrix.Get("BTCUSDT", "ETHUSDT"), matrix.Get("ETHUSDT", "BTCUSDT"))
	// lock-step series correlate at 1
	assert.InDelta(t, 1.0, matrix.Get("BTCUSDT", "ETHUSDT"), 1e-9)
	// the session must be released
	assert.Equal(t, 1, source.closed)
}

func TestCalculateMatrixInverseSeries(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0.1, -0.1),
		"SOLUSDT": inverseOf(30, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	matrix, err := engine.CalculateMatrix(context.Background(), []string{"BTCUSDT", "SOLUSDT"}, 30, 20)
	require.NoError(t, err)

	assert.InDelta(t, -1.0, matrix.Get("BTCUSDT", "SOLUSDT"), 1e-9)
}

func TestCalculateMatrixInsufficientDataIsZero(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(10, 0.1, -0.1),
		"ETHUSDT": series(10, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	matrix, err := engine.CalculateMatrix(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, 30, 20)
	require.NoError(t, err)

	assert.Equal(t, 0.0, matrix.Get("BTCUSDT", "ETHUSDT"))
	assert.Equal(t, 1.0, matrix.Get("BTCUSDT", "BTCUSDT"))
}

func TestCalculateMatrixZeroVarianceIsZero(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0), // flat price, zero-variance returns
		"ETHUSDT": series(30, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	matrix, err := engine.CalculateMatrix(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, 30, 20)
	require.NoError(t, err)

	assert.Equal(t, 0.0, matrix.Get("BTCUSDT", "ETHUSDT"))
}

func TestCalculateMatrixPairFailureDegradesToZero(t *testing.T) {
	source := &stubSource{
		data: map[string][]domain.PricePoint{
			"BTCUSDT": series(30, 0.1, -0.1),
		},
		failSymbol: "ETHUSDT",
	}
	engine := newTestEngine(source)

	matrix, err := engine.CalculateMatrix(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, 30, 20)
	require.NoError(t, err)

	assert.Equal(t, 0.0, matrix.Get("BTCUSDT", "ETHUSDT"))
	assert.Equal(t, 1.0, matrix.Get("ETHUSDT", "ETHUSDT"))
	assert.Equal(t, 1, source.closed)
}

func TestCalculateMatrixAcquireFailureIsHard(t *testing.T) {
	source := &stubSource{acquireErr: errors.New("database locked")}
	engine := newTestEngine(source)

	_, err := engine.CalculateMatrix(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, 30, 20)
	assert.Error(t, err)
}

func TestCalculateMatrixJoinsOnTimestamp(t *testing.T) {
	// B misses half of A's timestamps: only matched rows join
	a := series(40, 0.1, -0.1, 0.05)
	b := make([]domain.PricePoint, 0, 20)
	for i, p := range series(40, 0.1, -0.1, 0.05) {
		if i%2 == 0 {
			b = append(b, p)
		}
	}

	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": a,
		"ETHUSDT": b,
	}}
	engine := newTestEngine(source)

	matrix, err := engine.CalculateMatrix(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, 30, 20)
	require.NoError(t, err)

	// joined sample of 20 clears the minimum and correlates at 1
	assert.InDelta(t, 1.0, matrix.Get("BTCUSDT", "ETHUSDT"), 1e-9)
}

func TestCurrentCorrelations(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0.1, -0.1),
		"ETHUSDT": series(30, 0.1, -0.1),
		"SOLUSDT": inverseOf(30, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	alerts, err := engine.CurrentCorrelations(context.Background(),
		[]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, 0.8, 30)
	require.NoError(t, err)

	// only the lock-step pair alerts, in both orders
	require.Len(t, alerts, 2)
	for _, alert := range alerts {
		assert.Equal(t, domain.AlertHighCorrelation, alert.AlertType)
		assert.Equal(t, 0.8, alert.Threshold)
		assert.GreaterOrEqual(t, alert.Correlation, 0.8)
		assert.NotEqual(t, alert.SymbolA, alert.SymbolB)
	}
}

func TestPortfolioCorrelationTwoSymbols(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0.1, -0.1),
		"ETHUSDT": series(30, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	portfolio := map[string]float64{"BTCUSDT": 6000, "ETHUSDT": 4000}
	result, err := engine.PortfolioCorrelation(context.Background(), portfolio, nil)
	require.NoError(t, err)

	// with a single other symbol the weighted average is that correlation
	assert.InDelta(t, 1.0, result["BTCUSDT"], 1e-9)
	assert.InDelta(t, 1.0, result["ETHUSDT"], 1e-9)
}

func TestPortfolioCorrelationWeighting(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0.1, -0.1),
		"ETHUSDT": series(30, 0.1, -0.1),        // corr 1 with BTC
		"SOLUSDT": inverseOf(30, 0.1, -0.1),     // corr -1 with BTC and ETH
	}}
	engine := newTestEngine(source)

	portfolio := map[string]float64{"BTCUSDT": 6000, "ETHUSDT": 4000, "SOLUSDT": 2000}
	result, err := engine.PortfolioCorrelation(context.Background(), portfolio, nil)
	require.NoError(t, err)

	// BTC: (1*4000 + (-1)*2000) / 6000
	assert.InDelta(t, 1.0/3.0, result["BTCUSDT"], 1e-9)
	// ETH: (1*6000 + (-1)*2000) / 8000
	assert.InDelta(t, 0.5, result["ETHUSDT"], 1e-9)
}

func TestPortfolioCorrelationSymbolWithoutWeightOmitted(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0.1, -0.1),
		"ETHUSDT": series(30, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	// ETH carries no portfolio value: BTC has no weighted counterpart
	portfolio := map[string]float64{"BTCUSDT": 6000}
	result, err := engine.PortfolioCorrelation(context.Background(), portfolio,
		[]string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)

	_, ok := result["BTCUSDT"]
	assert.False(t, ok)
	assert.InDelta(t, 1.0, result["ETHUSDT"], 1e-9)
}

func TestPortfolioCorrelationEmptyPortfolio(t *testing.T) {
	source := &stubSource{data: map[string][]domain.PricePoint{
		"BTCUSDT": series(30, 0.1, -0.1),
		"ETHUSDT": series(30, 0.1, -0.1),
	}}
	engine := newTestEngine(source)

	result, err := engine.PortfolioCorrelation(context.Background(), map[string]float64{},
		[]string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)

	// zero total value: no symbol gets a defined correlation
	assert.Empty(t, result)
}

func TestPearson(t *testing.T) {
	tests := []struct {
		name string
		x    []float64
		y    []float64
		want float64
	}{
		{name: "identical", x: []float64{1, 2, 3, 4}, y: []float64{1, 2, 3, 4}, want: 1},
		{name: "inverse", x: []float64{1, 2, 3, 4}, y: []float64{4, 3, 2, 1}, want: -1},
		{name: "zero variance", x: []float64{1, 1, 1}, y: []float64{1, 2, 3}, want: 0},
		{name: "empty", x: nil, y: nil, want: 0},
		{name: "length mismatch", x: []float64{1, 2}, y: []float64{1}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, pearson(tt.x, tt.y), 1e-9)
		})
	}
}

func TestPercentChanges(t *testing.T) {
	changes := percentChanges([]float64{100, 110, 99})
	require.Len(t, changes, 2)
	assert.InDelta(t, 0.1, changes[0], 1e-9)
	assert.InDelta(t, -0.1, changes[1], 1e-9)

	// zero previous price contributes a zero change
	changes = percentChanges([]float64{0, 50})
	require.Len(t, changes, 1)
	assert.Equal(t, 0.0, changes[0])

	assert.Nil(t, percentChanges([]float64{42}))
}
