// Package volume implements streaming volume analytics and the
// entry-admission filter built on top of them.
package volume

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/voltra/internal/domain"
)

var (
	// ErrOutOfOrderCandle is returned when a candle arrives with a timestamp
	// not strictly greater than the previously ingested one.
	ErrOutOfOrderCandle = errors.New("candle timestamp is not strictly increasing")
)

const (
	// anomalyZScoreThreshold separates statistical outliers from normal
	// volume. Not configurable, distinct from the filter thresholds.
	anomalyZScoreThreshold = 2.5

	// minZScoreObservations is the smallest window for which a z-score is
	// statistically meaningful; below it the score is reported as 0.
	minZScoreObservations = 10

	defaultSMAPeriod    = 20
	defaultEMAPeriod    = 20
	defaultVWAPWindow   = 50
	defaultTrendPeriods = 5

	trendChangeBand = 0.10
)

// AnalyzerConfig tunes the rolling windows of an Analyzer.
type AnalyzerConfig struct {
	// SMAPeriod is the simple moving average period for volume.
	SMAPeriod int `yaml:"sma_period"`
	// EMAPeriod is the exponential moving average period for volume.
	EMAPeriod int `yaml:"ema_period"`
	// VWAPWindow caps the number of (price, volume) pairs used for VWAP.
	VWAPWindow int `yaml:"vwap_window"`
	// TrendPeriods is the number of recent observations used for trend classification.
	TrendPeriods int `yaml:"trend_periods"`
}

// withDefaults fills zero fields with canonical periods.
func (c AnalyzerConfig) withDefaults() AnalyzerConfig {
	if c.SMAPeriod <= 0 {
		c.SMAPeriod = defaultSMAPeriod
	}
	if c.EMAPeriod <= 0 {
		c.EMAPeriod = defaultEMAPeriod
	}
	if c.VWAPWindow <= 0 {
		c.VWAPWindow = defaultVWAPWindow
	}
	if c.TrendPeriods <= 0 {
		c.TrendPeriods = defaultTrendPeriods
	}
	return c
}

// PricePair is a single (close price, volume) observation used for VWAP.
type PricePair struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// AnalyzerState is the serializable rolling state of an Analyzer.
// Callers may persist it between process restarts and restore it with
// RestoreState so rolling statistics survive a crash.
type AnalyzerState struct {
	Volumes       []float64   `json:"volumes"`
	Prices        []PricePair `json:"prices"`
	LastEMA       float64     `json:"last_ema"`
	HasEMA        bool        `json:"has_ema"`
	LastTimestamp int64       `json:"last_timestamp"`
	HasLast       bool        `json:"has_last"`
}

// Analyzer maintains rolling volume state for a single symbol and converts
// raw candles into VolumeMetrics. It owns its window and last EMA value;
// the caller never threads statistics between calls.
//
// An Analyzer is not internally synchronized: use one instance per symbol
// and serialize calls to it.
type Analyzer struct {
	symbol string
	cfg    AnalyzerConfig

	volumes []float64
	prices  []PricePair

	lastEMA float64
	hasEMA  bool

	lastTimestamp int64
	hasLast       bool
}

// NewAnalyzer creates a volume analyzer for one symbol.
func NewAnalyzer(symbol string, cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{
		symbol: symbol,
		cfg:    cfg.withDefaults(),
	}
}

// Symbol returns the symbol this analyzer tracks.
func (a *Analyzer) Symbol() string {
	return a.symbol
}

// Ingest consumes the next candle and returns its volume metrics.
// Candles must arrive with strictly increasing timestamps; an out-of-order
// candle is rejected with ErrOutOfOrderCandle and does not touch the window.
//
// The SMA (and therefore the volume ratio) is measured against the window as
// it stood before this candle, so a spike is compared with its own baseline.
// Z-score and trend include the current observation.
func (a *Analyzer) Ingest(candle domain.Candle) (domain.VolumeMetrics, error) {
	if a.hasLast && candle.Timestamp <= a.lastTimestamp {
		return domain.VolumeMetrics{}, errors.Wrapf(ErrOutOfOrderCandle,
			"symbol %s: got %d after %d", a.symbol, candle.Timestamp, a.lastTimestamp)
	}

	sma := a.sma()

	ratio := 1.0
	if sma > 0 {
		ratio = candle.Volume / sma
	}

	ema := candle.Volume
	if a.hasEMA {
		k := 2.0 / (float64(a.cfg.EMAPeriod) + 1)
		ema = candle.Volume*k + a.lastEMA*(1-k)
	}

	a.pushVolume(candle.Volume)
	a.pushPrice(PricePair{Price: candle.Close, Volume: candle.Volume})
	a.lastEMA = ema
	a.hasEMA = true
	a.lastTimestamp = candle.Timestamp
	a.hasLast = true

	zScore := a.zScore(candle.Volume)

	metrics := domain.VolumeMetrics{
		Timestamp:   candle.Timestamp,
		Volume:      candle.Volume,
		VolumeSMA:   sma,
		VolumeEMA:   ema,
		VWAP:        a.vwap(),
		VolumeRatio: ratio,
		ZScore:      zScore,
		Trend:       a.trend(),
	}

	switch {
	case zScore > anomalyZScoreThreshold:
		metrics.Anomaly = true
		metrics.AnomalyType = domain.AnomalyHighVolume
	case zScore < -anomalyZScoreThreshold:
		metrics.Anomaly = true
		metrics.AnomalyType = domain.AnomalyLowVolume
	}

	return metrics, nil
}

// Snapshot returns a copy of the rolling state for persistence.
func (a *Analyzer) Snapshot() AnalyzerState {
	state := AnalyzerState{
		Volumes:       make([]float64, len(a.volumes)),
		Prices:        make([]PricePair, len(a.prices)),
		LastEMA:       a.lastEMA,
		HasEMA:        a.hasEMA,
		LastTimestamp: a.lastTimestamp,
		HasLast:       a.hasLast,
	}
	copy(state.Volumes, a.volumes)
	copy(state.Prices, a.prices)
	return state
}

// RestoreState replaces the rolling state with a previously captured snapshot.
func (a *Analyzer) RestoreState(state AnalyzerState) {
	a.volumes = append(a.volumes[:0], state.Volumes...)
	a.prices = append(a.prices[:0], state.Prices...)
	a.lastEMA = state.LastEMA
	a.hasEMA = state.HasEMA
	a.lastTimestamp = state.LastTimestamp
	a.hasLast = state.HasLast
	a.trimWindows()
}

func (a *Analyzer) volumeCapacity() int {
	period := a.cfg.SMAPeriod
	if a.cfg.EMAPeriod > period {
		period = a.cfg.EMAPeriod
	}
	return period * 2
}

func (a *Analyzer) pushVolume(v float64) {
	a.volumes = append(a.volumes, v)
	a.trimWindows()
}

func (a *Analyzer) pushPrice(p PricePair) {
	a.prices = append(a.prices, p)
	a.trimWindows()
}

// trimWindows evicts oldest entries first so windows never exceed capacity.
func (a *Analyzer) trimWindows() {
	if limit := a.volumeCapacity(); len(a.volumes) > limit {
		a.volumes = a.volumes[len(a.volumes)-limit:]
	}
	if len(a.prices) > a.cfg.VWAPWindow {
		a.prices = a.prices[len(a.prices)-a.cfg.VWAPWindow:]
	}
}

// sma is the mean of the last SMAPeriod volumes, or of all available
// volumes when the window is still short. Zero for an empty window.
func (a *Analyzer) sma() float64 {
	n := len(a.volumes)
	if n == 0 {
		return 0
	}
	period := a.cfg.SMAPeriod
	if n < period {
		period = n
	}

	sum := 0.0
	for _, v := range a.volumes[n-period:] {
		sum += v
	}
	return sum / float64(period)
}

// vwap is the volume-weighted average price over the trailing window,
// zero when the window carries no volume.
func (a *Analyzer) vwap() float64 {
	var priceVolume, totalVolume float64
	for _, p := range a.prices {
		priceVolume += p.Price * p.Volume
		totalVolume += p.Volume
	}
	if totalVolume == 0 {
		return 0
	}
	return priceVolume / totalVolume
}

// zScore standardizes the current volume against the rolling window using
// the population standard deviation. Reported as 0 below 10 observations.
func (a *Analyzer) zScore(current float64) float64 {
	n := len(a.volumes)
	if n < minZScoreObservations {
		return 0
	}

	mean := 0.0
	for _, v := range a.volumes {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range a.volumes {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return (current - mean) / std
}

// trend compares the means of the older and newer halves of the most recent
// TrendPeriods volumes. Short windows default to stable.
func (a *Analyzer) trend() domain.VolumeTrend {
	n := a.cfg.TrendPeriods
	if len(a.volumes) < n {
		return domain.VolumeTrendStable
	}

	recent := a.volumes[len(a.volumes)-n:]
	half := n / 2

	var older, newer float64
	for _, v := range recent[:half] {
		older += v
	}
	older /= float64(half)
	for _, v := range recent[half:] {
		newer += v
	}
	newer /= float64(n - half)

	if older <= 0 {
		return domain.VolumeTrendStable
	}

	change := (newer - older) / older
	switch {
	case change >= trendChangeBand:
		return domain.VolumeTrendIncreasing
	case change <= -trendChangeBand:
		return domain.VolumeTrendDecreasing
	default:
		return domain.VolumeTrendStable
	}
}

// Profile computes aggregate volume statistics over a closed batch of
// candles using nearest-rank percentiles. An empty batch yields a
// zero-filled profile.
func Profile(candles []domain.Candle) domain.VolumeProfile {
	if len(candles) == 0 {
		return domain.VolumeProfile{}
	}

	volumes := make([]float64, len(candles))
	total := 0.0
	for i, c := range candles {
		volumes[i] = c.Volume
		total += c.Volume
	}
	sort.Float64s(volumes)

	n := float64(len(volumes))
	mean := total / n

	variance := 0.0
	for _, v := range volumes {
		d := v - mean
		variance += d * d
	}
	variance /= n

	return domain.VolumeProfile{
		AvgVolume:    mean,
		MedianVolume: nearestRank(volumes, 0.50),
		P25Volume:    nearestRank(volumes, 0.25),
		P50Volume:    nearestRank(volumes, 0.50),
		P75Volume:    nearestRank(volumes, 0.75),
		P90Volume:    nearestRank(volumes, 0.90),
		StdVolume:    math.Sqrt(variance),
		TotalVolume:  total,
		CandleCount:  len(candles),
	}
}

// nearestRank picks the order statistic at floor(p * n), clamped to the
// available range so short batches degrade to the nearest observation.
func nearestRank(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
