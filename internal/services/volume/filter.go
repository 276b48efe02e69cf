package volume

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/voltra/internal/domain"
)

// Per-rule rejection confidences.
const (
	confidenceRatioTooLow  = 0.3
	confidenceRatioTooHigh = 0.2
	confidenceZScoreHigh   = 0.4
	confidenceZScoreLow    = 0.3
	confidenceTrendGate    = 0.6
	confidenceVWAPGate     = 0.7

	vwapPassBoost = 1.2
)

// FilterPolicy is a named set of admission thresholds.
// A zero value for any threshold disables that rule.
type FilterPolicy struct {
	// MinVolumeRatio rejects entries when volume/SMA falls below it.
	MinVolumeRatio float64 `yaml:"min_volume_ratio"`
	// MaxVolumeRatio rejects entries above it (spike protection).
	MaxVolumeRatio float64 `yaml:"max_volume_ratio"`
	// HighVolumeZScore rejects entries with a z-score above it.
	HighVolumeZScore float64 `yaml:"high_volume_zscore"`
	// LowVolumeZScore rejects entries with a z-score below it (usually negative).
	LowVolumeZScore float64 `yaml:"low_volume_zscore"`
	// RequireIncreasingVolume gates entries on an increasing volume trend.
	RequireIncreasingVolume bool `yaml:"require_increasing_volume"`
	// VWAPDistancePct is the max allowed % deviation of price from VWAP.
	VWAPDistancePct float64 `yaml:"vwap_distance_pct"`
}

// Validate reports malformed policies.
func (p FilterPolicy) Validate() error {
	if p.MinVolumeRatio > 0 && p.MaxVolumeRatio > 0 && p.MinVolumeRatio > p.MaxVolumeRatio {
		return errors.Errorf("min_volume_ratio %.2f exceeds max_volume_ratio %.2f",
			p.MinVolumeRatio, p.MaxVolumeRatio)
	}
	if p.VWAPDistancePct < 0 {
		return errors.Errorf("vwap_distance_pct must not be negative, got %.2f", p.VWAPDistancePct)
	}
	return nil
}

// Filter translates volume metrics and price into an admit/reject decision
// under a fixed policy. Evaluation is deterministic: identical inputs always
// yield the identical verdict, reason and confidence.
type Filter struct {
	policy FilterPolicy
	// now stamps decisions; overridable in tests.
	now func() time.Time
}

// NewFilter creates a filter for a validated policy.
func NewFilter(policy FilterPolicy) (*Filter, error) {
	if err := policy.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid filter policy")
	}
	return &Filter{policy: policy, now: time.Now}, nil
}

// ShouldAllowEntry evaluates the policy rules in fixed precedence order;
// the first failing rule wins.
func (f *Filter) ShouldAllowEntry(metrics domain.VolumeMetrics, price float64) (bool, string, float64) {
	p := f.policy

	if p.MinVolumeRatio > 0 && metrics.VolumeRatio < p.MinVolumeRatio {
		return false, fmt.Sprintf("volume ratio %.2f below minimum %.2f",
			metrics.VolumeRatio, p.MinVolumeRatio), confidenceRatioTooLow
	}

	if p.MaxVolumeRatio > 0 && metrics.VolumeRatio > p.MaxVolumeRatio {
		return false, fmt.Sprintf("volume ratio %.2f above maximum %.2f, possible spike",
			metrics.VolumeRatio, p.MaxVolumeRatio), confidenceRatioTooHigh
	}

	if p.HighVolumeZScore > 0 && metrics.ZScore > p.HighVolumeZScore {
		return false, fmt.Sprintf("volume z-score %.2f above %.2f",
			metrics.ZScore, p.HighVolumeZScore), confidenceZScoreHigh
	}

	if p.LowVolumeZScore != 0 && metrics.ZScore < p.LowVolumeZScore {
		return false, fmt.Sprintf("volume z-score %.2f below %.2f",
			metrics.ZScore, p.LowVolumeZScore), confidenceZScoreLow
	}

	if p.RequireIncreasingVolume && metrics.Trend != domain.VolumeTrendIncreasing {
		return false, fmt.Sprintf("volume trend is %s, increasing required",
			metrics.Trend), confidenceTrendGate
	}

	// the VWAP gate is only meaningful with a non-degenerate VWAP
	vwapChecked := false
	if p.VWAPDistancePct > 0 && metrics.VWAP > 0 {
		vwapChecked = true
		distance := math.Abs(price-metrics.VWAP) / metrics.VWAP * 100
		if distance > p.VWAPDistancePct {
			return false, fmt.Sprintf("price %.4f is %.2f%% from VWAP %.4f, max %.2f%%",
				price, distance, metrics.VWAP, p.VWAPDistancePct), confidenceVWAPGate
		}
	}

	confidence := 1.0
	if vwapChecked {
		confidence = math.Min(confidence*vwapPassBoost, 1.0)
	}

	return true, "volume conditions satisfied", confidence
}

// MakeDecision evaluates the policy and wraps the result into an audit
// record stamped with the wall-clock decision time.
func (f *Filter) MakeDecision(candle domain.Candle, metrics domain.VolumeMetrics, symbol string) domain.VolumeDecision {
	allowed, reason, confidence := f.ShouldAllowEntry(metrics, candle.Close)

	verdict := domain.VerdictReject
	if allowed {
		verdict = domain.VerdictAllow
	}

	return domain.VolumeDecision{
		Timestamp:  candle.Timestamp,
		Symbol:     symbol,
		Price:      candle.Close,
		Volume:     candle.Volume,
		Metrics:    metrics,
		Verdict:    verdict,
		Reason:     reason,
		Confidence: confidence,
		CreatedAt:  f.now(),
	}
}
