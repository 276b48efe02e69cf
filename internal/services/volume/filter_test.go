package volume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/voltra/internal/domain"
)

func testPolicy() FilterPolicy {
	return FilterPolicy{
		MinVolumeRatio:   0.5,
		MaxVolumeRatio:   5.0,
		HighVolumeZScore: 3.0,
		LowVolumeZScore:  -2.0,
		VWAPDistancePct:  2.0,
	}
}

func healthyMetrics() domain.VolumeMetrics {
	return domain.VolumeMetrics{
		Timestamp:   1700000000,
		Volume:      120,
		VolumeSMA:   100,
		VolumeEMA:   110,
		VWAP:        100,
		VolumeRatio: 1.2,
		ZScore:      0.5,
		Trend:       domain.VolumeTrendIncreasing,
	}
}

func TestShouldAllowEntryRulePrecedence(t *testing.T) {
	tests := []struct {
		name           string
		policy         FilterPolicy
		mutate         func(*domain.VolumeMetrics)
		price          float64
		wantAllowed    bool
		wantConfidence float64
		wantReason     string
	}{
		{
			name:           "ratio too low",
			policy:         testPolicy(),
			mutate:         func(m *domain.VolumeMetrics) { m.VolumeRatio = 0.3 },
			price:          100,
			wantAllowed:    false,
			wantConfidence: 0.3,
			wantReason:     "below minimum",
		},
		{
			name:           "ratio too high",
			policy:         testPolicy(),
			mutate:         func(m *domain.VolumeMetrics) { m.VolumeRatio = 7.0 },
			price:          100,
			wantAllowed:    false,
			wantConfidence: 0.2,
			wantReason:     "possible spike",
		},
		{
			name:           "z-score too high",
			policy:         testPolicy(),
			mutate:         func(m *domain.VolumeMetrics) { m.ZScore = 3.5 },
			price:          100,
			wantAllowed:    false,
			wantConfidence: 0.4,
			wantReason:     "above",
		},
		{
			name:           "z-score too low",
			policy:         testPolicy(),
			mutate:         func(m *domain.VolumeMetrics) { m.ZScore = -2.5 },
			price:          100,
			wantAllowed:    false,
			wantConfidence: 0.3,
			wantReason:     "below",
		},
		{
			name: "trend gate",
			policy: func() FilterPolicy {
				p := testPolicy()
				p.RequireIncreasingVolume = true
				return p
			}(),
			mutate:         func(m *domain.VolumeMetrics) { m.Trend = domain.VolumeTrendStable },
			price:          100,
			wantAllowed:    false,
			wantConfidence: 0.6,
			wantReason:     "increasing required",
		},
		{
			name:           "vwap distance gate",
			policy:         testPolicy(),
			mutate:         func(m *domain.VolumeMetrics) {},
			price:          110, // 10% from VWAP 100, max 2%
			wantAllowed:    false,
			wantConfidence: 0.7,
			wantReason:     "VWAP",
		},
		{
			name:   "ratio rule fires before vwap rule",
			policy: testPolicy(),
			mutate: func(m *domain.VolumeMetrics) {
				m.VolumeRatio = 0.3
			},
			price:          110,
			wantAllowed:    false,
			wantConfidence: 0.3,
			wantReason:     "below minimum",
		},
		{
			name:           "pass with vwap boost",
			policy:         testPolicy(),
			mutate:         func(m *domain.VolumeMetrics) {},
			price:          100, // exactly at VWAP
			wantAllowed:    true,
			wantConfidence: 1.0,
			wantReason:     "satisfied",
		},
		{
			name:   "pass without vwap data",
			policy: testPolicy(),
			mutate: func(m *domain.VolumeMetrics) { m.VWAP = 0 },
			price:          100,
			wantAllowed:    true,
			wantConfidence: 1.0,
			wantReason:     "satisfied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.policy)
			require.NoError(t, err)

			metrics := healthyMetrics()
			tt.mutate(&metrics)

			allowed, reason, confidence := f.ShouldAllowEntry(metrics, tt.price)
			assert.Equal(t, tt.wantAllowed, allowed)
			assert.InDelta(t, tt.wantConfidence, confidence, 1e-9)
			assert.Contains(t, reason, tt.wantReason)
		})
	}
}

func TestShouldAllowEntryDeterministic(t *testing.T) {
	f, err := NewFilter(testPolicy())
	require.NoError(t, err)

	metrics := healthyMetrics()
	allowed1, reason1, confidence1 := f.ShouldAllowEntry(metrics, 101)
	allowed2, reason2, confidence2 := f.ShouldAllowEntry(metrics, 101)

	assert.Equal(t, allowed1, allowed2)
	assert.Equal(t, reason1, reason2)
	assert.Equal(t, confidence1, confidence2)
}

func TestNewFilterRejectsMalformedPolicy(t *testing.T) {
	_, err := NewFilter(FilterPolicy{MinVolumeRatio: 5, MaxVolumeRatio: 1})
	assert.Error(t, err)

	_, err = NewFilter(FilterPolicy{VWAPDistancePct: -1})
	assert.Error(t, err)
}

func TestMakeDecision(t *testing.T) {
	f, err := NewFilter(testPolicy())
	require.NoError(t, err)

	decisionTime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.now = func() time.Time { return decisionTime }

	metrics := healthyMetrics()
	candle := domain.Candle{
		Timestamp: metrics.Timestamp,
		Close:     100,
		Volume:    metrics.Volume,
	}

	decision := f.MakeDecision(candle, metrics, "BTCUSDT")

	assert.Equal(t, domain.VerdictAllow, decision.Verdict)
	assert.True(t, decision.Allowed())
	assert.Equal(t, "BTCUSDT", decision.Symbol)
	assert.Equal(t, metrics.Timestamp, decision.Timestamp)
	assert.Equal(t, 100.0, decision.Price)
	assert.Equal(t, metrics, decision.Metrics)
	// wall-clock audit time, not market-data time
	assert.Equal(t, decisionTime, decision.CreatedAt)
	// price at VWAP: boosted and clamped
	assert.Equal(t, 1.0, decision.Confidence)
}

func TestMakeDecisionReject(t *testing.T) {
	f, err := NewFilter(testPolicy())
	require.NoError(t, err)

	metrics := healthyMetrics()
	metrics.VolumeRatio = 0.1

	decision := f.MakeDecision(domain.Candle{Close: 100}, metrics, "ETHUSDT")

	assert.Equal(t, domain.VerdictReject, decision.Verdict)
	assert.False(t, decision.Allowed())
	assert.Contains(t, decision.Reason, "below minimum")
	assert.InDelta(t, 0.3, decision.Confidence, 1e-9)
}
