package domain

// VolumeTrend qualitative direction of recent volume.
type VolumeTrend string

const (
	VolumeTrendIncreasing VolumeTrend = "increasing"
	VolumeTrendDecreasing VolumeTrend = "decreasing"
	VolumeTrendStable     VolumeTrend = "stable"
)

// AnomalyType classifies statistically abnormal volume.
type AnomalyType string

const (
	// AnomalyNone means volume is within the expected band.
	AnomalyNone AnomalyType = ""
	// AnomalyHighVolume means volume z-score exceeded the upper threshold.
	AnomalyHighVolume AnomalyType = "high_volume"
	// AnomalyLowVolume means volume z-score fell below the lower threshold.
	AnomalyLowVolume AnomalyType = "low_volume"
)

// VolumeMetrics derived per-candle volume statistics.
// This is a value object: never mutated after creation, owned by the caller.
type VolumeMetrics struct {
	// Timestamp is the source candle time in unix seconds.
	Timestamp int64
	// Volume is the raw candle volume.
	Volume float64
	// VolumeSMA is the simple moving average of volume over the configured period.
	VolumeSMA float64
	// VolumeEMA is the exponential moving average of volume over the configured period.
	VolumeEMA float64
	// VWAP is the volume-weighted average price over the trailing window.
	VWAP float64
	// VolumeRatio is Volume / VolumeSMA, 1.0 when the SMA is zero.
	VolumeRatio float64
	// ZScore is the standardized deviation of volume from the rolling window mean.
	ZScore float64
	// Trend is the qualitative direction of recent volume.
	Trend VolumeTrend
	// Anomaly is set when the z-score exceeds the statistical threshold.
	Anomaly bool
	// AnomalyType classifies the anomaly when Anomaly is set.
	AnomalyType AnomalyType
}

// VolumeProfile aggregate volume statistics over a closed batch of candles.
type VolumeProfile struct {
	AvgVolume    float64
	MedianVolume float64
	P25Volume    float64
	P50Volume    float64
	P75Volume    float64
	P90Volume    float64
	StdVolume    float64
	TotalVolume  float64
	CandleCount  int
}
