package domain

import "time"

// Verdict is the admit/reject outcome of the volume filter.
type Verdict string

const (
	VerdictAllow  Verdict = "allow"
	VerdictReject Verdict = "reject"
)

// VolumeDecision is the audit record of a single entry-admission decision.
// Persisted append-only; never updated or deleted.
type VolumeDecision struct {
	// Timestamp is the source candle time in unix seconds.
	Timestamp int64
	Symbol    string
	Price     float64
	Volume    float64
	// Metrics are the volume analytics the decision was based on.
	Metrics VolumeMetrics
	Verdict Verdict
	// Reason is a human-readable explanation of the verdict.
	Reason string
	// Confidence is the decision confidence in [0, 1].
	Confidence float64
	// CreatedAt is the wall-clock time the decision was made,
	// distinct from market-data time.
	CreatedAt time.Time
}

// Allowed reports whether the decision admits the entry.
func (d VolumeDecision) Allowed() bool {
	return d.Verdict == VerdictAllow
}
