package domain

import "time"

// CorrelationMatrix symmetric mapping of pairwise return correlation.
// Values are Pearson coefficients in [-1, 1]; the diagonal is always 1.0.
type CorrelationMatrix map[string]map[string]float64

// Get returns the correlation between two symbols, 0.0 when absent.
func (m CorrelationMatrix) Get(a, b string) float64 {
	if row, ok := m[a]; ok {
		return row[b]
	}
	return 0
}

// CorrelationAlert is emitted when pairwise correlation crosses a threshold.
// Transient; not persisted.
type CorrelationAlert struct {
	SymbolA     string
	SymbolB     string
	Correlation float64
	Threshold   float64
	Timestamp   time.Time
	AlertType   string
}

// AlertHighCorrelation marks a pair whose correlation reached the threshold.
const AlertHighCorrelation = "HIGH_CORRELATION"

// PricePoint single historical close observation for a symbol.
type PricePoint struct {
	// Timestamp is unix seconds of the observation.
	Timestamp int64
	Close     float64
}
