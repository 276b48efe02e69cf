package domain

import "github.com/shopspring/decimal"

// SizeRecommendation volatility-adjusted position size suggestion.
type SizeRecommendation struct {
	// RecommendedSize is the suggested position value in quote currency.
	RecommendedSize decimal.Decimal
	// VolatilityFactor is the multiplier applied to the raw risk allocation.
	VolatilityFactor float64
	// VolatilityMetric is the ATR% the factor was derived from.
	VolatilityMetric float64
}

// RiskBudget risk-based allocation logic.
type RiskBudget struct {
	fraction float64
}

// NewRiskBudget returns a risk budget for a fraction of balance in [0, 1].
func NewRiskBudget(fraction float64) RiskBudget {
	return RiskBudget{fraction: fraction}
}

// Value calculates the position value in quote currency.
func (r RiskBudget) Value(balance decimal.Decimal) decimal.Decimal {
	if r.fraction <= 0 {
		return decimal.Zero
	}
	value := balance.Mul(decimal.NewFromFloat(r.fraction))
	if value.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return value
}

// Allocate calculates position value and base asset size at a given price.
func (r RiskBudget) Allocate(balance, price decimal.Decimal) (positionValue decimal.Decimal, amount decimal.Decimal) {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero
	}

	positionValue = r.Value(balance)
	if positionValue.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	amount = positionValue.Div(price)
	return positionValue, amount
}
