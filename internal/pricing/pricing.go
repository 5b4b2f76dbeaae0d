package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	DefaultThreshold = 12
	// subtotals are persisted at cent precision
	moneyPlaces = 2
	// charged unit prices are persisted as numeric(12,4)
	unitPlaces = 4
)

var DefaultRate = decimal.RequireFromString("0.10")

// Policy is the wholesale discount rule: lines of Threshold units or more are
// charged unitPrice * (1 - Rate).
type Policy struct {
	Threshold int
	Rate      decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Rate: DefaultRate}
}

func NewPolicy(threshold int, rate decimal.Decimal) (Policy, error) {
	if threshold < 1 {
		return Policy{}, fmt.Errorf("pricing: threshold must be at least 1, got %d", threshold)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Policy{}, fmt.Errorf("pricing: rate must be in [0, 1), got %s", rate)
	}
	return Policy{Threshold: threshold, Rate: rate}, nil
}

func (p Policy) Applies(qty int) bool {
	return qty >= p.Threshold
}

// Price returns the per-unit price actually charged, at the 4 places it is
// stored with. Cent rounding happens on the line subtotal.
func (p Policy) Price(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	if !p.Applies(qty) {
		return unitPrice
	}
	return unitPrice.Mul(decimal.NewFromInt(1).Sub(p.Rate)).Round(unitPlaces)
}

// Discount is the per-unit amount taken off the list price.
func (p Policy) Discount(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Sub(p.Price(unitPrice, qty))
}

func LineSubtotal(charged decimal.Decimal, qty int) decimal.Decimal {
	return charged.Mul(decimal.NewFromInt(int64(qty))).Round(moneyPlaces)
}
