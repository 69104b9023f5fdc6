package domain

import "github.com/shopspring/decimal"

// AmountRange is an inclusive [Min,Max] range. A zero Max means unbounded.
type AmountRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (r AmountRange) Contains(v decimal.Decimal) bool {
	if v.LessThan(r.Min) {
		return false
	}
	return r.Max.IsZero() || v.LessThanOrEqual(r.Max)
}

// TradePair identifies a market and carries its tradable amount limits.
type TradePair struct {
	Name             string
	Base             string
	Quote            string
	AmountRangeBase  AmountRange
	AmountRangeQuote AmountRange
}

// IsLegalAmount reports whether amountBase, traded at price, falls inside the
// pair's limits in both base and quote units. Zero is never legal.
func (p TradePair) IsLegalAmount(amountBase, price decimal.Decimal) bool {
	if amountBase.Sign() <= 0 {
		return false
	}
	return p.AmountRangeBase.Contains(amountBase) &&
		p.AmountRangeQuote.Contains(amountBase.Mul(price))
}
