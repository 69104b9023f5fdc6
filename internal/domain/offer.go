package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice  = errors.New("offer price must be positive")
	ErrInvalidAmount = errors.New("offer amount must be positive")
)

// Offer is a single price level: a price (quote per base) and the base amount
// available at it. Offers are values; a book replaces them, it never edits one.
type Offer struct {
	Price      decimal.Decimal `json:"price"`
	AmountBase decimal.Decimal `json:"amount"`
}

func NewOffer(price, amountBase decimal.Decimal) (Offer, error) {
	if price.Sign() <= 0 {
		return Offer{}, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	if amountBase.Sign() <= 0 {
		return Offer{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amountBase)
	}
	return Offer{Price: price, AmountBase: amountBase}, nil
}

// AmountQuote is the value of the offer in quote currency.
func (o Offer) AmountQuote() decimal.Decimal {
	return o.AmountBase.Mul(o.Price)
}

// IsLegal reports whether the offer can be traded on pair.
func (o Offer) IsLegal(pair TradePair) bool {
	return pair.IsLegalAmount(o.AmountBase, o.Price)
}

func (o Offer) String() string {
	return fmt.Sprintf("{%s %s}", o.Price, o.AmountBase)
}
