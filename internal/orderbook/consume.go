package orderbook

import (
	"crypto-market-depth/internal/domain"

	"github.com/shopspring/decimal"
)

// Consume removes liquidity from the book for a trade of amountBase and
// returns the consumed slices in fill order plus the unfilled remainder.
//
// Whole offers are taken best first while the amount left over stays a legal
// trade on pair. Whatever is left is filled from the next offer: split when
// both the slice and the offer's residual are legal, otherwise the whole offer
// is taken and the remainder is dropped. No consumed slice or residual offer is
// ever created below the pair's limits by a split.
//
// Stop orders fill nothing until the top of book has crossed limit, after
// which they behave as market orders. A request above the pair's maximum base
// amount is not a legal trade and fills nothing; it comes back whole as the
// remainder.
func (b *OrderBook) Consume(pair domain.TradePair, kind domain.OrderKind, limit, amountBase decimal.Decimal) (fills []domain.Offer, remaining decimal.Decimal) {
	remaining = amountBase
	if amountBase.Sign() <= 0 || len(b.Offers) == 0 {
		return nil, remaining
	}
	if max := pair.AmountRangeBase.Max; !max.IsZero() && amountBase.GreaterThan(max) {
		return nil, remaining
	}

	sign := b.Sign()
	if kind == domain.Stop {
		if sign*limit.Cmp(b.Offers[0].Price) > 0 {
			return nil, remaining
		}
		kind = domain.Market
	}
	acceptable := func(offer domain.Offer) bool {
		return kind == domain.Market || sign*offer.Price.Cmp(limit) <= 0
	}

	for len(b.Offers) != 0 && remaining.Sign() > 0 {
		offer := b.Offers[0]
		if !acceptable(offer) {
			break
		}
		after := remaining.Sub(offer.AmountBase)
		if !after.IsZero() && !pair.IsLegalAmount(after, offer.Price) {
			break
		}
		fills = append(fills, offer)
		b.Offers = b.Offers[1:]
		remaining = after
	}

	if remaining.Sign() > 0 && len(b.Offers) != 0 && acceptable(b.Offers[0]) {
		offer := b.Offers[0]
		residual := offer.AmountBase.Sub(remaining)
		if pair.IsLegalAmount(residual, offer.Price) && pair.IsLegalAmount(remaining, offer.Price) {
			fills = append(fills, domain.Offer{Price: offer.Price, AmountBase: remaining})
			b.Offers[0] = domain.Offer{Price: offer.Price, AmountBase: residual}
		} else {
			// dust: take the whole offer
			fills = append(fills, offer)
			b.Offers = b.Offers[1:]
		}
		remaining = decimal.Zero
	}

	return fills, remaining
}

// FillSummary aggregates consumed slices.
type FillSummary struct {
	AmountBase   decimal.Decimal `json:"amount_base"`
	AmountQuote  decimal.Decimal `json:"amount_quote"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

func Summarize(fills []domain.Offer) FillSummary {
	summary := FillSummary{AmountBase: decimal.Zero, AmountQuote: decimal.Zero, AveragePrice: decimal.Zero}
	for _, fill := range fills {
		summary.AmountBase = summary.AmountBase.Add(fill.AmountBase)
		summary.AmountQuote = summary.AmountQuote.Add(fill.AmountQuote())
	}
	if !summary.AmountBase.IsZero() {
		summary.AveragePrice = summary.AmountQuote.Div(summary.AmountBase)
	}
	return summary
}
