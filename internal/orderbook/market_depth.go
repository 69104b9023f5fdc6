package orderbook

import (
	"crypto-market-depth/internal/domain"
	"slices"

	"github.com/shopspring/decimal"
)

// MarketDepth pairs the two books of a trading pair.
type MarketDepth struct {
	Pair domain.TradePair
	// Q2B is the buy-side book: offers a Q2B trade consumes, ascending price.
	Q2B *OrderBook
	// B2Q is the sell-side book: offers a B2Q trade consumes, descending price.
	B2Q *OrderBook

	changed *Notifier[*MarketDepth]
}

func NewMarketDepth(pair domain.TradePair) *MarketDepth {
	return &MarketDepth{
		Pair:    pair,
		Q2B:     New(domain.Q2B),
		B2Q:     New(domain.B2Q),
		changed: &Notifier[*MarketDepth]{},
	}
}

// Book returns the book consumed by trades of tt.
func (d *MarketDepth) Book(tt domain.TradeType) *OrderBook {
	if tt == domain.Q2B {
		return d.Q2B
	}
	return d.B2Q
}

func (d *MarketDepth) IsEmpty() bool {
	return d.Q2B.Len() == 0 && d.B2Q.Len() == 0
}

// OnChanged registers fn to receive a copy of the depth after each successful
// bulk update or consume. Handlers run on the mutating goroutine, so a depth
// owned by a MarketStream is observed through the stream instead, which
// notifies after releasing its lock.
func (d *MarketDepth) OnChanged(fn func(*MarketDepth)) (cancel func()) {
	if d.changed == nil {
		d.changed = &Notifier[*MarketDepth]{}
	}
	return d.changed.Subscribe(fn)
}

func (d *MarketDepth) notifyChanged() {
	if d.changed == nil || d.changed.Len() == 0 {
		return
	}
	d.changed.Notify(d.Clone())
}

// AssertOrdersValid checks both books' ordering invariants.
func (d *MarketDepth) AssertOrdersValid() error {
	if err := d.Q2B.Validate(); err != nil {
		return err
	}
	return d.B2Q.Validate()
}

// UpdateOrderBooks replaces both sides. Empty levels are dropped, the rest
// are sorted into each side's order and validated before "changed" fires; on
// a validation error the new state is kept for inspection and no notification
// is sent.
func (d *MarketDepth) UpdateOrderBooks(sell, buy []domain.Offer) error {
	d.B2Q = New(domain.B2Q, withoutEmpty(sell)...)
	d.Q2B = New(domain.Q2B, withoutEmpty(buy)...)
	d.B2Q.Sort()
	d.Q2B.Sort()
	if err := d.AssertOrdersValid(); err != nil {
		return err
	}
	d.notifyChanged()
	return nil
}

func withoutEmpty(offers []domain.Offer) []domain.Offer {
	return slices.DeleteFunc(slices.Clone(offers), func(offer domain.Offer) bool {
		return offer.AmountBase.IsZero()
	})
}

// Reset empties both sides without notifying.
func (d *MarketDepth) Reset() {
	d.Q2B = New(domain.Q2B)
	d.B2Q = New(domain.B2Q)
}

// Consume fills a trade of direction tt against the matching book.
func (d *MarketDepth) Consume(tt domain.TradeType, kind domain.OrderKind, limit, amountBase decimal.Decimal) ([]domain.Offer, decimal.Decimal) {
	fills, remaining := d.Book(tt).Consume(d.Pair, kind, limit, amountBase)
	if len(fills) != 0 {
		d.notifyChanged()
	}
	return fills, remaining
}

// OrderBookIndex returns the queue position a resting order of direction tt
// at price would take. Resting Q2B orders wait in the book B2Q trades consume
// and vice versa.
func (d *MarketDepth) OrderBookIndex(tt domain.TradeType, price decimal.Decimal) (int, bool) {
	return d.Book(tt.Opposite()).Index(price)
}

// OrderBookDepth returns the base volume ahead of a resting order of
// direction tt at price.
func (d *MarketDepth) OrderBookDepth(tt domain.TradeType, price decimal.Decimal) (decimal.Decimal, bool) {
	return d.Book(tt.Opposite()).Depth(price)
}

// Clone returns a deep copy with no observers attached.
func (d *MarketDepth) Clone() *MarketDepth {
	return &MarketDepth{
		Pair:    d.Pair,
		Q2B:     d.Q2B.Clone(),
		B2Q:     d.B2Q.Clone(),
		changed: &Notifier[*MarketDepth]{},
	}
}

// Top returns a copy holding at most levels offers per side.
func (d *MarketDepth) Top(levels int) *MarketDepth {
	top := d.Clone()
	if levels > 0 {
		if top.Q2B.Len() > levels {
			top.Q2B.Offers = top.Q2B.Offers[:levels]
		}
		if top.B2Q.Len() > levels {
			top.B2Q.Offers = top.B2Q.Offers[:levels]
		}
	}
	return top
}
