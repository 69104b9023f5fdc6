package orderbook

import (
	"crypto-market-depth/internal/domain"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

var ErrOrderingViolated = errors.New("order book ordering violated")

// OrderBook is one side of a pair: the offers consumed by trades of TradeType,
// best price first.
type OrderBook struct {
	TradeType domain.TradeType
	Offers    []domain.Offer
}

func New(tt domain.TradeType, offers ...domain.Offer) *OrderBook {
	return &OrderBook{TradeType: tt, Offers: offers}
}

func (b *OrderBook) Sign() int {
	return b.TradeType.Sign()
}

func (b *OrderBook) Len() int {
	return len(b.Offers)
}

// Best returns the top of book.
func (b *OrderBook) Best() (domain.Offer, bool) {
	if len(b.Offers) == 0 {
		return domain.Offer{}, false
	}
	return b.Offers[0], true
}

// Add appends an offer. Callers re-sort with Sort when adding out of order.
func (b *OrderBook) Add(offer domain.Offer) {
	b.Offers = append(b.Offers, offer)
}

// Sort orders the offers best price first.
func (b *OrderBook) Sort() {
	sign := b.Sign()
	slices.SortStableFunc(b.Offers, func(x, y domain.Offer) int {
		return sign * x.Price.Cmp(y.Price)
	})
}

func (b *OrderBook) Clone() *OrderBook {
	return &OrderBook{TradeType: b.TradeType, Offers: slices.Clone(b.Offers)}
}

// Validate checks the ordering invariant and that every level holds a
// positive amount.
func (b *OrderBook) Validate() error {
	sign := b.Sign()
	for i, offer := range b.Offers {
		if offer.Price.Sign() <= 0 || offer.AmountBase.Sign() <= 0 {
			return fmt.Errorf("%w: %s offer %d is %s", ErrOrderingViolated, b.TradeType, i, offer)
		}
		if i > 0 && sign*offer.Price.Cmp(b.Offers[i-1].Price) < 0 {
			return fmt.Errorf("%w: %s offer %d %s follows %s", ErrOrderingViolated, b.TradeType, i, offer, b.Offers[i-1])
		}
	}
	return nil
}

// Find binary-searches for the level at price.
func (b *OrderBook) Find(price decimal.Decimal) (int, bool) {
	sign := b.Sign()
	return slices.BinarySearchFunc(b.Offers, price, func(o domain.Offer, p decimal.Decimal) int {
		return sign * o.Price.Cmp(p)
	})
}

// Set inserts the level at price or overwrites it if present.
func (b *OrderBook) Set(offer domain.Offer) {
	i, found := b.Find(offer.Price)
	if found {
		b.Offers[i] = offer
		return
	}
	b.Offers = slices.Insert(b.Offers, i, offer)
}

// Replace overwrites the level at price only if it exists.
func (b *OrderBook) Replace(offer domain.Offer) bool {
	i, found := b.Find(offer.Price)
	if found {
		b.Offers[i] = offer
	}
	return found
}

// Remove deletes the level at price if it exists.
func (b *OrderBook) Remove(price decimal.Decimal) bool {
	i, found := b.Find(price)
	if found {
		b.Offers = slices.Delete(b.Offers, i, i+1)
	}
	return found
}

// Index returns where a new order at price would be queued: after every
// offer priced better or equal. beyond is true when that position is past
// the last offer.
func (b *OrderBook) Index(price decimal.Decimal) (index int, beyond bool) {
	sign := b.Sign()
	index = sort.Search(len(b.Offers), func(i int) bool {
		return sign*b.Offers[i].Price.Cmp(price) > 0
	})
	return index, index == len(b.Offers)
}

// Depth returns the base volume queued ahead of a new order at price.
func (b *OrderBook) Depth(price decimal.Decimal) (volume decimal.Decimal, beyond bool) {
	index, beyond := b.Index(price)
	volume = decimal.Zero
	for _, offer := range b.Offers[:index] {
		volume = volume.Add(offer.AmountBase)
	}
	return volume, beyond
}

// Volume is the total base amount in the book.
func (b *OrderBook) Volume() decimal.Decimal {
	volume := decimal.Zero
	for _, offer := range b.Offers {
		volume = volume.Add(offer.AmountBase)
	}
	return volume
}
