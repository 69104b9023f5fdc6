package orderbook

import (
	"crypto-market-depth/internal/domain"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func offer(price, amount string) domain.Offer {
	return domain.Offer{Price: d(price), AmountBase: d(amount)}
}

func pairWithMinBase(min string) domain.TradePair {
	return domain.TradePair{
		Name:            "XBTMYR",
		Base:            "XBT",
		Quote:           "MYR",
		AmountRangeBase: domain.AmountRange{Min: d(min)},
	}
}

func requireOffers(t *testing.T, expected, actual []domain.Offer) {
	t.Helper()
	require.Len(t, actual, len(expected))
	for i := range expected {
		assert.True(t, expected[i].Price.Equal(actual[i].Price), "price %d: want %s got %s", i, expected[i].Price, actual[i].Price)
		assert.True(t, expected[i].AmountBase.Equal(actual[i].AmountBase), "amount %d: want %s got %s", i, expected[i].AmountBase, actual[i].AmountBase)
	}
}

func TestSortAndValidate(t *testing.T) {
	asks := New(domain.Q2B, offer("101", "1"), offer("100", "1"), offer("102", "1"))
	asks.Sort()
	requireOffers(t, []domain.Offer{offer("100", "1"), offer("101", "1"), offer("102", "1")}, asks.Offers)
	require.NoError(t, asks.Validate())

	bids := New(domain.B2Q, offer("99", "1"), offer("98", "1"), offer("97", "1"))
	require.NoError(t, bids.Validate())

	bids.Offers[0], bids.Offers[2] = bids.Offers[2], bids.Offers[0]
	assert.ErrorIs(t, bids.Validate(), ErrOrderingViolated)

	negative := New(domain.Q2B, offer("100", "-1"))
	assert.ErrorIs(t, negative.Validate(), ErrOrderingViolated)

	empty := New(domain.Q2B, offer("100", "0"), offer("101", "1"))
	assert.ErrorIs(t, empty.Validate(), ErrOrderingViolated)
}

func TestSetReplaceRemove(t *testing.T) {
	bids := New(domain.B2Q, offer("99", "1"), offer("97", "1"))

	bids.Set(offer("98", "2"))
	requireOffers(t, []domain.Offer{offer("99", "1"), offer("98", "2"), offer("97", "1")}, bids.Offers)

	bids.Set(offer("99", "5"))
	assert.True(t, bids.Offers[0].AmountBase.Equal(d("5")))

	assert.False(t, bids.Replace(offer("96", "1")))
	assert.True(t, bids.Replace(offer("97", "3")))

	assert.True(t, bids.Remove(d("98")))
	assert.False(t, bids.Remove(d("98")))
	requireOffers(t, []domain.Offer{offer("99", "5"), offer("97", "3")}, bids.Offers)
	require.NoError(t, bids.Validate())
}

func TestConsumeMarketPartialFill(t *testing.T) {
	book := New(domain.Q2B, offer("100", "5"), offer("101", "5"))

	fills, remaining := book.Consume(pairWithMinBase("1"), domain.Market, decimal.Zero, d("7"))

	requireOffers(t, []domain.Offer{offer("100", "5"), offer("101", "2")}, fills)
	assert.True(t, remaining.IsZero())
	requireOffers(t, []domain.Offer{offer("101", "3")}, book.Offers)
}

func TestConsumeDustAbsorbsWholeOffer(t *testing.T) {
	book := New(domain.Q2B, offer("100", "5"), offer("101", "5"))

	// Taking the 5 at 100 would leave 2 to fill, below the minimum of 4, so
	// the walk stops and the final offer is absorbed whole.
	fills, remaining := book.Consume(pairWithMinBase("4"), domain.Market, decimal.Zero, d("7"))

	requireOffers(t, []domain.Offer{offer("100", "5")}, fills)
	assert.True(t, remaining.IsZero())
	requireOffers(t, []domain.Offer{offer("101", "5")}, book.Offers)
}

func TestConsumeDustOnSplit(t *testing.T) {
	book := New(domain.Q2B, offer("100", "5"), offer("101", "5"))

	// 8 = 5 + 3: the 3-unit slice is legal but would leave 2 at 101 (< 3).
	fills, remaining := book.Consume(pairWithMinBase("3"), domain.Market, decimal.Zero, d("8"))

	requireOffers(t, []domain.Offer{offer("100", "5"), offer("101", "5")}, fills)
	assert.True(t, remaining.IsZero())
	assert.Zero(t, book.Len())
}

func TestConsumeExactMatch(t *testing.T) {
	book := New(domain.B2Q, offer("100", "5"), offer("99", "5"))

	fills, remaining := book.Consume(pairWithMinBase("1"), domain.Market, decimal.Zero, d("10"))

	requireOffers(t, []domain.Offer{offer("100", "5"), offer("99", "5")}, fills)
	assert.True(t, remaining.IsZero())
	assert.Zero(t, book.Len())
}

func TestConsumeLimitStopsAtPrice(t *testing.T) {
	asks := New(domain.Q2B, offer("100", "5"), offer("101", "5"), offer("102", "5"))

	fills, remaining := asks.Consume(pairWithMinBase("1"), domain.Limit, d("101"), d("20"))

	requireOffers(t, []domain.Offer{offer("100", "5"), offer("101", "5")}, fills)
	assert.True(t, remaining.Equal(d("10")))
	requireOffers(t, []domain.Offer{offer("102", "5")}, asks.Offers)

	bids := New(domain.B2Q, offer("100", "5"), offer("99", "5"))
	fills, remaining = bids.Consume(pairWithMinBase("1"), domain.Limit, d("100.5"), d("3"))
	assert.Empty(t, fills)
	assert.True(t, remaining.Equal(d("3")))
}

func TestConsumeThinBook(t *testing.T) {
	book := New(domain.Q2B, offer("100", "5"))

	fills, remaining := book.Consume(pairWithMinBase("1"), domain.Market, decimal.Zero, d("8"))

	// taking the 5 would leave 3, which is legal, then the book is empty
	requireOffers(t, []domain.Offer{offer("100", "5")}, fills)
	assert.True(t, remaining.Equal(d("3")))

	fills, remaining = New(domain.Q2B).Consume(pairWithMinBase("1"), domain.Market, decimal.Zero, d("8"))
	assert.Empty(t, fills)
	assert.True(t, remaining.Equal(d("8")))
}

func TestConsumeStopOrder(t *testing.T) {
	pair := pairWithMinBase("1")

	// Buy stop at 105 with best ask 100: not triggered.
	asks := New(domain.Q2B, offer("100", "5"), offer("106", "5"))
	fills, remaining := asks.Consume(pair, domain.Stop, d("105"), d("2"))
	assert.Empty(t, fills)
	assert.True(t, remaining.Equal(d("2")))
	assert.Equal(t, 2, asks.Len())

	// Buy stop at 100: triggered, fills as a market order.
	fills, remaining = asks.Consume(pair, domain.Stop, d("100"), d("7"))
	requireOffers(t, []domain.Offer{offer("100", "5"), offer("106", "2")}, fills)
	assert.True(t, remaining.IsZero())

	// Sell stop at 90 with best bid 95: not triggered until bids fall to 90.
	bids := New(domain.B2Q, offer("95", "5"))
	fills, _ = bids.Consume(pair, domain.Stop, d("90"), d("1"))
	assert.Empty(t, fills)
	fills, _ = bids.Consume(pair, domain.Stop, d("96"), d("1"))
	requireOffers(t, []domain.Offer{offer("95", "1")}, fills)
}

func TestConsumeAboveMaxFillsNothing(t *testing.T) {
	pair := domain.TradePair{
		Name:            "XBTMYR",
		AmountRangeBase: domain.AmountRange{Min: d("1"), Max: d("10")},
	}
	book := New(domain.Q2B, offer("100", "1"), offer("101", "15"))

	fills, remaining := book.Consume(pair, domain.Market, decimal.Zero, d("12"))
	assert.Empty(t, fills)
	assert.True(t, remaining.Equal(d("12")))
	assert.Equal(t, 2, book.Len())

	fills, remaining = book.Consume(pair, domain.Market, decimal.Zero, d("10"))
	requireOffers(t, []domain.Offer{offer("100", "1"), offer("101", "9")}, fills)
	assert.True(t, remaining.IsZero())
	requireOffers(t, []domain.Offer{offer("101", "6")}, book.Offers)
}

func TestConsumeQuoteLimits(t *testing.T) {
	pair := domain.TradePair{
		Name:             "XBTMYR",
		AmountRangeBase:  domain.AmountRange{Min: d("0.001")},
		AmountRangeQuote: domain.AmountRange{Min: d("50")},
	}
	book := New(domain.Q2B, offer("100", "1"), offer("100.5", "1"))

	// Taking the first offer leaves 0.3 * 100 = 30 quote, under 50: stop
	// before it, then absorb it whole.
	fills, remaining := book.Consume(pair, domain.Market, decimal.Zero, d("1.3"))
	requireOffers(t, []domain.Offer{offer("100", "1")}, fills)
	assert.True(t, remaining.IsZero())
}

// Every call must conserve the requested amount unless dust was absorbed, and
// a split must never produce an illegal slice or residual.
func TestConsumeConservationAndDustSafety(t *testing.T) {
	pair := pairWithMinBase("0.5")
	amounts := []string{"0.5", "1", "2.5", "3", "4.75", "6", "9.5", "12", "20"}

	for _, amount := range amounts {
		book := New(domain.Q2B, offer("100", "2"), offer("100.5", "3"), offer("101", "4"), offer("102", "1.5"))
		before := book.Volume()
		requested := d(amount)

		fills, remaining := book.Consume(pair, domain.Market, decimal.Zero, requested)
		filled := Summarize(fills).AmountBase

		assert.True(t, before.Equal(filled.Add(book.Volume())), "amount %s: book volume not conserved", amount)
		if filled.Add(remaining).Equal(requested) {
			for _, fill := range fills {
				assert.True(t, fill.IsLegal(pair), "amount %s: illegal fill %s", amount, fill)
			}
		} else {
			// dust absorbed: the discrepancy is itself untradeable
			diff := filled.Add(remaining).Sub(requested).Abs()
			assert.False(t, pair.AmountRangeBase.Contains(diff), "amount %s: absorbed %s", amount, diff)
		}
		for _, rest := range book.Offers {
			assert.True(t, rest.IsLegal(pair), "amount %s: illegal residual %s", amount, rest)
		}
		require.NoError(t, book.Validate())
	}
}

func TestIndexAndDepth(t *testing.T) {
	bids := New(domain.B2Q, offer("100", "1"), offer("99", "2"), offer("98", "3"))

	index, beyond := bids.Index(d("99"))
	assert.Equal(t, 2, index)
	assert.False(t, beyond)

	volume, beyond := bids.Depth(d("99.5"))
	assert.True(t, volume.Equal(d("1")))
	assert.False(t, beyond)

	volume, beyond = bids.Depth(d("50"))
	assert.True(t, volume.Equal(d("6")))
	assert.True(t, beyond)

	index, beyond = bids.Index(d("101"))
	assert.Equal(t, 0, index)
	assert.False(t, beyond)
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]domain.Offer{offer("100", "1"), offer("102", "3")})
	assert.True(t, summary.AmountBase.Equal(d("4")))
	assert.True(t, summary.AmountQuote.Equal(d("406")))
	assert.True(t, summary.AveragePrice.Equal(d("101.5")))

	empty := Summarize(nil)
	assert.True(t, empty.AveragePrice.IsZero())
}
