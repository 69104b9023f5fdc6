package luno

import (
	"crypto-market-depth/internal/domain"
	"errors"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func order(id, price, volume string) LunoOrderBookOrder {
	return LunoOrderBookOrder{Id: id, Price: d(price), Volume: d(volume)}
}

func sortedLevels(offers []domain.Offer) []string {
	levels := make([]string, 0, len(offers))
	for _, offer := range offers {
		levels = append(levels, offer.String())
	}
	sort.Strings(levels)
	return levels
}

func testSnapshot() *LunoOrderBookFeedSnapshot {
	return &LunoOrderBookFeedSnapshot{
		Sequence: 40,
		Asks:     []LunoOrderBookOrder{order("a1", "100", "1"), order("a2", "100.00", "2"), order("a3", "101", "1")},
		Bids:     []LunoOrderBookOrder{order("b1", "99", "1"), order("b2", "98", "0.5")},
	}
}

func TestSnapshotAggregatesOrders(t *testing.T) {
	state, update := newOrderBookState("XBTMYR", testSnapshot())

	assert.Equal(t, domain.Snapshot, update.Kind)
	assert.Equal(t, int64(40), update.Nonce)
	assert.Equal(t, "XBTMYR", update.Pair)
	assert.Equal(t, sortedLevels([]domain.Offer{
		{Price: d("100"), AmountBase: d("3")},
		{Price: d("101"), AmountBase: d("1")},
	}), sortedLevels(update.Q2BOffers))
	assert.Len(t, update.B2QOffers, 2)
	assert.Len(t, state.orders, 5)
}

func TestTradeUpdatesLevel(t *testing.T) {
	state, _ := newOrderBookState("XBTMYR", testSnapshot())

	update, err := state.apply("XBTMYR", &LunoOrderBookFeedMessage{
		Sequence: 41,
		TradeUpdates: []LunoOrderBookFeedTradeUpdate{
			{Base: d("0.5"), MakerOrderId: "a1"},
			{Base: d("0.5"), MakerOrderId: "b2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.Delta, update.Kind)
	assert.Equal(t, int64(41), update.Nonce)
	require.Len(t, update.Q2BChanges, 1)
	assert.Equal(t, domain.Update, update.Q2BChanges[0].Op)
	assert.True(t, update.Q2BChanges[0].Amount.Equal(d("2.5")))

	require.Len(t, update.B2QChanges, 1)
	assert.Equal(t, domain.Remove, update.B2QChanges[0].Op)
	assert.True(t, update.B2QChanges[0].Price.Equal(d("98")))
	assert.NotContains(t, state.orders, "b2")
}

func TestCreateAndDelete(t *testing.T) {
	state, _ := newOrderBookState("XBTMYR", testSnapshot())

	update, err := state.apply("XBTMYR", &LunoOrderBookFeedMessage{
		Sequence:     41,
		CreateUpdate: &LunoOrderBookFeedCreateUpdate{OrderId: "b3", Type: "BID", Price: d("97"), Volume: d("2")},
	})
	require.NoError(t, err)
	assert.Empty(t, update.Q2BChanges)
	require.Len(t, update.B2QChanges, 1)
	assert.Equal(t, domain.Add, update.B2QChanges[0].Op)
	assert.True(t, update.B2QChanges[0].Amount.Equal(d("2")))

	update, err = state.apply("XBTMYR", &LunoOrderBookFeedMessage{
		Sequence:     42,
		DeleteUpdate: &LunoOrderBookFeedDeleteUpdate{OrderId: "a2"},
	})
	require.NoError(t, err)
	require.Len(t, update.Q2BChanges, 1)
	assert.Equal(t, domain.Update, update.Q2BChanges[0].Op)
	assert.True(t, update.Q2BChanges[0].Amount.Equal(d("1")))

	update, err = state.apply("XBTMYR", &LunoOrderBookFeedMessage{
		Sequence:     43,
		DeleteUpdate: &LunoOrderBookFeedDeleteUpdate{OrderId: "unknown"},
	})
	require.NoError(t, err)
	assert.Empty(t, update.Q2BChanges)
	assert.Empty(t, update.B2QChanges)
}

func TestSequenceGap(t *testing.T) {
	state, _ := newOrderBookState("XBTMYR", testSnapshot())

	_, err := state.apply("XBTMYR", &LunoOrderBookFeedMessage{Sequence: 43})

	var sequenceErr *SequenceIncorrectError
	require.True(t, errors.As(err, &sequenceErr))
	assert.Equal(t, int64(41), sequenceErr.ExpectedSequence)
	assert.Equal(t, int64(43), sequenceErr.ActualSequence)
}

func TestStreamProcess(t *testing.T) {
	stream := &lunoStream{pair: "XBTMYR"}

	_, ok, err := stream.process([]byte(`""`))
	require.NoError(t, err)
	assert.False(t, ok)

	update, ok, err := stream.process([]byte(`{"sequence":"7","asks":[{"id":"a1","price":"100.5","volume":"0.2"}],"bids":[],"status":"ACTIVE","timestamp":1}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Snapshot, update.Kind)
	assert.Equal(t, int64(7), update.Nonce)

	_, ok, err = stream.process([]byte(`{"sequence":"8","status_update":{"status":"POSTONLY"},"timestamp":2}`))
	require.NoError(t, err)
	assert.False(t, ok)

	update, ok, err = stream.process([]byte(`{"sequence":"9","trade_updates":[{"base":"0.2","counter":"20.1","maker_order_id":"a1","taker_order_id":"x"}],"timestamp":3}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, update.Q2BChanges, 1)
	assert.Equal(t, domain.Remove, update.Q2BChanges[0].Op)
	assert.Equal(t, int64(9), stream.sequence)

	stream.reset()
	assert.Nil(t, stream.state)
}
