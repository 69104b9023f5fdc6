package luno

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type SequenceIncorrectError struct {
	ExpectedSequence int64
	ActualSequence   int64
}

func (e *SequenceIncorrectError) Error() string {
	return fmt.Sprintf("sequence number mismatch. Expected: %d, got: %d", e.ExpectedSequence, e.ActualSequence)
}

type LunoWebsocketAuthenticationRequest struct {
	ApiKeyId     string `json:"api_key_id"`
	ApiKeySecret string `json:"api_key_secret"`
}

// LunoOrderBookFeedSnapshot is the first frame on a stream connection. It
// lists individual orders, not price levels.
type LunoOrderBookFeedSnapshot struct {
	Sequence  int64                `json:"sequence,string"`
	Asks      []LunoOrderBookOrder `json:"asks"`
	Bids      []LunoOrderBookOrder `json:"bids"`
	Status    string               `json:"status"`
	Timestamp int64                `json:"timestamp"`
}

type LunoOrderBookOrder struct {
	Id     string          `json:"id"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

type LunoOrderBookFeedMessage struct {
	Sequence     int64                          `json:"sequence,string"`
	TradeUpdates []LunoOrderBookFeedTradeUpdate `json:"trade_updates"`
	CreateUpdate *LunoOrderBookFeedCreateUpdate `json:"create_update"`
	DeleteUpdate *LunoOrderBookFeedDeleteUpdate `json:"delete_update"`
	StatusUpdate *LunoOrderBookFeedStatusUpdate `json:"status_update"`
	Timestamp    int64                          `json:"timestamp"`
}

type LunoOrderBookFeedTradeUpdate struct {
	Sequence     int64           `json:"sequence"`
	Base         decimal.Decimal `json:"base"`
	Counter      decimal.Decimal `json:"counter"`
	MakerOrderId string          `json:"maker_order_id"`
	TakerOrderId string          `json:"taker_order_id"`
}

type LunoOrderBookFeedCreateUpdate struct {
	OrderId string          `json:"order_id"`
	Type    string          `json:"type"`
	Price   decimal.Decimal `json:"price"`
	Volume  decimal.Decimal `json:"volume"`
}

type LunoOrderBookFeedDeleteUpdate struct {
	OrderId string `json:"order_id"`
}

type LunoOrderBookFeedStatusUpdate struct {
	Status string `json:"status"`
}
