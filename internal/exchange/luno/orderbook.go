package luno

import (
	"crypto-market-depth/internal/domain"
	"sort"

	"github.com/shopspring/decimal"
)

type lunoOrder struct {
	side   domain.TradeType
	price  decimal.Decimal
	volume decimal.Decimal
}

// orderBookState folds Luno's order-level feed into price levels. Asks rest
// in the Q2B book, bids in the B2Q book.
type orderBookState struct {
	sequence int64
	orders   map[string]lunoOrder
	levels   map[domain.TradeType]map[string]domain.Offer
}

func orderSide(orderType string) domain.TradeType {
	if orderType == "ASK" {
		return domain.Q2B
	}
	return domain.B2Q
}

func newOrderBookState(pair string, snapshot *LunoOrderBookFeedSnapshot) (*orderBookState, domain.OrderBookUpdate) {
	state := &orderBookState{
		sequence: snapshot.Sequence,
		orders:   make(map[string]lunoOrder),
		levels: map[domain.TradeType]map[string]domain.Offer{
			domain.Q2B: {},
			domain.B2Q: {},
		},
	}
	for _, ask := range snapshot.Asks {
		state.addOrder(ask.Id, domain.Q2B, ask.Price, ask.Volume)
	}
	for _, bid := range snapshot.Bids {
		state.addOrder(bid.Id, domain.B2Q, bid.Price, bid.Volume)
	}

	return state, domain.OrderBookUpdate{
		Pair:      pair,
		Nonce:     snapshot.Sequence,
		Kind:      domain.Snapshot,
		Q2BOffers: state.offers(domain.Q2B),
		B2QOffers: state.offers(domain.B2Q),
	}
}

func (s *orderBookState) addOrder(id string, side domain.TradeType, price, volume decimal.Decimal) {
	if volume.Sign() <= 0 {
		return
	}
	s.orders[id] = lunoOrder{side: side, price: price, volume: volume}
	s.adjust(side, price, volume)
}

func (s *orderBookState) adjust(side domain.TradeType, price, delta decimal.Decimal) {
	key := price.String()
	level := s.levels[side][key]
	level.Price = price
	level.AmountBase = level.AmountBase.Add(delta)
	if level.AmountBase.Sign() <= 0 {
		delete(s.levels[side], key)
		return
	}
	s.levels[side][key] = level
}

// offers lists the aggregated levels of one side, unsorted.
func (s *orderBookState) offers(side domain.TradeType) []domain.Offer {
	offers := make([]domain.Offer, 0, len(s.levels[side]))
	for _, level := range s.levels[side] {
		offers = append(offers, level)
	}
	return offers
}

// apply folds one feed message into the state and returns the level changes
// it caused, stamped with the message sequence.
func (s *orderBookState) apply(pair string, msg *LunoOrderBookFeedMessage) (domain.OrderBookUpdate, error) {
	if msg.Sequence != s.sequence+1 {
		return domain.OrderBookUpdate{}, &SequenceIncorrectError{
			ExpectedSequence: s.sequence + 1,
			ActualSequence:   msg.Sequence,
		}
	}
	s.sequence = msg.Sequence

	// touched records whether each changed level existed before the message
	touched := map[domain.TradeType]map[string]bool{domain.Q2B: {}, domain.B2Q: {}}
	prices := map[string]decimal.Decimal{}
	touch := func(side domain.TradeType, price decimal.Decimal) {
		key := price.String()
		if _, ok := touched[side][key]; !ok {
			_, existed := s.levels[side][key]
			touched[side][key] = existed
			prices[key] = price
		}
	}

	for _, trade := range msg.TradeUpdates {
		order, ok := s.orders[trade.MakerOrderId]
		if !ok {
			continue
		}
		touch(order.side, order.price)
		filled := decimal.Min(trade.Base, order.volume)
		order.volume = order.volume.Sub(filled)
		s.adjust(order.side, order.price, filled.Neg())
		if order.volume.Sign() <= 0 {
			delete(s.orders, trade.MakerOrderId)
		} else {
			s.orders[trade.MakerOrderId] = order
		}
	}

	if create := msg.CreateUpdate; create != nil {
		side := orderSide(create.Type)
		touch(side, create.Price)
		s.addOrder(create.OrderId, side, create.Price, create.Volume)
	}

	if del := msg.DeleteUpdate; del != nil {
		if order, ok := s.orders[del.OrderId]; ok {
			touch(order.side, order.price)
			s.adjust(order.side, order.price, order.volume.Neg())
			delete(s.orders, del.OrderId)
		}
	}

	return domain.OrderBookUpdate{
		Pair:       pair,
		Nonce:      msg.Sequence,
		Kind:       domain.Delta,
		Q2BChanges: s.changes(domain.Q2B, touched[domain.Q2B], prices),
		B2QChanges: s.changes(domain.B2Q, touched[domain.B2Q], prices),
	}, nil
}

// changes reports absolute level volumes for every touched price.
func (s *orderBookState) changes(side domain.TradeType, touched map[string]bool, prices map[string]decimal.Decimal) []domain.OfferChange {
	keys := make([]string, 0, len(touched))
	for key := range touched {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var changes []domain.OfferChange
	for _, key := range keys {
		existed := touched[key]
		level, exists := s.levels[side][key]
		switch {
		case exists && existed:
			changes = append(changes, domain.OfferChange{Op: domain.Update, Price: level.Price, Amount: level.AmountBase})
		case exists:
			changes = append(changes, domain.OfferChange{Op: domain.Add, Price: level.Price, Amount: level.AmountBase})
		case existed:
			changes = append(changes, domain.OfferChange{Op: domain.Remove, Price: prices[key], Amount: decimal.Zero})
		}
	}
	return changes
}
