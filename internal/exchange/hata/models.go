package hata

import (
	"crypto-market-depth/internal/domain"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type HataOrderBookPriceFeed struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"qty"`
}

type HataOrderBookResponse struct {
	Data struct {
		Nonce int64                    `json:"nonce"`
		Asks  []HataOrderBookPriceFeed `json:"asks"`
		Bids  []HataOrderBookPriceFeed `json:"bids"`
	} `json:"data"`
	Status string `json:"status"`
}

type HataSubscribeRequest struct {
	Action string `json:"action"`
	Pair   string `json:"pair"`
}

type HataStreamOffer struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type HataStreamChange struct {
	Op     string          `json:"op"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// HataStreamMessage is one frame on the order book stream. "buy" is the side
// a buyer consumes (asks), "sell" the side a seller consumes (bids).
type HataStreamMessage struct {
	Type        string             `json:"type"`
	Pair        string             `json:"pair"`
	Nonce       int64              `json:"nonce"`
	BuyOffers   []HataStreamOffer  `json:"buy_offers"`
	SellOffers  []HataStreamOffer  `json:"sell_offers"`
	BuyChanges  []HataStreamChange `json:"buy_changes"`
	SellChanges []HataStreamChange `json:"sell_changes"`
}

func (message *HataStreamMessage) toUpdate() (domain.OrderBookUpdate, error) {
	update := domain.OrderBookUpdate{Pair: message.Pair, Nonce: message.Nonce}
	if message.Pair == "" {
		return update, errors.New("hata stream message without pair")
	}

	switch strings.ToLower(message.Type) {
	case "snapshot":
		update.Kind = domain.Snapshot
		update.Q2BOffers = toOffers(message.BuyOffers)
		update.B2QOffers = toOffers(message.SellOffers)
	case "delta":
		var err error
		update.Kind = domain.Delta
		if update.Q2BChanges, err = toChanges(message.BuyChanges); err != nil {
			return update, err
		}
		if update.B2QChanges, err = toChanges(message.SellChanges); err != nil {
			return update, err
		}
	default:
		return update, fmt.Errorf("unknown hata stream message type %q", message.Type)
	}
	return update, nil
}

func toOffers(feed []HataStreamOffer) []domain.Offer {
	offers := make([]domain.Offer, 0, len(feed))
	for _, offer := range feed {
		offers = append(offers, domain.Offer{Price: offer.Price, AmountBase: offer.Amount})
	}
	return offers
}

func toChanges(feed []HataStreamChange) ([]domain.OfferChange, error) {
	changes := make([]domain.OfferChange, 0, len(feed))
	for _, change := range feed {
		var op domain.DeltaOp
		switch strings.ToLower(change.Op) {
		case "add":
			op = domain.Add
		case "update":
			op = domain.Update
		case "remove":
			op = domain.Remove
		default:
			return nil, fmt.Errorf("unknown hata change op %q", change.Op)
		}
		changes = append(changes, domain.OfferChange{Op: op, Price: change.Price, Amount: change.Amount})
	}
	return changes, nil
}

func toSnapshotOffers(feed []HataOrderBookPriceFeed) []domain.Offer {
	offers := make([]domain.Offer, 0, len(feed))
	for _, level := range feed {
		offers = append(offers, domain.Offer{Price: level.Price, AmountBase: level.Volume})
	}
	return offers
}
