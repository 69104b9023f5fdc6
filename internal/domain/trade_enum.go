package domain

import (
	"fmt"
	"strings"
)

// TradeType is the direction of a trade on a pair.
type TradeType int

const (
	// Q2B converts quote currency to base (buying). It consumes the buy-side
	// book, which is ordered by ascending price.
	Q2B TradeType = iota
	// B2Q converts base currency to quote (selling). It consumes the sell-side
	// book, which is ordered by descending price.
	B2Q
)

func (e TradeType) String() string {
	return []string{"Q2B", "B2Q"}[e]
}

// Sign parametrizes price comparisons so one algorithm serves both sides.
// Offers in a book satisfy Sign*(price[i+1]-price[i]) >= 0.
func (e TradeType) Sign() int {
	if e == Q2B {
		return +1
	}
	return -1
}

// Opposite returns the other trade direction.
func (e TradeType) Opposite() TradeType {
	if e == Q2B {
		return B2Q
	}
	return Q2B
}

func ParseTradeType(s string) (TradeType, error) {
	switch strings.ToLower(s) {
	case "q2b", "buy":
		return Q2B, nil
	case "b2q", "sell":
		return B2Q, nil
	}
	return 0, fmt.Errorf("unknown trade direction %q", s)
}

type OrderKind int

const (
	Market OrderKind = iota
	Limit
	Stop
)

func (e OrderKind) String() string {
	return []string{"Market", "Limit", "Stop"}[e]
}

func ParseOrderKind(s string) (OrderKind, error) {
	switch strings.ToLower(s) {
	case "market", "":
		return Market, nil
	case "limit":
		return Limit, nil
	case "stop":
		return Stop, nil
	}
	return 0, fmt.Errorf("unknown order kind %q", s)
}
