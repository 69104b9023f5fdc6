package domain

import "github.com/shopspring/decimal"

type UpdateKind int

const (
	Snapshot UpdateKind = iota
	Delta
)

func (e UpdateKind) String() string {
	return []string{"Snapshot", "Delta"}[e]
}

type DeltaOp int

const (
	Add DeltaOp = iota
	Update
	Remove
)

func (e DeltaOp) String() string {
	return []string{"Add", "Update", "Remove"}[e]
}

// OfferChange is one price-level change carried by a delta.
type OfferChange struct {
	Op     DeltaOp
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBookUpdate is a snapshot or delta for one pair at a venue nonce.
// For snapshots Q2BOffers/B2QOffers hold full sides; for deltas the
// Q2BChanges/B2QChanges hold level changes.
type OrderBookUpdate struct {
	Pair       string
	Nonce      int64
	Kind       UpdateKind
	Q2BOffers  []Offer
	B2QOffers  []Offer
	Q2BChanges []OfferChange
	B2QChanges []OfferChange
}
