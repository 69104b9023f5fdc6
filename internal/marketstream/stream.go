// Package marketstream keeps a local replica of one pair's order book from
// an unordered stream of snapshots and deltas keyed by venue nonce.
package marketstream

import (
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/orderbook"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultPendingCapacity = 512

// MarketStream is the per-pair synchronizer. All state is guarded by mu.
type MarketStream struct {
	mu        sync.Mutex
	depth     *orderbook.MarketDepth
	pending   []domain.OrderBookUpdate
	bookNonce int64
	synced    bool

	capacity int
	logger   *zap.Logger
	changed  orderbook.Notifier[*orderbook.MarketDepth]
}

type Option func(*MarketStream)

func WithPendingCapacity(capacity int) Option {
	return func(s *MarketStream) {
		if capacity > 0 {
			s.capacity = capacity
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *MarketStream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(pair domain.TradePair, opts ...Option) *MarketStream {
	s := &MarketStream{
		depth:    orderbook.NewMarketDepth(pair),
		capacity: DefaultPendingCapacity,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("pair", pair.Name))
	return s
}

// ApplyResult describes what one ApplyUpdate call did.
type ApplyResult struct {
	Applied int
	Dropped int
	Pending int
}

func (s *MarketStream) Pair() domain.TradePair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth.Pair
}

// SetPair replaces the pair's limits, keeping the name.
func (s *MarketStream) SetPair(pair domain.TradePair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth.Pair = pair
}

func (s *MarketStream) BookNonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookNonce
}

func (s *MarketStream) IsSynchronized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

func (s *MarketStream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Depth returns a deep copy of the current book.
func (s *MarketStream) Depth() *orderbook.MarketDepth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth.Clone()
}

// OnChanged registers fn to receive a copy of the book once per applied batch.
// fn runs after the stream's lock has been released.
func (s *MarketStream) OnChanged(fn func(*orderbook.MarketDepth)) (cancel func()) {
	return s.changed.Subscribe(fn)
}

// Reset discards the book and any buffered updates.
func (s *MarketStream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *MarketStream) resetLocked() {
	s.depth.Reset()
	s.pending = nil
	s.bookNonce = 0
	s.synced = false
}

// ApplyUpdate buffers update and folds every update that can now be applied
// in nonce order into the book. Fatal errors reset the stream before
// returning; see IsFatal.
func (s *MarketStream) ApplyUpdate(update domain.OrderBookUpdate) (ApplyResult, error) {
	s.mu.Lock()
	result, err := s.applyLocked(update)
	var snapshot *orderbook.MarketDepth
	if err == nil && result.Applied != 0 && s.changed.Len() != 0 {
		snapshot = s.depth.Clone()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.changed.Notify(snapshot)
	}
	return result, err
}

func (s *MarketStream) applyLocked(update domain.OrderBookUpdate) (result ApplyResult, err error) {
	if !s.insertLocked(update) {
		result.Dropped++
	}

	// stale or duplicate updates at the front are superseded by the book
	for len(s.pending) != 0 && s.synced && s.isStale(s.pending[0]) {
		s.pending = s.pending[1:]
		result.Dropped++
	}

	if !s.synced {
		first := -1
		for i, p := range s.pending {
			if p.Kind == domain.Snapshot {
				first = i
				break
			}
		}
		if first < 0 {
			result.Pending = len(s.pending)
			if len(s.pending) > s.capacity {
				s.logger.Warn("snapshot never arrived", zap.Int("pending", len(s.pending)))
				s.resetLocked()
				return ApplyResult{}, ErrResyncRequired
			}
			return result, nil
		}
		// deltas before the first snapshot are already reflected in it
		result.Dropped += first
		s.pending = s.pending[first:]
	}

	for _, p := range s.pending {
		if err = s.applyOneLocked(p); err != nil {
			s.logger.Error("failed to apply update",
				zap.Int64("nonce", p.Nonce),
				zap.Stringer("kind", p.Kind),
				zap.Int64("book_nonce", s.bookNonce),
				zap.Error(err))
			s.resetLocked()
			return ApplyResult{}, err
		}
		result.Applied++
	}
	s.pending = s.pending[:0]
	return result, nil
}

// insertLocked places update in nonce order, snapshots before deltas at the
// same nonce. Exact duplicates already pending are dropped.
func (s *MarketStream) insertLocked(update domain.OrderBookUpdate) bool {
	i := sort.Search(len(s.pending), func(i int) bool {
		return !before(s.pending[i], update)
	})
	if i < len(s.pending) && s.pending[i].Nonce == update.Nonce && s.pending[i].Kind == update.Kind {
		return false
	}
	s.pending = append(s.pending, domain.OrderBookUpdate{})
	copy(s.pending[i+1:], s.pending[i:])
	s.pending[i] = update
	return true
}

func before(a, b domain.OrderBookUpdate) bool {
	if a.Nonce != b.Nonce {
		return a.Nonce < b.Nonce
	}
	return a.Kind == domain.Snapshot && b.Kind != domain.Snapshot
}

func (s *MarketStream) isStale(p domain.OrderBookUpdate) bool {
	return p.Nonce < s.bookNonce || (p.Nonce == s.bookNonce && p.Kind != domain.Snapshot)
}

func (s *MarketStream) applyOneLocked(p domain.OrderBookUpdate) error {
	switch p.Kind {
	case domain.Snapshot:
		if err := s.depth.UpdateOrderBooks(p.B2QOffers, p.Q2BOffers); err != nil {
			return fmt.Errorf("%w: snapshot %d: %w", ErrBookInvalid, p.Nonce, err)
		}
		s.bookNonce = p.Nonce
		s.synced = true
		return nil

	case domain.Delta:
		if p.Nonce < s.bookNonce {
			return fmt.Errorf("%w: delta %d, book %d", ErrNonceOrder, p.Nonce, s.bookNonce)
		}
		applyChanges(s.depth.Q2B, p.Q2BChanges)
		applyChanges(s.depth.B2Q, p.B2QChanges)
		if err := s.depth.AssertOrdersValid(); err != nil {
			return fmt.Errorf("%w: delta %d: %w", ErrBookInvalid, p.Nonce, err)
		}
		s.bookNonce = p.Nonce
		return nil
	}
	return fmt.Errorf("%w: unknown update kind %d", ErrBookInvalid, p.Kind)
}

// applyChanges folds level changes into book. Removing a level that is not
// there is ignored: it may already have been consumed locally.
func applyChanges(book *orderbook.OrderBook, changes []domain.OfferChange) {
	for _, change := range changes {
		offer := domain.Offer{Price: change.Price, AmountBase: change.Amount}
		switch change.Op {
		case domain.Add:
			if change.Amount.IsZero() {
				book.Remove(change.Price)
			} else {
				book.Set(offer)
			}
		case domain.Update:
			if change.Amount.IsZero() {
				book.Remove(change.Price)
			} else {
				book.Replace(offer)
			}
		case domain.Remove:
			book.Remove(change.Price)
		}
	}
}

// Consume fills a trade against the live book and notifies observers.
func (s *MarketStream) Consume(tt domain.TradeType, kind domain.OrderKind, limit, amountBase decimal.Decimal) ([]domain.Offer, decimal.Decimal) {
	s.mu.Lock()
	fills, remaining := s.depth.Consume(tt, kind, limit, amountBase)
	var snapshot *orderbook.MarketDepth
	if len(fills) != 0 && s.changed.Len() != 0 {
		snapshot = s.depth.Clone()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.changed.Notify(snapshot)
	}
	return fills, remaining
}
