// Package marketdata owns the per-venue registry of synchronised order books.
package marketdata

import (
	"context"
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/marketstream"
	"crypto-market-depth/internal/orderbook"
	"crypto-market-depth/internal/platform/metrics"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultSnapshotTimeout = 10 * time.Second

// ResyncHandler is told when a stream was torn down. It runs on its own
// goroutine and may block.
type ResyncHandler func(exchange, pair string, reason error)

type entry struct {
	stream *marketstream.MarketStream

	// guarded by Cache.mu
	subscribed bool
	syncing    chan struct{}
}

// Cache is the registry of MarketStreams for one exchange. The registry lock
// only guards the pair map; book state is guarded by each stream.
type Cache struct {
	exchange domain.Exchanger
	name     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	streams   map[string]*entry
	observers map[string]*orderbook.Notifier[*orderbook.MarketDepth]
	closed    bool

	logger          *zap.Logger
	metrics         *metrics.Metrics
	capacity        int
	snapshotTimeout time.Duration
	onResync        ResyncHandler
}

type Option func(*Cache)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithPendingCapacity(capacity int) Option {
	return func(c *Cache) { c.capacity = capacity }
}

func WithSnapshotTimeout(timeout time.Duration) Option {
	return func(c *Cache) { c.snapshotTimeout = timeout }
}

func WithResyncHandler(handler ResyncHandler) Option {
	return func(c *Cache) { c.onResync = handler }
}

// New creates a cache over exchange and registers it as the exchange's
// update handler. Cancelling ctx aborts in-flight subscribe round-trips.
func New(ctx context.Context, exchange domain.Exchanger, opts ...Option) *Cache {
	c := &Cache{
		exchange:        exchange,
		name:            exchange.GetName(),
		streams:         make(map[string]*entry),
		observers:       make(map[string]*orderbook.Notifier[*orderbook.MarketDepth]),
		logger:          zap.NewNop(),
		capacity:        marketstream.DefaultPendingCapacity,
		snapshotTimeout: defaultSnapshotTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("exchange", c.name))
	c.ctx, c.cancel = context.WithCancel(ctx)

	exchange.OnUpdate(c.ApplyUpdate)
	return c
}

func (c *Cache) Name() string {
	return c.name
}

// Get returns a deep copy of pair's book. The first call for a pair
// subscribes and fetches a snapshot, blocking until that completes; failures
// are logged and yield an empty book, and the next call retries.
func (c *Cache) Get(ctx context.Context, pair domain.TradePair) *orderbook.MarketDepth {
	e, ok := c.ensure(ctx, pair)
	if !ok {
		return orderbook.NewMarketDepth(pair)
	}
	return e.stream.Depth()
}

// Consume fills a trade against the live replica, removing the consumed
// liquidity locally until the venue reports otherwise.
func (c *Cache) Consume(ctx context.Context, pair domain.TradePair, tt domain.TradeType, kind domain.OrderKind, limit, amountBase decimal.Decimal) ([]domain.Offer, decimal.Decimal) {
	e, ok := c.ensure(ctx, pair)
	if !ok {
		return nil, amountBase
	}
	return e.stream.Consume(tt, kind, limit, amountBase)
}

// Simulate fills a trade against a copy of the book and leaves the replica
// untouched.
func (c *Cache) Simulate(ctx context.Context, pair domain.TradePair, tt domain.TradeType, kind domain.OrderKind, limit, amountBase decimal.Decimal) ([]domain.Offer, decimal.Decimal) {
	return c.Get(ctx, pair).Consume(tt, kind, limit, amountBase)
}

// OnBookChanged registers fn for pair. fn receives a copy of the book once per
// applied batch or local consume, and survives resubscription.
func (c *Cache) OnBookChanged(pair string, fn func(*orderbook.MarketDepth)) (cancel func()) {
	return c.observer(pair).Subscribe(fn)
}

func (c *Cache) observer(pair string) *orderbook.Notifier[*orderbook.MarketDepth] {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.observers[pair]
	if !ok {
		n = &orderbook.Notifier[*orderbook.MarketDepth]{}
		c.observers[pair] = n
	}
	return n
}

// Pairs lists the registered pairs.
func (c *Cache) Pairs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	pairs := make([]string, 0, len(c.streams))
	for name := range c.streams {
		pairs = append(pairs, name)
	}
	sort.Strings(pairs)
	return pairs
}

// ApplyUpdate routes an update from the exchange to its pair's stream. It
// never performs I/O; a stream that must resync does so on another goroutine.
func (c *Cache) ApplyUpdate(update domain.OrderBookUpdate) {
	e := c.route(update.Pair)
	if e == nil {
		return
	}

	result, err := e.stream.ApplyUpdate(update)
	c.metrics.ObserveApply(c.name, update.Pair, result.Applied, result.Dropped, result.Pending)
	if marketstream.IsFatal(err) {
		c.resync(e, update.Pair, err)
	}
}

// route finds or creates the entry for pair without subscribing, so updates
// that beat the first Get are buffered.
func (c *Cache) route(pair string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	e, ok := c.streams[pair]
	if !ok {
		e = c.newEntryLocked(domain.TradePair{Name: pair})
		c.streams[pair] = e
	}
	return e
}

func (c *Cache) newEntryLocked(pair domain.TradePair) *entry {
	stream := marketstream.New(pair,
		marketstream.WithPendingCapacity(c.capacity),
		marketstream.WithLogger(c.logger))

	n, ok := c.observers[pair.Name]
	if !ok {
		n = &orderbook.Notifier[*orderbook.MarketDepth]{}
		c.observers[pair.Name] = n
	}
	stream.OnChanged(n.Notify)
	return &entry{stream: stream}
}

// ensure returns a subscribed entry for pair, running or waiting for the
// subscribe round-trip if needed.
func (c *Cache) ensure(ctx context.Context, pair domain.TradePair) (*entry, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	e, ok := c.streams[pair.Name]
	if !ok {
		e = c.newEntryLocked(pair)
		c.streams[pair.Name] = e
	}
	var start bool
	wait := e.syncing
	if !e.subscribed && wait == nil {
		e.syncing = make(chan struct{})
		start = true
	}
	c.mu.Unlock()

	e.stream.SetPair(pair)

	if start {
		c.synchronize(ctx, e, pair.Name)
	} else if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return e, c.streams[pair.Name] == e && e.subscribed
}

// synchronize subscribes and folds a snapshot into e's stream. The caller
// must have set e.syncing. On failure the entry is removed from the registry.
func (c *Cache) synchronize(ctx context.Context, e *entry, pair string) {
	ctx, cancel := context.WithTimeout(ctx, c.snapshotTimeout)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	err := c.subscribe(ctx, e, pair)

	c.mu.Lock()
	close(e.syncing)
	e.syncing = nil
	if err == nil {
		e.subscribed = true
	} else if c.streams[pair] == e {
		delete(c.streams, pair)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Failed to synchronise order book", zap.String("pair", pair), zap.Error(err))
		c.metrics.SnapshotFailure(c.name, pair)
		e.stream.Reset()

		unsubscribeCtx, cancel := context.WithTimeout(context.Background(), c.snapshotTimeout)
		defer cancel()
		if err := c.exchange.Unsubscribe(unsubscribeCtx, pair); err != nil {
			c.logger.Debug("Unsubscribe after failed sync", zap.String("pair", pair), zap.Error(err))
		}
		return
	}
	c.logger.Info("Order book synchronised", zap.String("pair", pair), zap.Int64("nonce", e.stream.BookNonce()))
}

func (c *Cache) subscribe(ctx context.Context, e *entry, pair string) error {
	if err := c.exchange.Subscribe(ctx, pair); err != nil {
		return fmt.Errorf("subscribe %s: %w", pair, err)
	}
	snapshot, err := c.exchange.QuerySnapshot(ctx, pair)
	if err != nil {
		return fmt.Errorf("query snapshot %s: %w", pair, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot.Pair = pair
	snapshot.Kind = domain.Snapshot

	// same path as the transport so ordering against early deltas holds
	result, err := e.stream.ApplyUpdate(snapshot)
	c.metrics.ObserveApply(c.name, pair, result.Applied, result.Dropped, result.Pending)
	if err != nil {
		return fmt.Errorf("apply snapshot %s: %w", pair, err)
	}
	return nil
}

// resync tears down a stream after a fatal reconciliation error and starts a
// fresh subscribe round-trip in the background.
func (c *Cache) resync(e *entry, pair string, reason error) {
	c.logger.Error("Order book stream requires resync", zap.String("pair", pair), zap.Error(reason))
	c.metrics.Resync(c.name, pair, resyncReason(reason))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	if c.streams[pair] != e || !e.subscribed || e.syncing != nil {
		// not subscribed yet: the next Get starts from scratch anyway
		c.mu.Unlock()
		go func() {
			defer c.wg.Done()
			c.notifyResync(pair, reason)
		}()
		return
	}
	e.subscribed = false
	e.syncing = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.notifyResync(pair, reason)
		if err := c.exchange.Unsubscribe(c.ctx, pair); err != nil {
			c.logger.Warn("Unsubscribe before resync", zap.String("pair", pair), zap.Error(err))
		}
		c.synchronize(c.ctx, e, pair)
	}()
}

func (c *Cache) notifyResync(pair string, reason error) {
	if c.onResync != nil {
		c.onResync(c.name, pair, reason)
	}
}

func resyncReason(err error) string {
	switch {
	case errors.Is(err, marketstream.ErrResyncRequired):
		return "overflow"
	case errors.Is(err, marketstream.ErrNonceOrder):
		return "nonce"
	case errors.Is(err, marketstream.ErrBookInvalid):
		return "invalid"
	}
	return "error"
}

// Drop removes pair from the registry and unsubscribes it.
func (c *Cache) Drop(ctx context.Context, pair string) error {
	c.mu.Lock()
	e, ok := c.streams[pair]
	delete(c.streams, pair)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	e.stream.Reset()
	return c.exchange.Unsubscribe(ctx, pair)
}

// Close drops every stream, aborts in-flight round-trips and unsubscribes.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	c.streams = make(map[string]*entry)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	var errs []error
	for pair, e := range streams {
		e.stream.Reset()
		if err := c.exchange.Unsubscribe(ctx, pair); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", pair, err))
		}
	}
	c.logger.Info("Market data cache closed", zap.Int("streams", len(streams)))
	return errors.Join(errs...)
}
