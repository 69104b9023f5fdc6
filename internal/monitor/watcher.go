// Package monitor keeps subscriptions warm and reports on book health.
package monitor

import (
	"context"
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/orderbook"
	"crypto-market-depth/internal/platform/logger"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var Logger = logger.Get()
var StateLogger = logger.GetStateLogger()

// DepthSource is the read side of a market data cache.
type DepthSource interface {
	Name() string
	Get(ctx context.Context, pair domain.TradePair) *orderbook.MarketDepth
}

// DepthReport is one top-of-book line.
type DepthReport struct {
	Exchange string                `json:"exchange"`
	Pair     string                `json:"pair"`
	BestAsk  *domain.Offer         `json:"best_ask,omitempty"`
	BestBid  *domain.Offer         `json:"best_bid,omitempty"`
	Spread   *decimal.Decimal      `json:"spread,omitempty"`
	Asks     orderbook.FillSummary `json:"asks"`
	Bids     orderbook.FillSummary `json:"bids"`
}

type DepthWatcher struct {
	Sources  []DepthSource
	Pairs    []domain.TradePair
	Interval time.Duration
	// Levels bounds the per-side volume summary.
	Levels int
	ticker *time.Ticker
	ctx    context.Context
}

func NewDepthWatcher(ctx context.Context, sources []DepthSource, pairs []domain.TradePair, interval time.Duration) *DepthWatcher {
	return &DepthWatcher{ctx: ctx, Sources: sources, Pairs: pairs, Interval: interval, Levels: 5}
}

// Start polls every source until the watcher's context ends. The first round
// runs immediately.
func (watcher *DepthWatcher) Start() {
	watcher.ticker = time.NewTicker(watcher.Interval)
	defer watcher.ticker.Stop()

	Logger.Info("Start watching order books", zap.Int("pairs", len(watcher.Pairs)), zap.Duration("interval", watcher.Interval))
	watcher.Watch()

	for {
		select {
		case <-watcher.ctx.Done():
			Logger.Info("Stop watching")
			return
		case <-watcher.ticker.C:
			watcher.Watch()
		}
	}
}

// Watch reads every pair from every source once. Reading subscribes pairs
// that are not yet synchronised and retries failed subscriptions.
func (watcher *DepthWatcher) Watch() []DepthReport {
	ctx, cancel := context.WithTimeout(watcher.ctx, watcher.Interval)
	defer cancel()

	var reports []DepthReport
	for _, pair := range watcher.Pairs {
		depths := make([]*orderbook.MarketDepth, len(watcher.Sources))
		var wg sync.WaitGroup
		for i, source := range watcher.Sources {
			wg.Add(1)
			go func(i int, source DepthSource) {
				defer wg.Done()
				depths[i] = source.Get(ctx, pair)
			}(i, source)
		}
		wg.Wait()

		for i, depth := range depths {
			report := Report(watcher.Sources[i].Name(), depth, watcher.Levels)
			reports = append(reports, report)

			if depth.IsEmpty() {
				Logger.Warn("Order book is empty", zap.String("exchange", report.Exchange), zap.String("pair", pair.Name))
			}
			jsonBytes, err := json.Marshal(report)
			if err != nil {
				Logger.Error("Failed to marshal depth report", zap.Error(err))
				continue
			}
			StateLogger.Info(string(jsonBytes))
		}
	}
	return reports
}

// Report summarises the best levels of a book.
func Report(exchange string, depth *orderbook.MarketDepth, levels int) DepthReport {
	top := depth.Top(levels)
	report := DepthReport{
		Exchange: exchange,
		Pair:     depth.Pair.Name,
		Asks:     orderbook.Summarize(top.Q2B.Offers),
		Bids:     orderbook.Summarize(top.B2Q.Offers),
	}
	if ask, ok := depth.Q2B.Best(); ok {
		report.BestAsk = &ask
	}
	if bid, ok := depth.B2Q.Best(); ok {
		report.BestBid = &bid
	}
	if report.BestAsk != nil && report.BestBid != nil {
		spread := report.BestAsk.Price.Sub(report.BestBid.Price)
		report.Spread = &spread
	}
	return report
}
