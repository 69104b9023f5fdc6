package server

import (
	"context"
	"crypto-market-depth/internal/database"
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/orderbook"
	"crypto-market-depth/internal/platform/logger"
	"crypto-market-depth/internal/platform/metrics"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

var Logger = logger.Get()

// MarketData is the part of a market data cache the HTTP surface uses.
type MarketData interface {
	Name() string
	Pairs() []string
	Get(ctx context.Context, pair domain.TradePair) *orderbook.MarketDepth
	Simulate(ctx context.Context, pair domain.TradePair, tt domain.TradeType, kind domain.OrderKind, limit, amountBase decimal.Decimal) ([]domain.Offer, decimal.Decimal)
	OnBookChanged(pair string, fn func(*orderbook.MarketDepth)) (cancel func())
}

// PairResolver looks up a configured trade pair by name.
type PairResolver func(name string) (domain.TradePair, bool)

type FiberServer struct {
	*fiber.App

	db      database.Service
	sources map[string]MarketData
	pairs   PairResolver
	metrics *metrics.Metrics
}

func New(db database.Service, sources []MarketData, pairs PairResolver, m *metrics.Metrics) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader: "crypto-market-depth",
			AppName:      "crypto-market-depth",
			ErrorHandler: errorHandler,
		}),

		db:      db,
		sources: make(map[string]MarketData, len(sources)),
		pairs:   pairs,
		metrics: m,
	}
	for _, source := range sources {
		server.sources[strings.ToLower(source.Name())] = source
	}

	return server
}

func (s *FiberServer) source(name string) (MarketData, bool) {
	source, ok := s.sources[strings.ToLower(name)]
	return source, ok
}
