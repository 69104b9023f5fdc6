package server

import (
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/orderbook"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultDepthLevels = 10

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(recover.New())

	s.App.Get("/health", s.healthHandler)
	s.App.Get("/depth/:exchange/:pair", s.depthHandler)
	s.App.Post("/simulate/:exchange/:pair", s.simulateHandler)
	s.App.Get("/fills", s.fillsHandler)

	s.App.Use("/ws", s.websocketUpgrade)
	s.App.Get("/ws/:exchange/:pair", s.websocketRoute())

	if s.metrics != nil {
		s.App.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}
}

// errorHandler renders every error as {"error": message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// resolve finds the exchange and pair named in the route.
func (s *FiberServer) resolve(c *fiber.Ctx) (MarketData, domain.TradePair, error) {
	source, ok := s.source(c.Params("exchange"))
	if !ok {
		return nil, domain.TradePair{}, fiber.NewError(fiber.StatusNotFound, "unknown exchange "+c.Params("exchange"))
	}
	pair, ok := s.pairs(c.Params("pair"))
	if !ok {
		return nil, domain.TradePair{}, fiber.NewError(fiber.StatusNotFound, "unknown pair "+c.Params("pair"))
	}
	return source, pair, nil
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	streams := make(map[string][]string, len(s.sources))
	names := make([]string, 0, len(s.sources))
	for _, source := range s.sources {
		streams[source.Name()] = source.Pairs()
		names = append(names, source.Name())
	}
	sort.Strings(names)

	return c.JSON(fiber.Map{
		"database":  s.db.Health(),
		"exchanges": names,
		"streams":   streams,
	})
}

type DepthResponse struct {
	Exchange string         `json:"exchange"`
	Pair     string         `json:"pair"`
	Asks     []domain.Offer `json:"asks"`
	Bids     []domain.Offer `json:"bids"`
}

func depthResponse(exchange string, depth *orderbook.MarketDepth) DepthResponse {
	return DepthResponse{
		Exchange: exchange,
		Pair:     depth.Pair.Name,
		Asks:     append([]domain.Offer{}, depth.Q2B.Offers...),
		Bids:     append([]domain.Offer{}, depth.B2Q.Offers...),
	}
}

func (s *FiberServer) depthHandler(c *fiber.Ctx) error {
	source, pair, err := s.resolve(c)
	if err != nil {
		return err
	}
	levels := c.QueryInt("levels", defaultDepthLevels)
	if levels < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "levels must not be negative")
	}

	depth := source.Get(c.UserContext(), pair)
	return c.JSON(depthResponse(source.Name(), depth.Top(levels)))
}

type SimulateRequest struct {
	Direction string          `json:"direction"`
	Kind      string          `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
}

type SimulateResponse struct {
	Fills     []domain.Offer        `json:"fills"`
	Remaining decimal.Decimal       `json:"remaining"`
	Summary   orderbook.FillSummary `json:"summary"`
}

func (s *FiberServer) simulateHandler(c *fiber.Ctx) error {
	source, pair, err := s.resolve(c)
	if err != nil {
		return err
	}

	var req SimulateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	direction, err := domain.ParseTradeType(req.Direction)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	kind, err := domain.ParseOrderKind(req.Kind)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Amount.Sign() <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "amount must be positive")
	}
	if kind != domain.Market && req.Price.Sign() <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "price must be positive for "+kind.String()+" orders")
	}

	fills, remaining := source.Simulate(c.UserContext(), pair, direction, kind, req.Price, req.Amount)
	if err := s.db.RecordFills(c.UserContext(), source.Name(), pair.Name, direction, fills); err != nil {
		Logger.Error("Failed to record fills", zap.String("exchange", source.Name()), zap.String("pair", pair.Name), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to record fills")
	}

	if fills == nil {
		fills = []domain.Offer{}
	}
	return c.JSON(SimulateResponse{
		Fills:     fills,
		Remaining: remaining,
		Summary:   orderbook.Summarize(fills),
	})
}

func (s *FiberServer) fillsHandler(c *fiber.Ctx) error {
	fills, err := s.db.RecentFills(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		Logger.Error("Failed to read fills", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read fills")
	}
	return c.JSON(fills)
}
