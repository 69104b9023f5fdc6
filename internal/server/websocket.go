package server

import (
	"context"
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/orderbook"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

func (s *FiberServer) websocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// websocketRoute resolves the pair before upgrading so unknown routes get a
// plain HTTP error.
func (s *FiberServer) websocketRoute() fiber.Handler {
	upgrade := websocket.New(s.websocketHandler)
	return func(c *fiber.Ctx) error {
		source, pair, err := s.resolve(c)
		if err != nil {
			return err
		}
		c.Locals("source", source)
		c.Locals("pair", pair)
		c.Locals("levels", c.QueryInt("levels", defaultDepthLevels))
		return upgrade(c)
	}
}

// websocketHandler pushes the top levels once on connect and again after
// every book change. Changes that arrive while a push is pending collapse
// into the newest one.
func (s *FiberServer) websocketHandler(conn *websocket.Conn) {
	source := conn.Locals("source").(MarketData)
	pair := conn.Locals("pair").(domain.TradePair)
	levels := conn.Locals("levels").(int)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	latest := make(chan *orderbook.MarketDepth, 1)
	stop := source.OnBookChanged(pair.Name, func(depth *orderbook.MarketDepth) {
		for {
			select {
			case latest <- depth:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	defer stop()

	if err := push(conn, source.Name(), source.Get(ctx, pair), levels); err != nil {
		Logger.Debug("Could not write to socket", zap.Error(err))
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case depth := <-latest:
			if err := push(conn, source.Name(), depth, levels); err != nil {
				Logger.Debug("Could not write to socket", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func push(conn *websocket.Conn, exchange string, depth *orderbook.MarketDepth, levels int) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(depthResponse(exchange, depth.Top(levels)))
}
