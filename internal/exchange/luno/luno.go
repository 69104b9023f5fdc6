package luno

import (
	"bytes"
	"context"
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/platform/logger"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/luno/luno-go"
	lunodecimal "github.com/luno/luno-go/decimal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type LunoExchange struct {
	lunoClient       *luno.Client
	websocketBaseUrl string
	apiKeyId         string
	apiKeySecret     string
	limiter          *rate.Limiter

	mu      sync.Mutex
	handler func(domain.OrderBookUpdate)
	streams map[string]*lunoStream
}

// lunoStream is one websocket subscription. Luno streams a single pair per
// connection.
type lunoStream struct {
	pair   string
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    *orderBookState
	sequence int64
}

const (
	lunoWebsocketBaseUrl = "wss://ws.luno.com/api/1/stream/"
	maxRedialBackoff     = 30 * time.Second
)

var Logger = logger.ForExchange(domain.Luno.String())
var StateLogger = logger.GetStateLogger()

type Option func(*LunoExchange)

func WithWebsocketBaseUrl(url string) Option {
	return func(l *LunoExchange) {
		if url != "" {
			l.websocketBaseUrl = url
		}
	}
}

func WithApiBaseUrl(url string) Option {
	return func(l *LunoExchange) {
		if url != "" {
			l.lunoClient.SetBaseURL(url)
		}
	}
}

// WithSnapshotRate limits REST order book requests per second.
func WithSnapshotRate(perSecond float64) Option {
	return func(l *LunoExchange) {
		if perSecond > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func CreateClient(id string, secret string, opts ...Option) *LunoExchange {
	lunoClient := luno.NewClient()
	if err := lunoClient.SetAuth(id, secret); err != nil {
		Logger.Warn("Luno client has no API credentials", zap.Error(err))
	}

	lunoExchange := &LunoExchange{
		lunoClient:       lunoClient,
		websocketBaseUrl: lunoWebsocketBaseUrl,
		apiKeyId:         id,
		apiKeySecret:     secret,
		limiter:          rate.NewLimiter(rate.Limit(1), 1),
		streams:          make(map[string]*lunoStream),
	}
	for _, opt := range opts {
		opt(lunoExchange)
	}

	Logger.Info("Luno client created")
	return lunoExchange
}

func (lunoExchange *LunoExchange) GetName() string {
	return domain.Luno.String()
}

func (lunoExchange *LunoExchange) OnUpdate(handler func(domain.OrderBookUpdate)) {
	lunoExchange.mu.Lock()
	defer lunoExchange.mu.Unlock()
	lunoExchange.handler = handler
}

func (lunoExchange *LunoExchange) emit(update domain.OrderBookUpdate) {
	lunoExchange.mu.Lock()
	handler := lunoExchange.handler
	lunoExchange.mu.Unlock()
	if handler != nil {
		handler(update)
	}
}

// QuerySnapshot fetches the aggregated book over REST. It is stamped with the
// last stream sequence seen before the request; later level changes carry
// absolute volumes, so replaying them over the snapshot converges.
func (lunoExchange *LunoExchange) QuerySnapshot(ctx context.Context, pair string) (domain.OrderBookUpdate, error) {
	if err := lunoExchange.limiter.Wait(ctx); err != nil {
		return domain.OrderBookUpdate{}, err
	}
	nonce := lunoExchange.lastSequence(pair)

	Logger.Info("Getting Luno order book", zap.String("pair", pair), zap.Int64("nonce", nonce))
	res, err := lunoExchange.lunoClient.GetOrderBook(ctx, &luno.GetOrderBookRequest{Pair: pair})
	if err != nil {
		return domain.OrderBookUpdate{}, fmt.Errorf("failed to get Luno order book: %w", err)
	}

	asks, err := convertEntries(res.Asks)
	if err != nil {
		return domain.OrderBookUpdate{}, err
	}
	bids, err := convertEntries(res.Bids)
	if err != nil {
		return domain.OrderBookUpdate{}, err
	}

	return domain.OrderBookUpdate{
		Pair:      pair,
		Nonce:     nonce,
		Kind:      domain.Snapshot,
		Q2BOffers: asks,
		B2QOffers: bids,
	}, nil
}

func convertEntries(entries []luno.OrderBookEntry) ([]domain.Offer, error) {
	offers := make([]domain.Offer, 0, len(entries))
	for _, entry := range entries {
		price, err := convertDecimal(entry.Price)
		if err != nil {
			return nil, err
		}
		volume, err := convertDecimal(entry.Volume)
		if err != nil {
			return nil, err
		}
		offers = append(offers, domain.Offer{Price: price, AmountBase: volume})
	}
	return offers, nil
}

func convertDecimal(d lunodecimal.Decimal) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid Luno decimal %q: %w", d.String(), err)
	}
	return value, nil
}

func (lunoExchange *LunoExchange) lastSequence(pair string) int64 {
	lunoExchange.mu.Lock()
	stream, ok := lunoExchange.streams[pair]
	lunoExchange.mu.Unlock()
	if !ok {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return stream.sequence
}

// Subscribe opens the pair's stream. The connection outlives ctx and is
// redialled until Unsubscribe.
func (lunoExchange *LunoExchange) Subscribe(ctx context.Context, pair string) error {
	lunoExchange.mu.Lock()
	_, ok := lunoExchange.streams[pair]
	lunoExchange.mu.Unlock()
	if ok {
		return nil
	}

	Logger.Info("Subscribing to Luno websocket", zap.String("pair", pair))
	c, err := lunoExchange.dial(ctx, pair)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream := &lunoStream{pair: pair, cancel: cancel, done: make(chan struct{})}

	lunoExchange.mu.Lock()
	if _, ok := lunoExchange.streams[pair]; ok {
		lunoExchange.mu.Unlock()
		cancel()
		c.Close(websocket.StatusNormalClosure, "")
		return nil
	}
	lunoExchange.streams[pair] = stream
	lunoExchange.mu.Unlock()

	go lunoExchange.run(streamCtx, stream, c)
	return nil
}

// Unsubscribe closes the pair's stream and waits for its reader to exit.
func (lunoExchange *LunoExchange) Unsubscribe(ctx context.Context, pair string) error {
	lunoExchange.mu.Lock()
	stream, ok := lunoExchange.streams[pair]
	delete(lunoExchange.streams, pair)
	lunoExchange.mu.Unlock()
	if !ok {
		return nil
	}

	Logger.Info("Unsubscribing from Luno websocket", zap.String("pair", pair))
	stream.cancel()
	select {
	case <-stream.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (lunoExchange *LunoExchange) dial(ctx context.Context, pair string) (*websocket.Conn, error) {
	c, _, err := websocket.Dial(ctx, lunoExchange.websocketBaseUrl+pair, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial Luno websocket: %w", err)
	}
	c.SetReadLimit(-1)

	if err := lunoExchange.sendAuthenticationMessage(ctx, c); err != nil {
		c.CloseNow()
		return nil, err
	}
	return c, nil
}

func (lunoExchange *LunoExchange) sendAuthenticationMessage(ctx context.Context, c *websocket.Conn) error {
	authMessage := LunoWebsocketAuthenticationRequest{
		ApiKeyId:     lunoExchange.apiKeyId,
		ApiKeySecret: lunoExchange.apiKeySecret,
	}
	authMessageBytes, err := json.Marshal(authMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal authentication message: %w", err)
	}

	if err := c.Write(ctx, websocket.MessageText, authMessageBytes); err != nil {
		return fmt.Errorf("failed to send authentication message to Luno websocket: %w", err)
	}
	return nil
}

// run reads the stream until ctx ends. A sequence gap or a dropped
// connection discards the order state and redials; the fresh connection
// starts with a new snapshot.
func (lunoExchange *LunoExchange) run(ctx context.Context, stream *lunoStream, c *websocket.Conn) {
	defer close(stream.done)
	for {
		err := lunoExchange.read(ctx, stream, c)
		c.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			Logger.Info("Luno websocket closed", zap.String("pair", stream.pair))
			return
		}

		var sequenceErr *SequenceIncorrectError
		if errors.As(err, &sequenceErr) {
			Logger.Warn("Sequence number mismatch, resubscribing",
				zap.String("pair", stream.pair),
				zap.Int64("expected", sequenceErr.ExpectedSequence),
				zap.Int64("actual", sequenceErr.ActualSequence))
		} else {
			Logger.Error("Failed to read Luno websocket", zap.String("pair", stream.pair), zap.Error(err))
		}
		stream.reset()

		if c, err = lunoExchange.redial(ctx, stream.pair); err != nil {
			return
		}
	}
}

func (lunoExchange *LunoExchange) redial(ctx context.Context, pair string) (*websocket.Conn, error) {
	backoff := time.Second
	for {
		c, err := lunoExchange.dial(ctx, pair)
		if err == nil {
			return c, nil
		}
		Logger.Error("Failed to resubscribe to Luno websocket", zap.String("pair", pair), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRedialBackoff)
	}
}

func (lunoExchange *LunoExchange) read(ctx context.Context, stream *lunoStream, c *websocket.Conn) error {
	for {
		messageType, message, err := c.Read(ctx)
		if err != nil {
			return err
		}
		if messageType != websocket.MessageText {
			Logger.Warn("Received unknown message type from Luno websocket", zap.Stringer("type", messageType))
			continue
		}

		update, ok, err := stream.process(message)
		if err != nil {
			return err
		}
		if ok {
			lunoExchange.emit(update)
		}
	}
}

var keepAlive = []byte(`""`)

// process turns one frame into a book update. ok is false for frames that
// change no level.
func (s *lunoStream) process(message []byte) (update domain.OrderBookUpdate, ok bool, err error) {
	message = bytes.TrimSpace(message)
	if len(message) == 0 || bytes.Equal(message, keepAlive) {
		return update, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		var snapshot LunoOrderBookFeedSnapshot
		if err := json.Unmarshal(message, &snapshot); err != nil {
			return update, false, fmt.Errorf("failed to unmarshal Luno order book feed snapshot: %w", err)
		}
		s.state, update = newOrderBookState(s.pair, &snapshot)
		s.sequence = snapshot.Sequence
		StateLogger.Info("Luno feed snapshot",
			zap.String("pair", s.pair),
			zap.Int64("sequence", snapshot.Sequence),
			zap.Int("asks", len(update.Q2BOffers)),
			zap.Int("bids", len(update.B2QOffers)))
		return update, true, nil
	}

	var feedMessage LunoOrderBookFeedMessage
	if err := json.Unmarshal(message, &feedMessage); err != nil {
		return update, false, fmt.Errorf("failed to unmarshal Luno order book feed: %w", err)
	}
	if status := feedMessage.StatusUpdate; status != nil {
		StateLogger.Info("Luno market status", zap.String("pair", s.pair), zap.String("status", status.Status))
	}

	update, err = s.state.apply(s.pair, &feedMessage)
	if err != nil {
		return update, false, err
	}
	s.sequence = feedMessage.Sequence
	return update, len(update.Q2BChanges)+len(update.B2QChanges) != 0, nil
}

func (s *lunoStream) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}
