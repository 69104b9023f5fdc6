package hata

import (
	"context"
	"crypto-market-depth/internal/domain"
	"crypto-market-depth/internal/platform/logger"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HataExchange multiplexes every subscribed pair over one websocket.
type HataExchange struct {
	apiBaseUrl       string
	websocketBaseUrl string
	apiKeyId         string
	apiKeySecret     string
	httpClient       *http.Client
	limiter          *rate.Limiter

	mu      sync.Mutex
	handler func(domain.OrderBookUpdate)

	connMu sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	pairs  map[string]bool
}

const (
	hataApiBaseUrl       = "https://my-api.hata.io"
	hataWebsocketBaseUrl = "wss://my-api.hata.io/orderbook/ws"
	maxRedialBackoff     = 30 * time.Second
)

// errStreamReplaced stops a reconnecting reader whose stream was closed or
// replaced by Unsubscribe/Subscribe while it was redialling.
var errStreamReplaced = errors.New("hata stream replaced")

var Logger = logger.ForExchange(domain.Hata.String())
var StateLogger = logger.GetStateLogger()

type Option func(*HataExchange)

func WithApiBaseUrl(url string) Option {
	return func(exchange *HataExchange) {
		if url != "" {
			exchange.apiBaseUrl = url
		}
	}
}

func WithWebsocketBaseUrl(url string) Option {
	return func(exchange *HataExchange) {
		if url != "" {
			exchange.websocketBaseUrl = url
		}
	}
}

// WithSnapshotRate limits REST order book requests per second.
func WithSnapshotRate(perSecond float64) Option {
	return func(exchange *HataExchange) {
		if perSecond > 0 {
			exchange.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func CreateClient(id string, secret string, opts ...Option) *HataExchange {
	exchange := &HataExchange{
		apiBaseUrl:       hataApiBaseUrl,
		websocketBaseUrl: hataWebsocketBaseUrl,
		apiKeyId:         id,
		apiKeySecret:     secret,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		limiter:          rate.NewLimiter(rate.Limit(1), 1),
		pairs:            make(map[string]bool),
	}
	for _, opt := range opts {
		opt(exchange)
	}

	Logger.Info("Hata client created")
	return exchange
}

func (exchange *HataExchange) GetName() string {
	return domain.Hata.String()
}

func (exchange *HataExchange) OnUpdate(handler func(domain.OrderBookUpdate)) {
	exchange.mu.Lock()
	defer exchange.mu.Unlock()
	exchange.handler = handler
}

func (exchange *HataExchange) emit(update domain.OrderBookUpdate) {
	exchange.mu.Lock()
	handler := exchange.handler
	exchange.mu.Unlock()
	if handler != nil {
		handler(update)
	}
}

func (exchange *HataExchange) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(exchange.apiKeySecret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// QuerySnapshot fetches the pair's aggregated book over signed REST. The
// response carries the venue nonce it reflects.
func (exchange *HataExchange) QuerySnapshot(ctx context.Context, pair string) (domain.OrderBookUpdate, error) {
	if err := exchange.limiter.Wait(ctx); err != nil {
		return domain.OrderBookUpdate{}, err
	}

	params := url.Values{}
	params.Set("pair_name", pair)
	queryString := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exchange.apiBaseUrl+"/orderbook/api/orderbook?"+queryString, nil)
	if err != nil {
		return domain.OrderBookUpdate{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-API-Key", exchange.apiKeyId)
	req.Header.Set("Signature", exchange.sign(queryString))

	Logger.Info("Getting Hata order book", zap.String("pair", pair))

	resp, err := exchange.httpClient.Do(req)
	if err != nil {
		return domain.OrderBookUpdate{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.OrderBookUpdate{}, fmt.Errorf("error reading response body: %w", err)
	}
	StateLogger.Debug("Hata order book response", zap.String("pair", pair), zap.ByteString("body", respBody))

	if resp.StatusCode != http.StatusOK {
		return domain.OrderBookUpdate{}, fmt.Errorf("hata order book returned %s", resp.Status)
	}

	var respData HataOrderBookResponse
	if err := json.Unmarshal(respBody, &respData); err != nil {
		return domain.OrderBookUpdate{}, fmt.Errorf("error unmarshalling response body: %w", err)
	}

	return domain.OrderBookUpdate{
		Pair:      pair,
		Nonce:     respData.Data.Nonce,
		Kind:      domain.Snapshot,
		Q2BOffers: toSnapshotOffers(respData.Data.Asks),
		B2QOffers: toSnapshotOffers(respData.Data.Bids),
	}, nil
}

// Subscribe adds pair to the shared stream, connecting on first use.
func (exchange *HataExchange) Subscribe(ctx context.Context, pair string) error {
	exchange.connMu.Lock()
	defer exchange.connMu.Unlock()

	if exchange.pairs[pair] {
		return nil
	}
	if exchange.conn == nil {
		c, err := exchange.dial(ctx)
		if err != nil {
			return err
		}
		streamCtx, cancel := context.WithCancel(context.Background())
		exchange.conn = c
		exchange.cancel = cancel
		exchange.done = make(chan struct{})
		go exchange.run(streamCtx, c, exchange.done)
	}

	Logger.Info("Subscribing to Hata websocket", zap.String("pair", pair))
	if err := wsjson.Write(ctx, exchange.conn, HataSubscribeRequest{Action: "subscribe", Pair: pair}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pair, err)
	}
	exchange.pairs[pair] = true
	return nil
}

// Unsubscribe removes pair from the stream and closes the connection once no
// pair is left.
func (exchange *HataExchange) Unsubscribe(ctx context.Context, pair string) error {
	exchange.connMu.Lock()
	if !exchange.pairs[pair] {
		exchange.connMu.Unlock()
		return nil
	}
	delete(exchange.pairs, pair)

	Logger.Info("Unsubscribing from Hata websocket", zap.String("pair", pair))
	err := wsjson.Write(ctx, exchange.conn, HataSubscribeRequest{Action: "unsubscribe", Pair: pair})

	if len(exchange.pairs) != 0 {
		exchange.connMu.Unlock()
		return err
	}

	cancel, done := exchange.cancel, exchange.done
	exchange.conn, exchange.cancel, exchange.done = nil, nil, nil
	exchange.connMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (exchange *HataExchange) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-API-Key", exchange.apiKeyId)
	c, _, err := websocket.Dial(ctx, exchange.websocketBaseUrl, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("failed to dial Hata websocket: %w", err)
	}
	c.SetReadLimit(-1)
	return c, nil
}

// run reads the stream until ctx ends, reconnecting on failure.
func (exchange *HataExchange) run(ctx context.Context, c *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := exchange.read(ctx, c)
		c.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			Logger.Info("Hata websocket closed")
			return
		}
		Logger.Error("Failed to read Hata websocket", zap.Error(err))

		if c, err = exchange.reconnect(ctx, done); err != nil {
			return
		}
	}
}

func (exchange *HataExchange) read(ctx context.Context, c *websocket.Conn) error {
	for {
		messageType, message, err := c.Read(ctx)
		if err != nil {
			return err
		}
		if messageType != websocket.MessageText {
			Logger.Warn("Received unknown message type from Hata websocket", zap.Stringer("type", messageType))
			continue
		}

		var feed HataStreamMessage
		if err := json.Unmarshal(message, &feed); err != nil {
			Logger.Error("Failed to unmarshal Hata stream message", zap.Error(err))
			continue
		}
		update, err := feed.toUpdate()
		if err != nil {
			Logger.Error("Failed to process Hata stream message", zap.Error(err))
			continue
		}
		exchange.emit(update)
	}
}

// reconnect redials, resubscribes every pair and replays a REST snapshot for
// each so that updates lost while disconnected are covered.
func (exchange *HataExchange) reconnect(ctx context.Context, done chan struct{}) (*websocket.Conn, error) {
	backoff := time.Second
	for {
		c, err := exchange.dial(ctx)
		if err == nil {
			var pairs []string
			if pairs, err = exchange.resubscribe(ctx, c, done); err == nil {
				exchange.refresh(ctx, pairs)
				return c, nil
			}
			c.CloseNow()
			if errors.Is(err, errStreamReplaced) {
				Logger.Info("Hata websocket superseded, stopping reconnect")
				return nil, err
			}
		}
		Logger.Error("Failed to reconnect to Hata websocket", zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRedialBackoff)
	}
}

func (exchange *HataExchange) refresh(ctx context.Context, pairs []string) {
	for _, pair := range pairs {
		snapshot, err := exchange.QuerySnapshot(ctx, pair)
		if err != nil {
			Logger.Error("Failed to refresh Hata order book", zap.String("pair", pair), zap.Error(err))
			continue
		}
		exchange.emit(snapshot)
	}
}

// resubscribe installs c as the stream connection, provided the reader that
// owns done is still the current one.
func (exchange *HataExchange) resubscribe(ctx context.Context, c *websocket.Conn, done chan struct{}) ([]string, error) {
	exchange.connMu.Lock()
	defer exchange.connMu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if exchange.done != done {
		return nil, errStreamReplaced
	}

	pairs := make([]string, 0, len(exchange.pairs))
	for pair := range exchange.pairs {
		if err := wsjson.Write(ctx, c, HataSubscribeRequest{Action: "subscribe", Pair: pair}); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	exchange.conn = c
	return pairs, nil
}
