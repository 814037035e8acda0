package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"futures-alert-bot/internal/config"
	"futures-alert-bot/internal/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsBaseURL        = "wss://fstream.binance.com/ws/"
	testnetWsBaseURL = "wss://stream.binancefuture.com/ws/"

	// Listen keys expire after 60 minutes without a keepalive.
	listenKeyKeepAlive = 30 * time.Minute

	reconnectInitialWait = time.Second
	reconnectMaxWait     = time.Minute
)

// FillHandler receives filled-order events from the user-data stream.
type FillHandler func(event FillEvent)

// UserStream consumes the futures user-data websocket stream and dispatches
// filled protective orders to the registered handler. The stream reconnects
// with backoff until its context is cancelled.
type UserStream struct {
	client  *RestClient
	logger  *zap.Logger
	wsURL   string
	handler FillHandler

	connected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewUserStream creates a user-data stream bound to the REST client that
// owns the listen key lifecycle.
func NewUserStream(client *RestClient, cfg *config.Binance, logger *zap.Logger) *UserStream {
	url := wsBaseURL
	if cfg.Testnet {
		url = testnetWsBaseURL
	}
	return &UserStream{
		client: client,
		logger: logger.Named("user-stream"),
		wsURL:  url,
	}
}

// SetFillHandler registers the handler invoked for every filled protective
// order. Must be called before Start.
func (s *UserStream) SetFillHandler(handler FillHandler) {
	s.handler = handler
}

// Connected reports whether the websocket session is currently up.
func (s *UserStream) Connected() bool {
	return s.connected.Load()
}

// Start launches the stream loop. A previous session, if any, is stopped
// first so the stream can be restarted after a credential change.
func (s *UserStream) Start(ctx context.Context) error {
	if !s.client.HasCredentials() {
		return errNoCredentialsForStream
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(streamCtx)
	return nil
}

// Stop tears down the current session.
func (s *UserStream) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

var errNoCredentialsForStream = errors.New("no API credentials installed for user stream")

// run keeps one websocket session alive at a time, reconnecting with
// exponential backoff.
func (s *UserStream) run(ctx context.Context) {
	wait := reconnectInitialWait
	for {
		if err := s.session(ctx); err != nil {
			s.logger.Warn("User stream session ended", zap.Error(err))
		}
		s.connected.Store(false)
		metrics.StreamConnected.Set(0)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > reconnectMaxWait {
			wait = reconnectMaxWait
		}
	}
}

// session runs a single connect-read-dispatch cycle until the connection
// drops or the context is cancelled.
func (s *UserStream) session(ctx context.Context) error {
	listenKey, err := s.client.CreateListenKey()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL+listenKey, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.connected.Store(true)
	metrics.StreamConnected.Set(1)
	s.logger.Info("User data stream connected")

	// Close the connection when the context dies so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	keepAlive := time.NewTicker(listenKeyKeepAlive)
	defer keepAlive.Stop()
	go func() {
		for {
			select {
			case <-keepAlive.C:
				if err := s.client.KeepAliveListenKey(); err != nil {
					s.logger.Warn("Listen key keepalive failed", zap.Error(err))
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.dispatch(message)
	}
}

// wsEvent is the envelope of a user-data stream message.
type wsEvent struct {
	EventType string         `json:"e"`
	EventTime int64          `json:"E"`
	Order     *wsOrderUpdate `json:"o"`
}

// wsOrderUpdate is the order payload of an ORDER_TRADE_UPDATE event. Field
// names follow the exchange's short wire keys.
type wsOrderUpdate struct {
	Symbol          string `json:"s"`
	Side            string `json:"S"`
	OrderType       string `json:"ot"`
	Status          string `json:"X"`
	Quantity        string `json:"q"`
	AvgPrice        string `json:"ap"`
	LastFilledPrice string `json:"L"`
	RealizedPnl     string `json:"rp"`
	Commission      string `json:"n"`
	CommissionAsset string `json:"N"`
	TradeTime       int64  `json:"T"`
}

// dispatch filters for filled protective orders and hands them to the
// registered fill handler.
func (s *UserStream) dispatch(message []byte) {
	var event wsEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Warn("Failed to decode stream message", zap.Error(err))
		return
	}
	if event.EventType != "ORDER_TRADE_UPDATE" || event.Order == nil {
		return
	}

	order := event.Order
	switch order.OrderType {
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket, OrderTypeTrailingStopMarket:
	default:
		return
	}
	if order.Status != OrderStatusFilled {
		return
	}

	if s.handler == nil {
		s.logger.Warn("Fill event received but no handler registered",
			zap.String("symbol", order.Symbol))
		return
	}

	// A malformed numeric field would otherwise reach the ledger as a
	// silent zero; skip the event instead, the raw message is logged.
	var parseErr error
	parse := func(field, value string) float64 {
		if value == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("field %s: %w", field, err)
		}
		return parsed
	}

	quantity := parse("q", order.Quantity)
	avgPrice := parse("ap", order.AvgPrice)
	lastFilled := parse("L", order.LastFilledPrice)
	realizedPnl := parse("rp", order.RealizedPnl)
	commission := parse("n", order.Commission)
	if parseErr != nil {
		s.logger.Warn("Malformed numeric field in fill event, skipping",
			zap.String("symbol", order.Symbol),
			zap.String("raw", string(message)),
			zap.Error(parseErr))
		return
	}

	commissionAsset := order.CommissionAsset
	if commissionAsset == "" {
		commissionAsset = "USDT"
	}

	s.handler(FillEvent{
		Symbol:          order.Symbol,
		OrderType:       order.OrderType,
		Status:          order.Status,
		Side:            order.Side,
		Quantity:        quantity,
		AvgPrice:        avgPrice,
		LastFilledPrice: lastFilled,
		RealizedPnl:     realizedPnl,
		Commission:      commission,
		CommissionAsset: commissionAsset,
		EventTime:       order.TradeTime,
		Raw:             string(message),
	})
}
