package trader

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"futures-alert-bot/internal/binance"
	"futures-alert-bot/internal/config"
	"futures-alert-bot/internal/metrics"
	"futures-alert-bot/internal/models"
	"go.uber.org/zap"
)

// Store is the durable state surface the trading core depends on.
type Store interface {
	GetCounter(key string) (int64, error)
	IncrementCounter(key string) error
	DecrementCounterClamped(key string) error
	AppendTrade(trade *models.Trade) error
	ActiveCredential() (*models.Credential, error)
}

// Counter keys, mirrored from the store package to keep the core free of a
// package cycle.
const (
	counterCurrentTrades = "currentTrades"
	counterMaxTrades     = "maxTrades"
)

// Notifier receives state changes for fan-out to connected observers.
type Notifier interface {
	NotifyCurrentTrades(count int64)
	NotifyLatestTrade(trade models.Trade)
}

// AlertPayload is one inbound trading signal. It lives only for the duration
// of a single orchestration and is never persisted.
type AlertPayload struct {
	Symbol       string  `json:"symbol" binding:"required"`
	Side         string  `json:"side" binding:"required"`
	TakeProfit   float64 `json:"takeProfit"`
	StopLoss     float64 `json:"stopLoss"`
	TrailingStop bool    `json:"trailingStop"`
	TrailPrice   float64 `json:"trailPrice"`
	TrailOffset  float64 `json:"trailOffset"`
}

// Result is the outcome of submitting an alert. Rejections carry a
// structured reason and are not errors: a rejected alert is a normal
// operating condition.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func rejected(reason string) Result { return Result{Accepted: false, Reason: reason} }

// Engine turns admitted alerts into bracketed orders: a market entry plus a
// reduce-only stop-loss and take-profit or trailing stop. One orchestration
// per symbol runs at a time; different symbols run in parallel.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	gateway  binance.GatewayInterface
	store    Store
	locks    *SymbolLocks
	notifier Notifier

	// rootCtx parents the simulated price polls, which outlive the alert
	// that spawned them. Request contexts must not reach them: the HTTP
	// server cancels those as soon as the response is written.
	rootCtx context.Context

	testMode    atomic.Bool
	simInterval time.Duration
}

// NewEngine creates a trading engine. Background work is bound to ctx and
// stops when it is cancelled.
func NewEngine(ctx context.Context, logger *zap.Logger, cfg *config.Config, gateway binance.GatewayInterface, store Store, notifier Notifier) *Engine {
	e := &Engine{
		logger:      logger,
		cfg:         cfg,
		gateway:     gateway,
		store:       store,
		locks:       NewSymbolLocks(),
		notifier:    notifier,
		rootCtx:     ctx,
		simInterval: time.Duration(cfg.Trading.SimPollInterval) * time.Second,
	}
	e.testMode.Store(cfg.Trading.TestMode)
	return e
}

// TestMode reports whether alerts are being simulated.
func (e *Engine) TestMode() bool { return e.testMode.Load() }

// SetTestMode switches alert routing between the live gateway and the
// simulator. In-flight orchestrations are unaffected.
func (e *Engine) SetTestMode(enabled bool) { e.testMode.Store(enabled) }

// Admit checks the trade ceiling: it returns false when currentTrades has
// reached maxTrades. The check is deliberately not transactional with the
// later increment; the per-symbol lock bounds the overshoot.
func (e *Engine) Admit() (bool, error) {
	current, err := e.store.GetCounter(counterCurrentTrades)
	if err != nil {
		return false, err
	}
	max, err := e.store.GetCounter(counterMaxTrades)
	if err != nil {
		return false, err
	}
	return current < max, nil
}

// SubmitAlert runs the full pipeline for one alert: validation, admission,
// then live or simulated orchestration depending on test mode. Submission is
// synchronous; a simulated position keeps polling in the background on the
// engine's root context.
func (e *Engine) SubmitAlert(alert AlertPayload) Result {
	alert.Side = strings.ToUpper(alert.Side)
	if err := validateAlert(&alert); err != nil {
		metrics.Alerts.WithLabelValues("rejected").Inc()
		return rejected(err.Error())
	}

	ok, err := e.Admit()
	if err != nil {
		e.logger.Error("Failed to read trade counters", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to read trade counters")
	}
	if !ok {
		e.logger.Info("Alert rejected, max trades reached", zap.String("symbol", alert.Symbol))
		metrics.Alerts.WithLabelValues("rejected").Inc()
		return rejected("max trades reached, try later")
	}

	if e.testMode.Load() {
		return e.simulate(alert)
	}
	return e.executeLive(alert)
}

func validateAlert(alert *AlertPayload) error {
	if alert.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if alert.Side != binance.OrderSideBuy && alert.Side != binance.OrderSideSell {
		return fmt.Errorf("side must be BUY or SELL")
	}
	if alert.TakeProfit <= 0 || alert.StopLoss <= 0 {
		return fmt.Errorf("takeProfit and stopLoss must be positive")
	}
	return nil
}

// executeLive places the bracket on the exchange: market entry, reduce-only
// stop-loss, then either a trailing stop or a take-profit.
func (e *Engine) executeLive(alert AlertPayload) Result {
	l := e.logger.With(zap.String("symbol", alert.Symbol), zap.String("side", alert.Side))

	if !e.locks.TryAcquire(alert.Symbol) {
		l.Info("Duplicate alert skipped, orchestration already in flight")
		metrics.Alerts.WithLabelValues("duplicate").Inc()
		return rejected(ErrDuplicateInFlight.Error())
	}
	defer e.locks.Release(alert.Symbol)

	positions, err := e.gateway.GetOpenPositions()
	if err != nil {
		l.Error("Failed to query open positions", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to query open positions")
	}
	for _, p := range positions {
		if p.Symbol == alert.Symbol {
			l.Info("Alert rejected, position already open")
			metrics.Alerts.WithLabelValues("rejected").Inc()
			return rejected(ErrExistingPosition.Error())
		}
	}

	cred, err := e.store.ActiveCredential()
	if err != nil {
		l.Error("Failed to read credentials", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to read credentials")
	}
	if cred == nil {
		l.Error("No credentials stored, cannot trade")
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected(ErrNoCredentials.Error())
	}

	if err := e.gateway.SetLeverage(alert.Symbol, cred.Leverage); err != nil {
		l.Error("Failed to set leverage", zap.Int("leverage", cred.Leverage), zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to set leverage")
	}

	rules, err := e.gateway.GetSymbolRules(alert.Symbol)
	if err != nil {
		l.Error("Failed to fetch symbol rules", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to fetch symbol rules")
	}

	lastPrice, err := e.gateway.GetLastPrice(alert.Symbol)
	if err != nil {
		l.Error("Failed to fetch last price", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to fetch last price")
	}

	rawQuantity := (cred.TradeAmount * float64(cred.Leverage)) / lastPrice
	quantity, err := NormalizeToStep(rawQuantity, rules.StepSize)
	if err != nil {
		l.Error("Invalid step size in symbol rules", zap.Float64("step_size", rules.StepSize), zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected(ErrInvalidPrecision.Error())
	}
	if quantity <= 0 || quantity < rules.MinQty {
		l.Error("Computed quantity below minimum",
			zap.Float64("raw_quantity", rawQuantity),
			zap.Float64("quantity", quantity),
			zap.Float64("min_qty", rules.MinQty))
		metrics.Alerts.WithLabelValues("rejected").Inc()
		return rejected("computed quantity below symbol minimum")
	}

	// Committed to the attempt: the counter goes up before the entry order
	// is placed, and is not rolled back if placement fails. The reconciler's
	// guarded decrement or the current-trades override corrects the window.
	if err := e.store.IncrementCounter(counterCurrentTrades); err != nil {
		l.Error("Failed to increment trade counter", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to update trade counter")
	}
	e.publishCurrentTrades()

	l.Info("Placing market entry order",
		zap.Float64("quantity", quantity),
		zap.Float64("last_price", lastPrice))

	if _, err := e.gateway.CreateOrder(binance.OrderSpec{
		Symbol:   alert.Symbol,
		Side:     alert.Side,
		Type:     binance.OrderTypeMarket,
		Quantity: quantity,
	}); err != nil {
		l.Error("Entry order placement failed", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("entry order placement failed")
	}
	metrics.OrdersPlaced.WithLabelValues(binance.OrderTypeMarket, alert.Side).Inc()

	closeSide := binance.OppositeSide(alert.Side)

	stopLossPrice, err := NormalizeToStep(alert.StopLoss, rules.TickSize)
	if err != nil {
		l.Error("Invalid tick size in symbol rules", zap.Float64("tick_size", rules.TickSize), zap.Error(err))
		return Result{Accepted: true, Reason: "entry placed but protective orders failed"}
	}
	if _, err := e.gateway.CreateOrder(binance.OrderSpec{
		Symbol:     alert.Symbol,
		Side:       closeSide,
		Type:       binance.OrderTypeStopMarket,
		Quantity:   quantity,
		StopPrice:  stopLossPrice,
		ReduceOnly: true,
	}); err != nil {
		l.Error("Stop loss placement failed", zap.Error(err))
		return Result{Accepted: true, Reason: "entry placed but stop loss failed"}
	}
	metrics.OrdersPlaced.WithLabelValues(binance.OrderTypeStopMarket, closeSide).Inc()
	l.Info("Stop loss order placed", zap.Float64("stop_price", stopLossPrice))

	if alert.TrailingStop && alert.TrailPrice > 0 && alert.TrailOffset > 0 {
		activationPrice, err := NormalizeToStep(alert.TrailPrice, rules.TickSize)
		if err != nil {
			l.Error("Invalid tick size for trailing stop", zap.Error(err))
			return Result{Accepted: true, Reason: "entry placed but trailing stop failed"}
		}
		if _, err := e.gateway.CreateOrder(binance.OrderSpec{
			Symbol:          alert.Symbol,
			Side:            closeSide,
			Type:            binance.OrderTypeTrailingStopMarket,
			Quantity:        quantity,
			ActivationPrice: activationPrice,
			CallbackRate:    alert.TrailOffset,
			ReduceOnly:      true,
		}); err != nil {
			l.Error("Trailing stop placement failed", zap.Error(err))
			return Result{Accepted: true, Reason: "entry placed but trailing stop failed"}
		}
		metrics.OrdersPlaced.WithLabelValues(binance.OrderTypeTrailingStopMarket, closeSide).Inc()
		l.Info("Trailing stop order placed",
			zap.Float64("activation_price", activationPrice),
			zap.Float64("callback_rate", alert.TrailOffset))
	} else {
		takeProfitPrice, err := NormalizeToStep(alert.TakeProfit, rules.TickSize)
		if err != nil {
			l.Error("Invalid tick size for take profit", zap.Error(err))
			return Result{Accepted: true, Reason: "entry placed but take profit failed"}
		}
		if _, err := e.gateway.CreateOrder(binance.OrderSpec{
			Symbol:     alert.Symbol,
			Side:       closeSide,
			Type:       binance.OrderTypeTakeProfitMarket,
			Quantity:   quantity,
			StopPrice:  takeProfitPrice,
			ReduceOnly: true,
		}); err != nil {
			l.Error("Take profit placement failed", zap.Error(err))
			return Result{Accepted: true, Reason: "entry placed but take profit failed"}
		}
		metrics.OrdersPlaced.WithLabelValues(binance.OrderTypeTakeProfitMarket, closeSide).Inc()
		l.Info("Take profit order placed", zap.Float64("stop_price", takeProfitPrice))
	}

	l.Info("Trade setup complete")
	metrics.Alerts.WithLabelValues("accepted").Inc()
	return Result{Accepted: true}
}

// publishCurrentTrades pushes the current counter value to observers.
func (e *Engine) publishCurrentTrades() {
	current, err := e.store.GetCounter(counterCurrentTrades)
	if err != nil {
		e.logger.Error("Failed to read current trades for broadcast", zap.Error(err))
		return
	}
	metrics.CurrentTrades.Set(float64(current))
	if e.notifier != nil {
		e.notifier.NotifyCurrentTrades(current)
	}
}
