package trader

import (
	"context"
	"fmt"
	"time"

	"futures-alert-bot/internal/binance"
	"futures-alert-bot/internal/metrics"
	"futures-alert-bot/internal/models"
	"go.uber.org/zap"
)

// Exit reasons for a simulated position.
const (
	exitReasonTakeProfit = "TP"
	exitReasonStopLoss   = "SL"
)

// simPosition is one simulated open position awaiting its exit price.
type simPosition struct {
	symbol     string
	side       string
	entryPrice float64
	takeProfit float64
	stopLoss   float64
	quantity   float64
	startTime  time.Time
}

// simulate mirrors the live orchestration without placing exchange orders:
// same per-symbol lock, same sizing, same counter mutation. A background
// price poll finalizes the position the first time price crosses the take
// profit or stop loss for its side.
func (e *Engine) simulate(alert AlertPayload) Result {
	l := e.logger.With(zap.String("symbol", alert.Symbol), zap.String("side", alert.Side))

	if !e.locks.TryAcquire(alert.Symbol) {
		l.Info("Mock trade already running for symbol, skipping new signal")
		metrics.Alerts.WithLabelValues("duplicate").Inc()
		return rejected(ErrDuplicateInFlight.Error())
	}
	// The lock is held for the lifetime of the simulated position; every
	// early exit below must release it.

	cred, err := e.store.ActiveCredential()
	if err != nil || cred == nil {
		e.locks.Release(alert.Symbol)
		l.Error("No credentials available for mock trade", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected(ErrNoCredentials.Error())
	}

	entryPrice, err := e.gateway.GetLastPrice(alert.Symbol)
	if err != nil {
		e.locks.Release(alert.Symbol)
		l.Error("Failed to fetch entry price for mock trade", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to fetch last price")
	}

	quantity := (cred.TradeAmount * float64(cred.Leverage)) / entryPrice

	if err := e.store.IncrementCounter(counterCurrentTrades); err != nil {
		e.locks.Release(alert.Symbol)
		l.Error("Failed to increment trade counter for mock trade", zap.Error(err))
		metrics.Alerts.WithLabelValues("error").Inc()
		return rejected("failed to update trade counter")
	}
	e.publishCurrentTrades()

	pos := simPosition{
		symbol:     alert.Symbol,
		side:       alert.Side,
		entryPrice: entryPrice,
		takeProfit: alert.TakeProfit,
		stopLoss:   alert.StopLoss,
		quantity:   quantity,
		startTime:  time.Now(),
	}

	l.Info("Simulating trade",
		zap.Float64("entry_price", entryPrice),
		zap.Float64("take_profit", alert.TakeProfit),
		zap.Float64("stop_loss", alert.StopLoss),
		zap.Float64("quantity", quantity))

	// The poll must survive the alert that spawned it, so it runs on the
	// engine's root context, not on anything request-scoped.
	go e.pollSimulated(e.rootCtx, pos)

	metrics.Alerts.WithLabelValues("accepted").Inc()
	return Result{Accepted: true}
}

// pollSimulated watches the price until the position exits or the context
// dies. The ticker is stopped exactly once, on whichever path ends the poll;
// the symbol lock travels with it.
func (e *Engine) pollSimulated(ctx context.Context, pos simPosition) {
	ticker := time.NewTicker(e.simInterval)
	defer ticker.Stop()
	defer e.locks.Release(pos.symbol)

	l := e.logger.With(zap.String("symbol", pos.symbol))

	for {
		select {
		case <-ctx.Done():
			l.Info("Shutting down, abandoning mock trade")
			return
		case <-ticker.C:
			price, err := e.gateway.GetLastPrice(pos.symbol)
			if err != nil {
				l.Warn("Failed to fetch price for mock trade", zap.Error(err))
				continue
			}
			if price <= 0 {
				continue
			}

			if crossedTakeProfit(pos, price) {
				l.Info("Mock trade hit take profit", zap.Float64("price", price))
				e.finalizeSimulated(pos, exitReasonTakeProfit, price)
				return
			}
			if crossedStopLoss(pos, price) {
				l.Info("Mock trade hit stop loss", zap.Float64("price", price))
				e.finalizeSimulated(pos, exitReasonStopLoss, price)
				return
			}
		}
	}
}

func crossedTakeProfit(pos simPosition, price float64) bool {
	if pos.side == binance.OrderSideBuy {
		return price >= pos.takeProfit
	}
	return price <= pos.takeProfit
}

func crossedStopLoss(pos simPosition, price float64) bool {
	if pos.side == binance.OrderSideBuy {
		return price <= pos.stopLoss
	}
	return price >= pos.stopLoss
}

// finalizeSimulated writes the ledger row for a finished mock position and
// gives the counter back. PnL is computed against the configured exit level,
// not the observed poll price, which is recorded as the mark price.
func (e *Engine) finalizeSimulated(pos simPosition, exitReason string, exitPrice float64) {
	exitTarget := pos.takeProfit
	if exitReason == exitReasonStopLoss {
		exitTarget = pos.stopLoss
	}

	pnl := (exitTarget - pos.entryPrice) * pos.quantity
	if pos.side == binance.OrderSideSell {
		pnl = (pos.entryPrice - exitTarget) * pos.quantity
	}

	roi := 0.0
	if notional := pos.entryPrice * pos.quantity; notional != 0 {
		roi = pnl / notional * 100
	}

	e.logger.Info("Mock trade result",
		zap.String("symbol", pos.symbol),
		zap.String("exit_reason", exitReason),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", pnl))

	trade := models.Trade{
		TradeType:       "mock",
		Symbol:          pos.symbol,
		TradeAmount:     pos.quantity,
		EntryPrice:      pos.entryPrice,
		MarkPrice:       exitPrice,
		Pnl:             pnl,
		Roi:             roi,
		RealizedPnl:     fmt.Sprintf("%.2f", pnl),
		QuoteQty:        fmt.Sprintf("%.2f", pos.entryPrice*pos.quantity),
		Commission:      "0",
		CommissionAsset: "USDT",
		Side:            pos.side,
		Time:            time.Now().UnixMilli(),
		ExtraInfo:       "Mock trade exited via " + exitReason,
	}

	if err := e.store.AppendTrade(&trade); err != nil {
		e.logger.Error("Failed to save mock trade", zap.String("symbol", pos.symbol), zap.Error(err))
	} else if e.notifier != nil {
		e.notifier.NotifyLatestTrade(trade)
	}

	if err := e.store.DecrementCounterClamped(counterCurrentTrades); err != nil {
		e.logger.Error("Failed to decrement trade counter", zap.Error(err))
	}
	e.publishCurrentTrades()

	metrics.MockTrades.WithLabelValues(exitReason).Inc()
}
