package trader

import (
	"fmt"

	"futures-alert-bot/internal/binance"
	"futures-alert-bot/internal/metrics"
	"futures-alert-bot/internal/models"
	"go.uber.org/zap"
)

// Reconciler restores counter and ledger consistency after the exchange
// reports a filled protective order: it persists the closed trade, cancels
// the now-orphaned sibling order and decrements the open-trade counter.
type Reconciler struct {
	logger   *zap.Logger
	gateway  binance.GatewayInterface
	store    Store
	notifier Notifier
}

// NewReconciler creates a fill reconciler.
func NewReconciler(logger *zap.Logger, gateway binance.GatewayInterface, store Store, notifier Notifier) *Reconciler {
	return &Reconciler{
		logger:   logger.Named("reconciler"),
		gateway:  gateway,
		store:    store,
		notifier: notifier,
	}
}

// HandleFill processes one filled protective order from the user-data
// stream. Delivery is at-least-once, so the whole path is written to be
// safely repeatable: the decrement only happens when open orders were
// actually found and cancelled. Errors are logged, never retried; the
// exchange remains the source of truth.
func (r *Reconciler) HandleFill(event binance.FillEvent) {
	l := r.logger.With(
		zap.String("symbol", event.Symbol),
		zap.String("order_type", event.OrderType),
	)
	l.Info("Protective order filled, reconciling")

	// The stream delivers at least once. A symbol with no open orders left
	// has already been reconciled: the sibling was cancelled and the
	// counter given back, so a repeat of the same event stops here before
	// writing a second ledger row.
	openOrders, err := r.gateway.GetOpenOrders(event.Symbol)
	if err != nil {
		l.Error("Failed to query open orders", zap.Error(err))
		return
	}
	if len(openOrders) == 0 {
		l.Info("No open orders found, fill already reconciled")
		return
	}

	trade := models.Trade{
		TradeType:       event.OrderType,
		Symbol:          event.Symbol,
		TradeAmount:     event.Quantity,
		EntryPrice:      event.AvgPrice,
		MarkPrice:       event.LastFilledPrice,
		Pnl:             event.RealizedPnl,
		Roi:             calculateROI(event.RealizedPnl, event.AvgPrice),
		RealizedPnl:     fmt.Sprintf("%v", event.RealizedPnl),
		QuoteQty:        fmt.Sprintf("%v", event.Quantity),
		Commission:      fmt.Sprintf("%v", event.Commission),
		CommissionAsset: event.CommissionAsset,
		// The event reports the closing order's side; the ledger records
		// the side of the position that was closed.
		Side:      binance.OppositeSide(event.Side),
		Time:      event.EventTime,
		ExtraInfo: event.Raw,
	}

	if err := r.store.AppendTrade(&trade); err != nil {
		l.Error("Failed to persist closed trade", zap.Error(err))
		return
	}
	if r.notifier != nil {
		r.notifier.NotifyLatestTrade(trade)
	}

	l.Info("Cancelling orphaned sibling orders", zap.Int("count", len(openOrders)))
	if err := r.gateway.CancelAllOpenOrders(event.Symbol); err != nil {
		l.Error("Failed to cancel open orders", zap.Error(err))
		return
	}

	if err := r.store.DecrementCounterClamped(counterCurrentTrades); err != nil {
		l.Error("Failed to decrement trade counter", zap.Error(err))
		return
	}

	current, err := r.store.GetCounter(counterCurrentTrades)
	if err != nil {
		l.Error("Failed to read current trades for broadcast", zap.Error(err))
	} else {
		metrics.CurrentTrades.Set(float64(current))
		if r.notifier != nil {
			r.notifier.NotifyCurrentTrades(current)
		}
	}

	metrics.FillsReconciled.WithLabelValues(event.OrderType).Inc()
}

// calculateROI mirrors the dashboard's historical convention: realized PnL
// relative to the average fill price.
func calculateROI(pnl, entryPrice float64) float64 {
	if entryPrice == 0 {
		return 0
	}
	return (pnl / entryPrice) * 100
}
