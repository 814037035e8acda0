// Package broadcast fans out state changes to connected dashboard
// observers. Delivery is best-effort: no back-pressure, no replay, and a
// slow observer loses messages rather than stalling the writers.
package broadcast

import (
	"encoding/json"
	"sync"

	"futures-alert-bot/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-observer channel depth. Writes beyond it are
// dropped.
const subscriberBuffer = 8

// Hub holds the currently-connected observer channels.
type Hub struct {
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[string]chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger.Named("broadcast"),
		subscribers: make(map[string]chan []byte),
	}
}

// Subscribe registers a new observer and returns its id and message
// channel. New observers receive no backlog; current state must be fetched
// through the read API before subscribing.
func (h *Hub) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[id] = ch
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Debug("Observer subscribed", zap.String("id", id), zap.Int("total", count))
	return id, ch
}

// Unsubscribe removes an observer. Its channel is closed so a pending
// reader unblocks.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	if ok {
		close(ch)
		h.logger.Debug("Observer unsubscribed", zap.String("id", id))
	}
}

// NotifyCurrentTrades pushes the open-trade counter to all observers.
func (h *Hub) NotifyCurrentTrades(count int64) {
	h.broadcast(struct {
		Type          string `json:"type"`
		CurrentTrades int64  `json:"currentTrades"`
	}{Type: "currentTrades", CurrentTrades: count})
}

// NotifyLatestTrade pushes a newly closed trade to all observers.
func (h *Hub) NotifyLatestTrade(trade models.Trade) {
	h.broadcast(struct {
		Type  string       `json:"type"`
		Trade models.Trade `json:"trade"`
	}{Type: "latestTrade", Trade: trade})
}

// broadcast marshals once and sends without blocking; full observer
// channels drop the message.
func (h *Hub) broadcast(message interface{}) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- payload:
		default:
			h.logger.Debug("Dropping message for slow observer", zap.String("id", id))
		}
	}
}
