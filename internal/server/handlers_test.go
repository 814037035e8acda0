package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"futures-alert-bot/internal/binance"
	"futures-alert-bot/internal/broadcast"
	"futures-alert-bot/internal/config"
	"futures-alert-bot/internal/database"
	"futures-alert-bot/internal/models"
	"futures-alert-bot/internal/store"
	"futures-alert-bot/internal/trader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubGateway satisfies the trading core's exchange surface with canned
// values so webhook requests can run the full live path.
type stubGateway struct{}

func (stubGateway) GetLastPrice(string) (float64, error) { return 20000, nil }
func (stubGateway) GetSymbolRules(symbol string) (*binance.SymbolRules, error) {
	return &binance.SymbolRules{Symbol: symbol, StepSize: 0.001, TickSize: 0.1, MinQty: 0.001}, nil
}
func (stubGateway) GetOpenPositions() ([]binance.Position, error) { return nil, nil }
func (stubGateway) SetLeverage(string, int) error                 { return nil }
func (stubGateway) CreateOrder(spec binance.OrderSpec) (*binance.CreateOrderResponse, error) {
	return &binance.CreateOrderResponse{Symbol: spec.Symbol, Status: "NEW"}, nil
}
func (stubGateway) GetOpenOrders(string) ([]binance.OpenOrder, error) { return nil, nil }
func (stubGateway) CancelAllOpenOrders(string) error                  { return nil }

type testEnv struct {
	server *Server
	store  *store.Store
	hub    *broadcast.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.NewDatabase(fmt.Sprintf("file:server_%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	st := store.NewStore(db)

	cfg := &config.Config{}
	cfg.Binance.Testnet = true
	cfg.Binance.RateLimit = 100
	cfg.Binance.RateLimitBurst = 10
	cfg.Trading.SimPollInterval = 1
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := broadcast.NewHub(logger)
	engine := trader.NewEngine(ctx, logger, cfg, stubGateway{}, st, hub)
	gateway := binance.NewRestClient(&cfg.Binance, logger)
	stream := binance.NewUserStream(gateway, &cfg.Binance, logger)

	return &testEnv{
		server: NewServer(ctx, logger, cfg, engine, st, gateway, stream, hub),
		store:  st,
		hub:    hub,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	e.server.httpServer.Handler.ServeHTTP(recorder, req)
	return recorder
}

func (e *testEnv) seedCredential(t *testing.T) {
	t.Helper()
	_, err := e.store.SaveCredential(&models.Credential{
		ApiKey:      "key",
		ApiSecret:   "secret",
		TradeAmount: 100,
		Leverage:    10,
	})
	require.NoError(t, err)
}

func TestWebhookAcceptsAlert(t *testing.T) {
	env := newTestEnv(t)
	env.seedCredential(t)

	resp := env.do(t, http.MethodPost, "/webhook", map[string]interface{}{
		"symbol":     "BTCUSDT",
		"side":       "BUY",
		"takeProfit": 21000,
		"stopLoss":   19500,
	})

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"success": true}`, resp.Body.String())

	current, err := env.store.GetCounter(store.CounterCurrentTrades)
	require.NoError(t, err)
	assert.EqualValues(t, 1, current)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/webhook", map[string]interface{}{"symbol": "BTCUSDT"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestWebhookSoftRejectsAtCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.seedCredential(t)
	require.NoError(t, env.store.SetCounter(store.CounterMaxTrades, 0))

	resp := env.do(t, http.MethodPost, "/webhook", map[string]interface{}{
		"symbol":     "BTCUSDT",
		"side":       "BUY",
		"takeProfit": 21000,
		"stopLoss":   19500,
	})

	// Soft rejections stay HTTP 200 so the alert source does not retry.
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"success": false, "message": "max trades reached, try later"}`, resp.Body.String())
}

func TestMaxTradesSettings(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/settings/max-trades", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"success": true, "maxTrades": %d}`, database.DefaultMaxTrades), resp.Body.String())

	resp = env.do(t, http.MethodPost, "/settings/max-trades", map[string]interface{}{"maxTrades": 10})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(t, http.MethodGet, "/settings/max-trades", nil)
	assert.JSONEq(t, `{"success": true, "maxTrades": 10}`, resp.Body.String())

	resp = env.do(t, http.MethodPost, "/settings/max-trades", map[string]interface{}{"maxTrades": -1})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPost, "/settings/max-trades", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCurrentTradesOverride(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/settings/current-trades", map[string]interface{}{"currentTrades": 2})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(t, http.MethodGet, "/settings/current-trades", nil)
	assert.JSONEq(t, `{"success": true, "currentTrades": 2}`, resp.Body.String())
}

func TestTestModeToggle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/settings/test-mode", nil)
	assert.JSONEq(t, `{"success": true, "testMode": false}`, resp.Body.String())

	resp = env.do(t, http.MethodPost, "/settings/test-mode", map[string]interface{}{"testMode": true})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(t, http.MethodGet, "/settings/test-mode", nil)
	assert.JSONEq(t, `{"success": true, "testMode": true}`, resp.Body.String())

	resp = env.do(t, http.MethodPost, "/settings/test-mode", map[string]interface{}{"testMode": "yes"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCredentialEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/credentials", map[string]interface{}{
		"apiKey":    "key-1",
		"apiSecret": "secret-1",
		"balance":   100,
		"leverage":  10,
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	var created struct {
		Success bool `json:"success"`
		ID      uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	require.NotZero(t, created.ID)

	resp = env.do(t, http.MethodGet, "/credentials", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "key-1")

	resp = env.do(t, http.MethodPut, fmt.Sprintf("/credentials?id=%d", created.ID), map[string]interface{}{
		"apiKey":    "key-1b",
		"apiSecret": "secret-1b",
		"balance":   200,
		"leverage":  20,
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	cred, err := env.store.ActiveCredential()
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "key-1b", cred.ApiKey)
	assert.Equal(t, 200.0, cred.TradeAmount)

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/credentials?id=%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(t, http.MethodDelete, "/credentials", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStatusReportsDisconnectedStream(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/server/status", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"success": true, "connected": false}`, resp.Body.String())
}

func TestConnectWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/server/connect", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "no credentials available")
}

func TestBalanceWithoutGatewayCredentials(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/server/balance", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Contains(t, resp.Body.String(), "gateway is not initialized")
}

func TestAllTradesWindows(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UnixMilli()
	require.NoError(t, env.store.AppendTrade(&models.Trade{Symbol: "BTCUSDT", TradeType: "mock", Time: now - 1000}))
	require.NoError(t, env.store.AppendTrade(&models.Trade{Symbol: "ETHUSDT", TradeType: "mock", Time: now - 3*24*60*60*1000}))

	resp := env.do(t, http.MethodGet, "/all-trades", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "BTCUSDT")
	assert.NotContains(t, resp.Body.String(), "ETHUSDT")

	resp = env.do(t, http.MethodGet, "/all-trades?days=7", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "ETHUSDT")

	resp = env.do(t, http.MethodGet, "/all-trades?days=5", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodGet, "/all-trades?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "OK", resp.Body.String())
}

// A simulated position must keep polling after the webhook response is
// written; the poll runs on the engine's root context, not the request's,
// which the HTTP server cancels as soon as the handler returns.
func TestWebhookSimulatedTradeOutlivesRequest(t *testing.T) {
	env := newTestEnv(t)
	env.seedCredential(t)

	resp := env.do(t, http.MethodPost, "/settings/test-mode", map[string]interface{}{"testMode": true})
	require.Equal(t, http.StatusOK, resp.Code)

	httpServer := httptest.NewServer(env.server.httpServer.Handler)
	defer httpServer.Close()

	// TP at the stub price so the very first poll tick finalizes.
	payload := []byte(`{"symbol":"BTCUSDT","side":"BUY","takeProfit":20000,"stopLoss":19500}`)
	res, err := http.Post(httpServer.URL+"/webhook", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.Eventually(t, func() bool {
		latest, err := env.store.LatestTrade()
		return err == nil && latest != nil
	}, 5*time.Second, 50*time.Millisecond, "mock trade never finalized after the request ended")

	latest, err := env.store.LatestTrade()
	require.NoError(t, err)
	assert.Equal(t, "mock", latest.TradeType)
	assert.Equal(t, "BTCUSDT", latest.Symbol)

	require.Eventually(t, func() bool {
		current, err := env.store.GetCounter(store.CounterCurrentTrades)
		return err == nil && current == 0
	}, 5*time.Second, 50*time.Millisecond, "counter never returned after finalization")
}

// /server/connect must work before Run has been called.
func TestConnectBeforeRun(t *testing.T) {
	env := newTestEnv(t)
	env.seedCredential(t)
	defer env.server.stream.Stop()

	var resp *httptest.ResponseRecorder
	assert.NotPanics(t, func() {
		resp = env.do(t, http.MethodPost, "/server/connect", nil)
	})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSSEStreamDeliversEvents(t *testing.T) {
	env := newTestEnv(t)

	httpServer := httptest.NewServer(env.server.httpServer.Handler)
	defer httpServer.Close()

	resp, err := http.Get(httpServer.URL + "/sse/trades")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription races the first notify; keep pushing until the
	// reader sees a frame.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				env.hub.NotifyCurrentTrades(7)
			}
		}
	}()

	reader := bufio.NewReader(resp.Body)
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data: ") {
				lines <- line
				return
			}
		}
	}()

	select {
	case line := <-lines:
		assert.Contains(t, line, `"currentTrades":7`)
	case <-deadline:
		t.Fatal("no SSE frame received")
	}
}
