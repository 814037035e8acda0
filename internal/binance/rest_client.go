package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"futures-alert-bot/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
	recvWindow     = "5000" // How long a request is valid in milliseconds
)

// GatewayInterface is the exchange capability surface consumed by the
// trading core. The REST client implements it; tests substitute fakes.
type GatewayInterface interface {
	GetLastPrice(symbol string) (float64, error)
	GetSymbolRules(symbol string) (*SymbolRules, error)
	GetOpenPositions() ([]Position, error)
	SetLeverage(symbol string, leverage int) error
	CreateOrder(spec OrderSpec) (*CreateOrderResponse, error)
	GetOpenOrders(symbol string) ([]OpenOrder, error)
	CancelAllOpenOrders(symbol string) error
}

// RestClient is a client for the Binance USD-M Futures REST API.
// It implements GatewayInterface.
type RestClient struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter

	credMu    sync.RWMutex
	apiKey    string
	secretKey string
}

// ensure RestClient implements the interface
var _ GatewayInterface = (*RestClient)(nil)

// NewRestClient creates a new futures REST client. Credentials are set later
// from the stored active credential via SetCredentials; unsigned endpoints
// work without them.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Futures Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Futures Production API")
	}

	client := resty.New().SetBaseURL(url)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		logger:  logger,
		limiter: limiter,
	}
}

// SetCredentials installs the API key pair used for signed endpoints.
func (c *RestClient) SetCredentials(apiKey, secretKey string) {
	c.credMu.Lock()
	c.apiKey = apiKey
	c.secretKey = secretKey
	c.credMu.Unlock()
}

// HasCredentials reports whether an API key pair has been installed.
func (c *RestClient) HasCredentials() bool {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.apiKey != "" && c.secretKey != ""
}

func (c *RestClient) credentials() (string, string) {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.apiKey, c.secretKey
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(secretKey, data string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// signedParams appends timestamp, recvWindow and the signature to a
// parameter set for a signed endpoint.
func (c *RestClient) signedParams(params url.Values) (string, string, error) {
	apiKey, secretKey := c.credentials()
	if apiKey == "" || secretKey == "" {
		return "", "", fmt.Errorf("no API credentials installed")
	}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	queryString := params.Encode()
	signature := c.sign(secretKey, queryString)
	return queryString + "&signature=" + signature, apiKey, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetServerTime fetches the current server time.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime() (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetLastPrice fetches the latest mark ticker price for one symbol.
func (c *RestClient) GetLastPrice(symbol string) (float64, error) {
	var ticker TickerPrice

	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&ticker)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get ticker price for %s: %w", symbol, err)
	}

	result := resp.Result().(*TickerPrice)
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ticker price '%s' for %s: %w", result.Price, symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("no price returned for symbol %s", symbol)
	}
	return price, nil
}

// exchangeInfoResponse represents the response from the /exchangeInfo endpoint.
type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol            string   `json:"symbol"`
	PricePrecision    int      `json:"pricePrecision"`
	QuantityPrecision int      `json:"quantityPrecision"`
	Filters           []filter `json:"filters"`
}

// filter carries the LOT_SIZE and PRICE_FILTER fields we care about.
type filter struct {
	FilterType string `json:"filterType"`
	MinQty     string `json:"minQty,omitempty"`
	StepSize   string `json:"stepSize,omitempty"`
	TickSize   string `json:"tickSize,omitempty"`
}

// GetSymbolRules fetches exchange trading rules for one symbol: precision
// limits, quantity step size and price tick size.
func (c *RestClient) GetSymbolRules(symbol string) (*SymbolRules, error) {
	var exchangeInfo exchangeInfoResponse

	req := c.client.R().
		SetResult(&exchangeInfo).
		SetHeader("Content-Type", "application/json")
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/exchangeInfo", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	result := resp.Result().(*exchangeInfoResponse)
	for _, s := range result.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rules := &SymbolRules{
			Symbol:            s.Symbol,
			PricePrecision:    s.PricePrecision,
			QuantityPrecision: s.QuantityPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				rules.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				rules.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
			case "PRICE_FILTER":
				rules.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			}
		}
		return rules, nil
	}

	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
}

// GetOpenPositions returns all positions with a non-zero amount.
func (c *RestClient) GetOpenPositions() ([]Position, error) {
	params := url.Values{}
	query, apiKey, err := c.signedParams(params)
	if err != nil {
		return nil, err
	}

	var risks []positionRisk
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey).
		SetQueryString(query).
		SetResult(&risks)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v2/positionRisk", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}

	result := resp.Result().(*[]positionRisk)
	positions := make([]Position, 0, len(*result))
	for _, r := range *result {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt != 0 {
			positions = append(positions, Position{Symbol: r.Symbol, PositionAmt: amt})
		}
	}
	return positions, nil
}

// SetLeverage sets the initial leverage for a symbol.
func (c *RestClient) SetLeverage(symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	query, apiKey, err := c.signedParams(params)
	if err != nil {
		return err
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey).
		SetQueryString(query)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "POST", "/fapi/v1/leverage", req); err != nil {
		c.logger.Error("Failed to set leverage",
			zap.String("symbol", symbol),
			zap.Int("leverage", leverage),
			zap.Error(err),
		)
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	return nil
}

// CreateOrder places a new futures order described by spec.
func (c *RestClient) CreateOrder(spec OrderSpec) (*CreateOrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", spec.Symbol)
	params.Set("side", spec.Side)
	params.Set("type", spec.Type)
	params.Set("quantity", strconv.FormatFloat(spec.Quantity, 'f', -1, 64))
	params.Set("newClientOrderId", newClientOrderID())
	if spec.StopPrice > 0 {
		params.Set("stopPrice", strconv.FormatFloat(spec.StopPrice, 'f', -1, 64))
	}
	if spec.ActivationPrice > 0 {
		params.Set("activationPrice", strconv.FormatFloat(spec.ActivationPrice, 'f', -1, 64))
	}
	if spec.CallbackRate > 0 {
		params.Set("callbackRate", strconv.FormatFloat(spec.CallbackRate, 'f', -1, 64))
	}
	if spec.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	query, apiKey, err := c.signedParams(params)
	if err != nil {
		return nil, err
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey).
		SetQueryString(query).
		SetResult(&CreateOrderResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/fapi/v1/order", req)
	if err != nil {
		c.logger.Error("Failed to create order after multiple attempts",
			zap.Error(err),
			zap.String("symbol", spec.Symbol),
			zap.String("type", spec.Type),
		)
		return nil, fmt.Errorf("failed to create %s order: %w", spec.Type, err)
	}

	result := resp.Result().(*CreateOrderResponse)
	c.logger.Info("Successfully created order", zap.Any("order", result))
	return result, nil
}

// GetOpenOrders returns all open orders for a symbol.
func (c *RestClient) GetOpenOrders(symbol string) ([]OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	query, apiKey, err := c.signedParams(params)
	if err != nil {
		return nil, err
	}

	var orders []OpenOrder
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey).
		SetQueryString(query).
		SetResult(&orders)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v1/openOrders", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders for %s: %w", symbol, err)
	}

	result := resp.Result().(*[]OpenOrder)
	return *result, nil
}

// CancelAllOpenOrders cancels every open order for a symbol.
func (c *RestClient) CancelAllOpenOrders(symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	query, apiKey, err := c.signedParams(params)
	if err != nil {
		return err
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey).
		SetQueryString(query)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "DELETE", "/fapi/v1/allOpenOrders", req); err != nil {
		return fmt.Errorf("failed to cancel open orders for %s: %w", symbol, err)
	}
	return nil
}

// GetBalance returns all futures account balance rows.
func (c *RestClient) GetBalance() ([]Balance, error) {
	params := url.Values{}
	query, apiKey, err := c.signedParams(params)
	if err != nil {
		return nil, err
	}

	var balances []Balance
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey).
		SetQueryString(query).
		SetResult(&balances)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/fapi/v3/balance", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	result := resp.Result().(*[]Balance)
	return *result, nil
}

// CreateListenKey starts a user-data stream and returns its listen key.
// Listen key endpoints require the API key header but no signature.
func (c *RestClient) CreateListenKey() (string, error) {
	apiKey, _ := c.credentials()
	if apiKey == "" {
		return "", fmt.Errorf("no API credentials installed")
	}

	type listenKeyResponse struct {
		ListenKey string `json:"listenKey"`
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey).
		SetResult(&listenKeyResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "POST", "/fapi/v1/listenKey", req)
	if err != nil {
		return "", fmt.Errorf("failed to create listen key: %w", err)
	}

	result := resp.Result().(*listenKeyResponse)
	return result.ListenKey, nil
}

// KeepAliveListenKey extends the user-data stream validity window.
func (c *RestClient) KeepAliveListenKey() error {
	apiKey, _ := c.credentials()
	if apiKey == "" {
		return fmt.Errorf("no API credentials installed")
	}

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", apiKey)
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "PUT", "/fapi/v1/listenKey", req); err != nil {
		return fmt.Errorf("failed to keep listen key alive: %w", err)
	}
	return nil
}

func newClientOrderID() string {
	return "fab-" + uuid.NewString()[:18]
}
