package binance

// Order types and sides accepted by the futures order endpoint.
const (
	OrderTypeMarket            = "MARKET"
	OrderTypeStopMarket        = "STOP_MARKET"
	OrderTypeTakeProfitMarket  = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStopMarket = "TRAILING_STOP_MARKET"

	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderStatusFilled = "FILLED"
)

// OppositeSide returns the closing side for a given entry side.
func OppositeSide(side string) string {
	if side == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// SymbolRules is the per-instrument precision contract extracted from the
// exchangeInfo filters.
type SymbolRules struct {
	Symbol            string
	PricePrecision    int
	QuantityPrecision int
	StepSize          float64
	TickSize          float64
	MinQty            float64
}

// Position is one open position as reported by the position risk endpoint.
type Position struct {
	Symbol      string
	PositionAmt float64
}

// OrderSpec describes a single order to place. StopPrice applies to
// STOP_MARKET and TAKE_PROFIT_MARKET orders; ActivationPrice and
// CallbackRate apply to TRAILING_STOP_MARKET orders.
type OrderSpec struct {
	Symbol          string
	Side            string
	Type            string
	Quantity        float64
	StopPrice       float64
	ActivationPrice float64
	CallbackRate    float64
	ReduceOnly      bool
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	OrigQuantity  string `json:"origQty"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

// OpenOrder is one currently open order for a symbol.
type OpenOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Status        string `json:"status"`
}

// Balance is one asset row from the futures balance endpoint.
type Balance struct {
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	AvailableBalance   string `json:"availableBalance"`
	CrossWalletBalance string `json:"crossWalletBalance"`
	CrossUnPnl         string `json:"crossUnPnl"`
	MaxWithdrawAmount  string `json:"maxWithdrawAmount"`
	MarginAvailable    bool   `json:"marginAvailable"`
	UpdateTime         int64  `json:"updateTime"`
}

// FillEvent is a filled-order notification from the user-data stream,
// flattened out of the ORDER_TRADE_UPDATE payload.
type FillEvent struct {
	Symbol          string
	OrderType       string
	Status          string
	Side            string
	Quantity        float64
	AvgPrice        float64
	LastFilledPrice float64
	RealizedPnl     float64
	Commission      float64
	CommissionAsset string
	EventTime       int64
	Raw             string
}
