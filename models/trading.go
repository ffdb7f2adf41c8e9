package models

import (
	"time"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType enumerates the order types accepted by the exchange.
type OrderType string

const (
	TypeLimit           OrderType = "LIMIT"
	TypeMarket          OrderType = "MARKET"
	TypeStopLoss        OrderType = "STOP_LOSS"
	TypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	TypeTakeProfit      OrderType = "TAKE_PROFIT"
	TypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	TypeLimitMaker      OrderType = "LIMIT_MAKER"
)

// Order is an exchange order. The exchange is the sole source of truth;
// no local order state machine exists on top of this.
type Order struct {
	Symbol      string    `json:"symbol"`
	OrderID     int64     `json:"orderId"`
	ClientID    string    `json:"clientOrderId"`
	Side        OrderSide `json:"side"`
	Type        OrderType `json:"type"`
	Status      string    `json:"status"`
	Price       float64   `json:"price"`
	OrigQty     float64   `json:"origQty"`
	ExecutedQty float64   `json:"executedQty"`
	QuoteQty    float64   `json:"cummulativeQuoteQty"`
	StopPrice   float64   `json:"stopPrice"`
	IcebergQty  float64   `json:"icebergQty"`
	TimeInForce string    `json:"timeInForce"`
	Time        time.Time `json:"time"`
	UpdateTime  time.Time `json:"updateTime"`
	WorkingTime time.Time `json:"workingTime"`
}

// Trade is a single fill reported by the exchange.
type Trade struct {
	Symbol          string    `json:"symbol"`
	TradeID         int64     `json:"id"`
	OrderID         int64     `json:"orderId"`
	Price           float64   `json:"price"`
	Qty             float64   `json:"qty"`
	QuoteQty        float64   `json:"quoteQty"`
	Commission      float64   `json:"commission"`
	CommissionAsset string    `json:"commissionAsset"`
	Time            time.Time `json:"time"`
	IsBuyer         bool      `json:"isBuyer"`
	IsMaker         bool      `json:"isMaker"`
}

// Balance is a single asset balance on the account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Account holds account state returned by the exchange.
type Account struct {
	CanTrade    bool      `json:"canTrade"`
	CanWithdraw bool      `json:"canWithdraw"`
	CanDeposit  bool      `json:"canDeposit"`
	UpdateTime  time.Time `json:"updateTime"`
	Balances    []Balance `json:"balances"`
}

// Kline is one normalized candlestick with derived decision-support fields.
type Kline struct {
	OpenTime         time.Time `json:"openTime"`
	CloseTime        time.Time `json:"closeTime"`
	Open             float64   `json:"open"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	Close            float64   `json:"close"`
	Volume           float64   `json:"volume"`
	QuoteVolume      float64   `json:"quoteVolume"`
	Trades           int64     `json:"trades"`
	MarketType       string    `json:"typeMarket"` // "Bullish" or "Bearish"
	VariationPercent float64   `json:"variationPercent"`
}

// EarnSubscription is one flexible-earn subscription record.
type EarnSubscription struct {
	Asset  string    `json:"asset"`
	Amount float64   `json:"amount"`
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
