package exchange

import (
	"fmt"
	"strconv"
	"time"

	"bookflow/models"
)

// APIError is a structured error payload returned by the exchange.
type APIError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Msg)
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	StopPrice           string `json:"stopPrice"`
	IcebergQty          string `json:"icebergQty"`
	Time                int64  `json:"time"`
	TransactTime        int64  `json:"transactTime"`
	UpdateTime          int64  `json:"updateTime"`
	WorkingTime         int64  `json:"workingTime"`
}

type tradeResponse struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

type balanceResponse struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountResponse struct {
	CanTrade    bool              `json:"canTrade"`
	CanWithdraw bool              `json:"canWithdraw"`
	CanDeposit  bool              `json:"canDeposit"`
	UpdateTime  int64             `json:"updateTime"`
	Balances    []balanceResponse `json:"balances"`
}

type earnRow struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Status string `json:"status"`
	Time   int64  `json:"time"`
}

type earnHistoryResponse struct {
	Rows  []earnRow `json:"rows"`
	Total int64     `json:"total"`
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// fieldParser converts numeric wire strings, keeping the first failure so
// converters stay readable without per-field error plumbing.
type fieldParser struct {
	err error
}

func (p *fieldParser) float(field, s string) float64 {
	if p.err != nil || s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid numeric field %s: %q", field, s)
		return 0
	}
	return v
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toOrder(r orderResponse) (models.Order, error) {
	p := &fieldParser{}
	ts := r.Time
	if ts == 0 {
		ts = r.TransactTime
	}
	order := models.Order{
		Symbol:      r.Symbol,
		OrderID:     r.OrderID,
		ClientID:    r.ClientOrderID,
		Side:        models.OrderSide(r.Side),
		Type:        models.OrderType(r.Type),
		Status:      r.Status,
		Price:       p.float("price", r.Price),
		OrigQty:     p.float("origQty", r.OrigQty),
		ExecutedQty: p.float("executedQty", r.ExecutedQty),
		QuoteQty:    p.float("cummulativeQuoteQty", r.CummulativeQuoteQty),
		StopPrice:   p.float("stopPrice", r.StopPrice),
		IcebergQty:  p.float("icebergQty", r.IcebergQty),
		TimeInForce: r.TimeInForce,
		Time:        millis(ts),
		UpdateTime:  millis(r.UpdateTime),
		WorkingTime: millis(r.WorkingTime),
	}
	return order, p.err
}

func toTrade(r tradeResponse) (models.Trade, error) {
	p := &fieldParser{}
	trade := models.Trade{
		Symbol:          r.Symbol,
		TradeID:         r.ID,
		OrderID:         r.OrderID,
		Price:           p.float("price", r.Price),
		Qty:             p.float("qty", r.Qty),
		QuoteQty:        p.float("quoteQty", r.QuoteQty),
		Commission:      p.float("commission", r.Commission),
		CommissionAsset: r.CommissionAsset,
		Time:            millis(r.Time),
		IsBuyer:         r.IsBuyer,
		IsMaker:         r.IsMaker,
	}
	return trade, p.err
}

func toAccount(r accountResponse) (models.Account, error) {
	p := &fieldParser{}
	account := models.Account{
		CanTrade:    r.CanTrade,
		CanWithdraw: r.CanWithdraw,
		CanDeposit:  r.CanDeposit,
		UpdateTime:  millis(r.UpdateTime),
		Balances:    make([]models.Balance, 0, len(r.Balances)),
	}
	for _, b := range r.Balances {
		account.Balances = append(account.Balances, models.Balance{
			Asset:  b.Asset,
			Free:   p.float("free", b.Free),
			Locked: p.float("locked", b.Locked),
		})
	}
	return account, p.err
}

func toEarnSubscription(r earnRow) (models.EarnSubscription, error) {
	p := &fieldParser{}
	sub := models.EarnSubscription{
		Asset:  r.Asset,
		Amount: p.float("amount", r.Amount),
		Status: r.Status,
		Time:   millis(r.Time),
	}
	return sub, p.err
}
