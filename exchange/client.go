package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

const (
	defaultRequestsPerSecond = 10
	maxErrorBodyBytes        = 512
)

// Client is a thin typed wrapper over the exchange REST API. Market-data
// calls go out unauthenticated; trading and account calls are signed by
// the embedded RequestSigner and carry the API key header. Numeric wire
// strings are normalized to float64 and millisecond timestamps to UTC
// time values. Failures are returned to the caller, never swallowed, so
// an empty result always means the exchange had nothing to report.
type Client struct {
	cfg     config.ExchangeConfig
	http    *http.Client
	signer  *RequestSigner
	limiter *rate.Limiter
	log     *logger.Log
}

// OrderRequest describes a new order submission.
type OrderRequest struct {
	Symbol      string
	Side        models.OrderSide
	Type        models.OrderType
	Quantity    float64
	Price       float64
	TimeInForce string
}

// NewClient creates an exchange client from the loaded configuration.
func NewClient(cfg config.ExchangeConfig, log *logger.Log) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.RateLimit.BurstSize
	if burst <= 0 {
		burst = rps
	}

	client := &Client{
		cfg:     cfg,
		http:    httpClient,
		signer:  NewRequestSigner(cfg.RestURL, cfg.SecretKey, httpClient, log),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
	}

	log.WithComponent("exchange_client").WithFields(logger.Fields{
		"rest_url":            cfg.RestURL,
		"requests_per_second": rps,
		"timeout":             cfg.Timeout,
	}).Info("exchange client initialized")

	return client
}

// Signer exposes the request signer, mainly for wiring and tests.
func (c *Client) Signer() *RequestSigner {
	return c.signer
}

// do issues one REST call. When signed is set, the query string is run
// through the signer first; its literal parameter order is preserved.
func (c *Client) do(ctx context.Context, method, path, query string, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	if signed {
		signedQuery, err := c.signer.Sign(ctx, query)
		if err != nil {
			return err
		}
		query = signedQuery
	}

	url := c.cfg.RestURL + path
	if query != "" {
		url += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	logger.LogPerformance(c.log.WithComponent("exchange_client"), "exchange_client", "api_request", time.Since(start), logger.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	})

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
			return &apiErr
		}
		return fmt.Errorf("request %s %s returned status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// ServerTime returns the exchange clock as a UTC time value.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	ms, err := c.signer.serverTime(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Depth fetches a full order book snapshot. Levels that fail numeric
// parsing are logged and skipped rather than failing the snapshot.
func (c *Client) Depth(ctx context.Context, symbol string, limit int) (*models.DepthSnapshot, error) {
	symbol = strings.ToUpper(symbol)
	query := fmt.Sprintf("symbol=%s&limit=%d", symbol, limit)

	var resp depthResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/depth", query, false, &resp); err != nil {
		return nil, err
	}

	snapshot := &models.DepthSnapshot{
		Symbol:       symbol,
		Bids:         c.parseLevels(symbol, "bid", resp.Bids),
		Asks:         c.parseLevels(symbol, "ask", resp.Asks),
		LastUpdateID: resp.LastUpdateID,
		FetchedAt:    time.Now().UTC(),
	}
	return snapshot, nil
}

func (c *Client) parseLevels(symbol, side string, raw [][]string) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			c.log.WithComponent("exchange_client").WithError(err).WithFields(logger.Fields{
				"symbol":    symbol,
				"side":      side,
				"level":     i + 1,
				"raw_price": entry[0],
			}).Warn("failed to parse level price")
			continue
		}
		quantity, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			c.log.WithComponent("exchange_client").WithError(err).WithFields(logger.Fields{
				"symbol":       symbol,
				"side":         side,
				"level":        i + 1,
				"raw_quantity": entry[1],
			}).Warn("failed to parse level quantity")
			continue
		}
		if price == 0 || quantity == 0 {
			continue
		}
		levels = append(levels, models.BookLevel{Price: price, Quantity: quantity})
	}
	return levels
}

// TickerPrice returns the latest traded price for a symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	query := fmt.Sprintf("symbol=%s", strings.ToUpper(symbol))

	var resp tickerPriceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", query, false, &resp); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric field price: %q", resp.Price)
	}
	return price, nil
}

// Klines fetches candlesticks and derives the market type and variation
// percentage for each one.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	query := fmt.Sprintf("symbol=%s&interval=%s", strings.ToUpper(symbol), interval)
	if limit > 0 {
		query += fmt.Sprintf("&limit=%d", limit)
	}

	var raw [][]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/v3/klines", query, false, &raw); err != nil {
		return nil, err
	}

	klines := make([]models.Kline, 0, len(raw))
	for i, row := range raw {
		kline, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		klines = append(klines, kline)
	}
	return klines, nil
}

func parseKline(row []interface{}) (models.Kline, error) {
	if len(row) < 9 {
		return models.Kline{}, fmt.Errorf("unexpected kline shape with %d fields", len(row))
	}

	p := &klineParser{}
	kline := models.Kline{
		OpenTime:    millis(p.int64("openTime", row[0])),
		Open:        p.float("open", row[1]),
		High:        p.float("high", row[2]),
		Low:         p.float("low", row[3]),
		Close:       p.float("close", row[4]),
		Volume:      p.float("volume", row[5]),
		CloseTime:   millis(p.int64("closeTime", row[6])),
		QuoteVolume: p.float("quoteVolume", row[7]),
		Trades:      p.int64("trades", row[8]),
	}
	if p.err != nil {
		return models.Kline{}, p.err
	}

	kline.MarketType = "Bullish"
	if kline.Open > kline.Close {
		kline.MarketType = "Bearish"
	}
	if kline.Close != 0 {
		kline.VariationPercent = (kline.Close - kline.Open) / kline.Close * 100
	}
	return kline, nil
}

// klineParser handles the mixed string/number encoding of kline rows.
type klineParser struct {
	err error
}

func (p *klineParser) float(field string, v interface{}) float64 {
	if p.err != nil {
		return 0
	}
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			p.err = fmt.Errorf("invalid numeric field %s: %q", field, t)
			return 0
		}
		return f
	case float64:
		return t
	default:
		p.err = fmt.Errorf("invalid numeric field %s: %T", field, v)
		return 0
	}
}

func (p *klineParser) int64(field string, v interface{}) int64 {
	return int64(p.float(field, v))
}

// PlaceOrder submits a new order. The parameter order is fixed because
// the signature is computed over the literal query string.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*models.Order, error) {
	params := fmt.Sprintf("symbol=%s&side=%s&type=%s&quantity=%s&price=%s",
		strings.ToUpper(req.Symbol),
		req.Side,
		req.Type,
		formatQty(req.Quantity),
		formatQty(req.Price),
	)
	if req.Type == models.TypeLimit {
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params += "&timeInForce=" + tif
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return nil, err
	}

	order, err := toOrder(resp)
	if err != nil {
		return nil, err
	}

	c.log.WithComponent("exchange_client").WithFields(logger.Fields{
		"symbol":   order.Symbol,
		"order_id": order.OrderID,
		"side":     order.Side,
		"type":     order.Type,
		"status":   order.Status,
	}).Info("order placed")

	return &order, nil
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*models.Order, error) {
	params := fmt.Sprintf("symbol=%s&orderId=%d", strings.ToUpper(symbol), orderID)

	var resp orderResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, &resp); err != nil {
		return nil, err
	}

	order, err := toOrder(resp)
	if err != nil {
		return nil, err
	}

	c.log.WithComponent("exchange_client").WithFields(logger.Fields{
		"symbol":   order.Symbol,
		"order_id": order.OrderID,
		"status":   order.Status,
	}).Info("order cancelled")

	return &order, nil
}

// OpenOrders lists currently open orders for a symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return c.orders(ctx, "/api/v3/openOrders", symbol)
}

// AllOrders lists historic orders for a symbol.
func (c *Client) AllOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return c.orders(ctx, "/api/v3/allOrders", symbol)
}

func (c *Client) orders(ctx context.Context, path, symbol string) ([]models.Order, error) {
	params := fmt.Sprintf("symbol=%s", strings.ToUpper(symbol))

	var resp []orderResponse
	if err := c.do(ctx, http.MethodGet, path, params, true, &resp); err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(resp))
	for _, r := range resp {
		order, err := toOrder(r)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// MyTrades lists the account's fills for a symbol.
func (c *Client) MyTrades(ctx context.Context, symbol string) ([]models.Trade, error) {
	params := fmt.Sprintf("symbol=%s", strings.ToUpper(symbol))

	var resp []tradeResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/myTrades", params, true, &resp); err != nil {
		return nil, err
	}

	trades := make([]models.Trade, 0, len(resp))
	for _, r := range resp {
		trade, err := toTrade(r)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

// Account fetches the account state.
func (c *Client) Account(ctx context.Context) (*models.Account, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", "", true, &resp); err != nil {
		return nil, err
	}

	account, err := toAccount(resp)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// EarnSubscriptions lists flexible-earn subscription records.
func (c *Client) EarnSubscriptions(ctx context.Context) ([]models.EarnSubscription, error) {
	var resp earnHistoryResponse
	if err := c.do(ctx, http.MethodGet, "/sapi/v1/simple-earn/flexible/history/subscriptionRecord", "", true, &resp); err != nil {
		return nil, err
	}

	subs := make([]models.EarnSubscription, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		sub, err := toEarnSubscription(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
