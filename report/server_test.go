package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

func newTestLogger() *logger.Log {
	log := logger.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeFetcher struct {
	trades map[string][]models.Trade
	err    error
}

func (f *fakeFetcher) MyTrades(ctx context.Context, symbol string) ([]models.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.trades[symbol], nil
}

func testServer(fetcher TradeFetcher) *Server {
	return NewServer(config.ReportConfig{
		Enabled: true,
		Address: "127.0.0.1:0",
		Symbol:  "BTCUSDT",
	}, fetcher, newTestLogger())
}

func TestNewServerDisabled(t *testing.T) {
	if s := NewServer(config.ReportConfig{Enabled: false}, &fakeFetcher{}, newTestLogger()); s != nil {
		t.Error("expected nil server when reporting is disabled")
	}
}

func TestHistoricTradesEndpoint(t *testing.T) {
	fetcher := &fakeFetcher{trades: map[string][]models.Trade{
		"BTCUSDT": {
			{Symbol: "BTCUSDT", OrderID: 1, IsBuyer: true, Qty: 1.0, QuoteQty: 100.0, Commission: 0.1},
			{Symbol: "BTCUSDT", OrderID: 1, IsBuyer: false, Qty: 1.0, QuoteQty: 110.0, Commission: 0.1},
		},
	}}
	router := testServer(fetcher).buildRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/report/historic-trades", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Symbol  string        `json:"symbol"`
		Reports []OrderReport `json:"reports"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s, want configured default BTCUSDT", body.Symbol)
	}
	if len(body.Reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(body.Reports))
	}
	if body.Reports[0].Status != "profit" {
		t.Errorf("status = %s, want profit", body.Reports[0].Status)
	}
}

func TestAveragePriceEndpointSymbolOverride(t *testing.T) {
	fetcher := &fakeFetcher{trades: map[string][]models.Trade{
		"ETHUSDT": {
			{Symbol: "ETHUSDT", IsBuyer: true, Qty: 2.0, QuoteQty: 200.0},
		},
	}}
	router := testServer(fetcher).buildRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/report/avg-price?symbol=ETHUSDT", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Symbol   string  `json:"symbol"`
		AvgPrice float64 `json:"avgPrice"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %s, want ETHUSDT", body.Symbol)
	}
	if body.AvgPrice != 100.0 {
		t.Errorf("avgPrice = %f, want 100", body.AvgPrice)
	}
}

func TestReportEndpointFetchFailure(t *testing.T) {
	router := testServer(&fakeFetcher{err: fmt.Errorf("exchange down")}).buildRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/report/historic-trades", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
