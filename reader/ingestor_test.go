package reader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

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
	calls int32
}

func (f *fakeFetcher) Depth(ctx context.Context, symbol string, limit int) (*models.DepthSnapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	return &models.DepthSnapshot{
		Symbol:    symbol,
		Bids:      []models.BookLevel{{Price: 100.4, Quantity: 1.0}},
		FetchedAt: time.Now().UTC(),
	}, nil
}

type fakeAggregator struct {
	cycles chan string
}

func (f *fakeAggregator) Aggregate(ctx context.Context, symbol string, snapshot *models.DepthSnapshot) error {
	f.cycles <- symbol
	return nil
}

type fakeSelector struct {
	calls int32
}

func (f *fakeSelector) SelectBest(ctx context.Context, symbol string) (*models.PriceBucket, error) {
	atomic.AddInt32(&f.calls, 1)
	return &models.PriceBucket{Symbol: symbol, Price: 100, Quantity: 1.0}, nil
}

func ingestConfig(symbols ...string) config.IngestConfig {
	return config.IngestConfig{
		Symbols:    symbols,
		DepthLevel: 5,
		Reconnect: config.ReconnectConfig{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			MaxAttempts:  3,
		},
	}
}

func depthStreamServer(t *testing.T, messages int, gotPath chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case gotPath <- r.URL.Path:
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for i := 0; i < messages; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
				return
			}
		}
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestIngestorRunsCyclePerMessage(t *testing.T) {
	gotPath := make(chan string, 1)
	srv := depthStreamServer(t, 2, gotPath)
	defer srv.Close()

	streamURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	fetcher := &fakeFetcher{}
	aggregator := &fakeAggregator{cycles: make(chan string, 8)}
	selector := &fakeSelector{}

	ing := NewIngestor(ingestConfig("btcusdt"), streamURL, 100, fetcher, aggregator, selector, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ing.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case symbol := <-aggregator.cycles:
			if symbol != "BTCUSDT" {
				t.Errorf("cycle symbol = %s, want BTCUSDT", symbol)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for cycle %d", i+1)
		}
	}

	select {
	case path := <-gotPath:
		if path != "/btcusdt@depth5" {
			t.Errorf("stream path = %s, want /btcusdt@depth5", path)
		}
	default:
		t.Error("stream path not captured")
	}

	cancel()
	ing.Stop()

	if got := atomic.LoadInt32(&fetcher.calls); got < 2 {
		t.Errorf("fetcher calls = %d, want at least 2", got)
	}
	if got := atomic.LoadInt32(&selector.calls); got < 2 {
		t.Errorf("selector calls = %d, want at least 2", got)
	}
}

func TestIngestorDoubleStart(t *testing.T) {
	gotPath := make(chan string, 1)
	srv := depthStreamServer(t, 0, gotPath)
	defer srv.Close()

	streamURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ing := NewIngestor(ingestConfig("btcusdt"), streamURL, 100,
		&fakeFetcher{}, &fakeAggregator{cycles: make(chan string, 1)}, &fakeSelector{}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ing.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := ing.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	cancel()
	ing.Stop()
}

func TestIngestorStartWithoutSymbols(t *testing.T) {
	ing := NewIngestor(ingestConfig(), "ws://127.0.0.1:0", 100,
		&fakeFetcher{}, &fakeAggregator{cycles: make(chan string, 1)}, &fakeSelector{}, newTestLogger())

	if err := ing.Start(context.Background()); err == nil {
		t.Error("Start with no symbols should fail")
	}
}

func TestIngestorReconnectBudgetExhausted(t *testing.T) {
	// Server is closed up front, so every dial fails and the worker must
	// give up after max_attempts instead of retrying forever.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	streamURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ing := NewIngestor(ingestConfig("btcusdt"), streamURL, 100,
		&fakeFetcher{}, &fakeAggregator{cycles: make(chan string, 1)}, &fakeSelector{}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ing.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Nothing cancels the context and Stop is not called yet, so the
	// workers can only exit by giving up after max_attempts.
	done := make(chan struct{})
	go func() {
		ing.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after exhausting the reconnect attempts")
	}
	ing.Stop()
}

func TestIngestorStopWithoutContextCancel(t *testing.T) {
	// Stop alone must unblock workers parked on an open connection, even
	// when the caller never cancels the context passed to Start.
	gotPath := make(chan string, 1)
	srv := depthStreamServer(t, 0, gotPath)
	defer srv.Close()

	streamURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ing := NewIngestor(ingestConfig("btcusdt"), streamURL, 100,
		&fakeFetcher{}, &fakeAggregator{cycles: make(chan string, 1)}, &fakeSelector{}, newTestLogger())

	if err := ing.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-gotPath:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never connected")
	}

	done := make(chan struct{})
	go func() {
		ing.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return without a context cancel")
	}
}

func TestStreamURLFormat(t *testing.T) {
	ing := NewIngestor(ingestConfig("BTCUSDT"), "wss://stream.example.com/ws", 100,
		&fakeFetcher{}, &fakeAggregator{cycles: make(chan string, 1)}, &fakeSelector{}, newTestLogger())

	got := ing.streamURLFor("BTCUSDT")
	want := "wss://stream.example.com/ws/btcusdt@depth5"
	if got != want {
		t.Errorf("stream url = %s, want %s", got, want)
	}
}
