package reader

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// SnapshotFetcher fetches a fresh full depth snapshot.
type SnapshotFetcher interface {
	Depth(ctx context.Context, symbol string, limit int) (*models.DepthSnapshot, error)
}

// BookAggregator persists a snapshot's bid liquidity as price buckets.
type BookAggregator interface {
	Aggregate(ctx context.Context, symbol string, snapshot *models.DepthSnapshot) error
}

// BestSelector ranks the persisted buckets of a symbol.
type BestSelector interface {
	SelectBest(ctx context.Context, symbol string) (*models.PriceBucket, error)
}

// Ingestor owns one persistent depth stream connection per tracked
// symbol. Stream messages are triggers only: their payload is discarded
// and every message drives a full resync cycle - fresh snapshot fetch,
// aggregation, best-bucket selection. Trading bandwidth for the absence
// of sequence tracking keeps the pipeline free of diff-merge repair
// logic. Cycles on one connection run strictly sequentially so two
// aggregation cycles for the same symbol never overlap.
type Ingestor struct {
	cfg        config.IngestConfig
	streamURL  string
	depthLimit int
	fetcher    SnapshotFetcher
	aggregator BookAggregator
	selector   BestSelector
	ctx        context.Context
	stop       chan struct{}
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log
}

// NewIngestor creates a stream ingestor for the configured symbols.
func NewIngestor(cfg config.IngestConfig, streamURL string, depthLimit int, fetcher SnapshotFetcher, aggregator BookAggregator, selector BestSelector, log *logger.Log) *Ingestor {
	return &Ingestor{
		cfg:        cfg,
		streamURL:  streamURL,
		depthLimit: depthLimit,
		fetcher:    fetcher,
		aggregator: aggregator,
		selector:   selector,
		wg:         &sync.WaitGroup{},
		log:        log,
	}
}

// Start opens one stream connection per configured symbol.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return fmt.Errorf("ingestor already running")
	}
	in.running = true
	in.ctx = ctx
	in.stop = make(chan struct{})
	in.mu.Unlock()

	log := in.log.WithComponent("ingestor").WithFields(logger.Fields{"operation": "start"})

	if len(in.cfg.Symbols) == 0 {
		log.Warn("no symbols configured for ingestion")
		return fmt.Errorf("no symbols configured for ingestion")
	}

	log.WithFields(logger.Fields{
		"symbols":     in.cfg.Symbols,
		"depth_level": in.cfg.DepthLevel,
	}).Info("starting ingestor")

	for _, symbol := range in.cfg.Symbols {
		in.wg.Add(1)
		go in.streamWorker(symbol)
	}

	log.Info("ingestor started successfully")
	return nil
}

// Stop signals all stream workers and waits for them to exit. Workers
// also observe the context passed to Start, so either suffices.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	if in.running {
		in.running = false
		close(in.stop)
	}
	in.mu.Unlock()

	in.log.WithComponent("ingestor").Info("stopping ingestor")
	in.wg.Wait()
	in.log.WithComponent("ingestor").Info("ingestor stopped")
}

func (in *Ingestor) streamURLFor(symbol string) string {
	return fmt.Sprintf("%s/%s@depth%d", in.streamURL, strings.ToLower(symbol), in.cfg.DepthLevel)
}

// streamWorker keeps one connection alive, reconnecting with bounded
// exponential backoff and jitter. When the retry budget is exhausted the
// worker surfaces a fatal ingestion failure for its symbol and exits.
func (in *Ingestor) streamWorker(symbol string) {
	defer in.wg.Done()

	log := in.log.WithComponent("ingestor").WithFields(logger.Fields{
		"symbol": strings.ToUpper(symbol),
		"worker": "depth_stream",
	})

	url := in.streamURLFor(symbol)
	delay := in.cfg.Reconnect.InitialDelay
	attempts := 0

	for {
		if in.stopping() {
			log.Info("worker stopped")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(in.ctx, url, nil)
		if err != nil {
			attempts++
			if attempts >= in.cfg.Reconnect.MaxAttempts {
				log.WithError(err).WithFields(logger.Fields{
					"attempts": attempts,
				}).Error("reconnect budget exhausted, ingestion stopped for symbol")
				return
			}
			log.WithError(err).WithFields(logger.Fields{
				"attempt": attempts,
				"delay":   delay.String(),
			}).Warn("failed to connect to depth stream")
			if in.waitBackoff(delay) {
				return
			}
			delay = nextDelay(delay, in.cfg.Reconnect.MaxDelay)
			continue
		}

		log.Info("depth stream connected")
		attempts = 0
		delay = in.cfg.Reconnect.InitialDelay

		if err := in.readLoop(conn, symbol); err != nil && !in.stopping() {
			log.WithError(err).Warn("depth stream read loop ended")
		}
		conn.Close()
	}
}

// readLoop consumes messages until the connection drops or the context
// is cancelled. Messages are handled one at a time: a new cycle never
// starts while the previous one is still settling store upserts.
func (in *Ingestor) readLoop(conn *websocket.Conn, symbol string) error {
	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage when the worker is told to stop.
	go func() {
		select {
		case <-in.ctx.Done():
			conn.Close()
		case <-in.stop:
			conn.Close()
		case <-done:
		}
	}()

	for {
		if in.stopping() {
			return nil
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
		// The message is only a trigger; its payload is not consumed.
		in.cycle(symbol)
	}
}

// cycle runs one full resync: snapshot, aggregate, select. Aggregation
// failures are partial by construction (per-bucket isolation), so
// selection still runs over whatever state the store holds.
func (in *Ingestor) cycle(symbol string) {
	symbol = strings.ToUpper(symbol)
	log := in.log.WithComponent("ingestor").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "cycle",
	})

	start := time.Now()

	snapshot, err := in.fetcher.Depth(in.ctx, symbol, in.depthLimit)
	if err != nil {
		log.WithError(err).Warn("failed to fetch depth snapshot")
		return
	}

	if err := in.aggregator.Aggregate(in.ctx, symbol, snapshot); err != nil {
		log.WithError(err).Warn("aggregation cycle completed with failed upserts")
	}

	best, err := in.selector.SelectBest(in.ctx, symbol)
	if err != nil {
		log.WithError(err).Warn("best bucket selection failed")
		return
	}

	fields := logger.Fields{"bid_levels": len(snapshot.Bids)}
	if best != nil {
		fields["best_bucket_price"] = best.Price
		fields["best_bucket_quantity"] = best.Quantity
	}
	logger.LogPerformance(log, "ingestor", "ingest_cycle", time.Since(start), fields)
	in.log.LogMetric("ingestor", "ingest_cycles", 1, "counter", logger.Fields{"symbol": symbol})
}

// waitBackoff sleeps for delay plus jitter, returning true when the
// context was cancelled while waiting.
func (in *Ingestor) waitBackoff(delay time.Duration) bool {
	jitter := time.Duration(0)
	if delay > 1 {
		jitter = time.Duration(rand.Int63n(int64(delay / 2)))
	}
	timer := time.NewTimer(delay + jitter)
	defer timer.Stop()

	select {
	case <-in.ctx.Done():
		return true
	case <-in.stop:
		return true
	case <-timer.C:
		return false
	}
}

// stopping reports whether Stop was called or the start context ended.
func (in *Ingestor) stopping() bool {
	select {
	case <-in.stop:
		return true
	default:
	}
	return in.ctx.Err() != nil
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}
