package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookflow/logger"
	"bookflow/models"
)

// BucketStore is the subset of the bucket store used by the processor.
type BucketStore interface {
	Upsert(ctx context.Context, bucket models.PriceBucket) (*models.PriceBucket, error)
	List(ctx context.Context, symbol string) ([]models.PriceBucket, error)
}

// Aggregator folds the bid side of a depth snapshot into coarse price
// buckets and persists them. Each cycle writes full replacement
// quantities, so running the same snapshot twice leaves the store
// unchanged.
type Aggregator struct {
	store BucketStore
	width int64
	log   *logger.Log
}

// NewAggregator creates an aggregator with the given bucket width.
func NewAggregator(store BucketStore, width int64, log *logger.Log) *Aggregator {
	if width <= 0 {
		width = 10
	}
	return &Aggregator{
		store: store,
		width: width,
		log:   log,
	}
}

// bucketPrice maps a bid price onto the lower edge of its bucket:
// floor(round(price)/width)*width.
func (a *Aggregator) bucketPrice(price float64) int64 {
	rounded := math.Round(price)
	return int64(math.Floor(rounded/float64(a.width))) * a.width
}

// Aggregate buckets the snapshot's bids and upserts one row per bucket.
// All upserts for a cycle run concurrently and the call returns only
// after every one has settled. A failed upsert does not abort its
// siblings; the failures are joined into the returned error.
func (a *Aggregator) Aggregate(ctx context.Context, symbol string, snapshot *models.DepthSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("nil depth snapshot for %s", symbol)
	}

	cycleID := uuid.New().String()
	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"cycle_id": cycleID,
		"symbol":   symbol,
	})

	quantities := make(map[int64]float64)
	for _, bid := range snapshot.Bids {
		quantities[a.bucketPrice(bid.Price)] += bid.Quantity
	}
	if len(quantities) == 0 {
		log.Debug("snapshot had no bids, nothing to aggregate")
		return nil
	}

	start := time.Now()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for price, quantity := range quantities {
		wg.Add(1)
		go func(bucket models.PriceBucket) {
			defer wg.Done()
			if _, err := a.store.Upsert(ctx, bucket); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"bucket_price": bucket.Price,
				}).Warn("bucket upsert failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("bucket %d: %w", bucket.Price, err))
				mu.Unlock()
			}
		}(models.PriceBucket{Symbol: symbol, Price: price, Quantity: quantity})
	}
	wg.Wait()

	logger.LogPerformance(log, "aggregator", "aggregate_cycle", time.Since(start), logger.Fields{
		"buckets":        len(quantities),
		"failed_upserts": len(errs),
	})
	a.log.LogMetric("aggregator", "buckets_upserted", len(quantities)-len(errs), "counter", logger.Fields{"symbol": symbol})
	if len(errs) > 0 {
		a.log.LogMetric("aggregator", "failed_upserts", len(errs), "counter", logger.Fields{"symbol": symbol})
	}

	if len(errs) > 0 {
		return fmt.Errorf("aggregation cycle %s: %w", cycleID, errors.Join(errs...))
	}
	return nil
}

// sortBuckets orders buckets by descending quantity with ascending
// bucket price as the tie breaker, making downstream selection
// deterministic regardless of store listing order.
func sortBuckets(buckets []models.PriceBucket) {
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Quantity != buckets[j].Quantity {
			return buckets[i].Quantity > buckets[j].Quantity
		}
		return buckets[i].Price < buckets[j].Price
	})
}
