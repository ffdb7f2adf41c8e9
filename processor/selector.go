package processor

import (
	"context"

	"bookflow/logger"
	"bookflow/models"
)

const (
	// topBuckets bounds how many of the highest-liquidity buckets the
	// greedy walk considers.
	topBuckets = 5
	// switchThreshold is the quantity gap below which two buckets are
	// treated as indistinguishable and the later candidate wins.
	switchThreshold = 0.04
)

// Selector ranks the persisted buckets of a symbol into a single best
// bucket. Selection is a pure read of store state used for decision
// support; it never places orders.
type Selector struct {
	store BucketStore
	log   *logger.Log
}

// NewSelector creates a best-price selector backed by the bucket store.
func NewSelector(store BucketStore, log *logger.Log) *Selector {
	return &Selector{store: store, log: log}
}

// SelectBest fetches the symbol's buckets and applies the greedy
// stability rule over the top buckets by quantity: starting from an
// implicit zero-quantity predecessor, the held bucket is kept unless the
// candidate trails it by less than the switch threshold, in which case
// the candidate takes over. The rule is a noise-tolerant tie-break, not
// a strict maximum. Returns nil when the store holds no buckets for the
// symbol.
func (s *Selector) SelectBest(ctx context.Context, symbol string) (*models.PriceBucket, error) {
	buckets, err := s.store.List(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	sortBuckets(buckets)
	if len(buckets) > topBuckets {
		buckets = buckets[:topBuckets]
	}

	best := rank(buckets)

	s.log.WithComponent("selector").WithFields(logger.Fields{
		"symbol":       symbol,
		"bucket_price": best.Price,
		"quantity":     best.Quantity,
		"candidates":   len(buckets),
	}).Debug("best bucket selected")

	return &best, nil
}

// rank walks the sorted candidates left to right. The held bucket starts
// as the implicit zero-quantity predecessor, so the first candidate
// always takes over.
func rank(buckets []models.PriceBucket) models.PriceBucket {
	var held models.PriceBucket
	for _, candidate := range buckets {
		if held.Quantity-candidate.Quantity < switchThreshold {
			held = candidate
		}
	}
	return held
}
