package models

import (
	"time"
)

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// DepthSnapshot is a point-in-time view of the order book for one symbol.
// Snapshots are rebuilt on every ingestion cycle and never persisted.
type DepthSnapshot struct {
	Symbol       string      `json:"symbol"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	LastUpdateID int64       `json:"lastUpdateId"`
	FetchedAt    time.Time   `json:"fetchedAt"`
}

// PriceBucket aggregates bid liquidity over a fixed price range.
// Price is the lower edge of the range and is always a multiple of the
// configured bucket width. Quantity is a full replacement value written
// once per aggregation cycle, never an accumulator across cycles.
type PriceBucket struct {
	ID       string  `json:"id,omitempty"`
	Symbol   string  `json:"symbol"`
	Price    int64   `json:"price"`
	Quantity float64 `json:"qtd"`
}
