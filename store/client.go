package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// Client talks to the external bucket store, a plain REST key-value
// service. The store has no native upsert verb, so Upsert performs a
// lookup followed by an insert or an update-by-id.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Log
}

// NewClient creates a bucket store client.
func NewClient(cfg config.StoreConfig, log *logger.Log) *Client {
	return &Client{
		baseURL: cfg.URL,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// Find returns the bucket stored for (symbol, price), or nil when the
// store holds none. At most one bucket exists per key.
func (c *Client) Find(ctx context.Context, symbol string, price int64) (*models.PriceBucket, error) {
	url := fmt.Sprintf("%s/book?symbol=%s&price=%d", c.baseURL, symbol, price)

	var buckets []models.PriceBucket
	if err := c.getJSON(ctx, url, &buckets); err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}
	return &buckets[0], nil
}

// List returns every bucket stored for a symbol.
func (c *Client) List(ctx context.Context, symbol string) ([]models.PriceBucket, error) {
	url := fmt.Sprintf("%s/book?symbol=%s", c.baseURL, symbol)

	var buckets []models.PriceBucket
	if err := c.getJSON(ctx, url, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// Insert creates a new bucket row and returns it with the store-assigned id.
func (c *Client) Insert(ctx context.Context, bucket models.PriceBucket) (*models.PriceBucket, error) {
	bucket.ID = ""
	created := &models.PriceBucket{}
	if err := c.sendJSON(ctx, http.MethodPost, c.baseURL+"/book", bucket, created); err != nil {
		return nil, err
	}
	return created, nil
}

// Update overwrites the bucket row identified by bucket.ID.
func (c *Client) Update(ctx context.Context, bucket models.PriceBucket) (*models.PriceBucket, error) {
	if bucket.ID == "" {
		return nil, fmt.Errorf("cannot update bucket without id")
	}
	updated := &models.PriceBucket{}
	if err := c.sendJSON(ctx, http.MethodPut, fmt.Sprintf("%s/book/%s", c.baseURL, bucket.ID), bucket, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Upsert stores the bucket as the current state for its (symbol, price)
// key, inserting on first sight and updating in place afterwards. The
// written quantity fully replaces any prior value.
func (c *Client) Upsert(ctx context.Context, bucket models.PriceBucket) (*models.PriceBucket, error) {
	existing, err := c.Find(ctx, bucket.Symbol, bucket.Price)
	if err != nil {
		return nil, fmt.Errorf("bucket lookup failed: %w", err)
	}
	if existing == nil {
		return c.Insert(ctx, bucket)
	}
	bucket.ID = existing.ID
	return c.Update(ctx, bucket)
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build store request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode store response: %w", err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode store payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("store returned status %d: %s", resp.StatusCode, string(snippet))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode store response: %w", err)
		}
	}
	return nil
}
