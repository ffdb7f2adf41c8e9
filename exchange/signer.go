package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bookflow/logger"
)

// ErrSignature marks failures that prevent producing a valid signed query
// string: a missing secret key or an unreachable exchange clock.
var ErrSignature = errors.New("request signing failed")

// RequestSigner produces signed query strings for authenticated exchange
// calls. Each signature embeds a timestamp fetched from the exchange server
// clock at signing time, so a signed string is only valid for the one call
// it was built for.
type RequestSigner struct {
	baseURL string
	secret  string
	client  *http.Client
	log     *logger.Log
}

// NewRequestSigner creates a signer against the given REST base URL. The
// secret key is held in memory only and never written to logs.
func NewRequestSigner(baseURL, secret string, client *http.Client, log *logger.Log) *RequestSigner {
	if client == nil {
		client = http.DefaultClient
	}
	return &RequestSigner{
		baseURL: baseURL,
		secret:  secret,
		client:  client,
		log:     log,
	}
}

// Sign appends the exchange server time and an HMAC-SHA256 digest to the
// supplied query parameters and returns the submittable query string. The
// caller's parameter order is preserved byte for byte: the exchange
// verifies the signature over the literal sequence, so reordering breaks
// verification. When the server time round trip fails, signing fails; the
// local clock is never substituted because drift beyond the exchange
// tolerance window causes silent order rejection.
func (s *RequestSigner) Sign(ctx context.Context, queryParams string) (string, error) {
	if s.secret == "" {
		return "", fmt.Errorf("%w: secret key is not configured", ErrSignature)
	}

	serverTime, err := s.serverTime(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignature, err)
	}

	payload := fmt.Sprintf("timestamp=%d", serverTime)
	if queryParams != "" {
		payload = fmt.Sprintf("%s&timestamp=%d", queryParams, serverTime)
	}

	return fmt.Sprintf("%s&signature=%s", payload, hexDigest(s.secret, payload)), nil
}

// serverTime fetches the exchange clock in epoch milliseconds. The value
// is fetched fresh for every signed request; there is no caching or local
// extrapolation.
func (s *RequestSigner) serverTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v3/time", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build server time request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("server time request returned status %d", resp.StatusCode)
	}

	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode server time: %w", err)
	}
	if body.ServerTime == 0 {
		return 0, fmt.Errorf("server time missing from response")
	}

	return body.ServerTime, nil
}

func hexDigest(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
