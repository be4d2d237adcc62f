package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed fetches round data from a JSON price endpoint. The endpoint
// is expected to return {"price": "<integer>", "updated_at": <unix>}
// with the price already expressed in the feed's native precision.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPFeed constructs an HTTP feed adapter. When client is nil
// http.DefaultClient is used. The API key is optional and only added to
// request headers when supplied.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

func (f *HTTPFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	if f == nil || f.endpoint == "" {
		return RoundData{}, fmt.Errorf("http feed not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return RoundData{}, err
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return RoundData{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RoundData{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		UpdatedAt int64  `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return RoundData{}, fmt.Errorf("http feed: decode: %w", err)
	}
	price := strings.TrimSpace(payload.Price)
	if price == "" {
		return RoundData{}, fmt.Errorf("http feed: empty price")
	}
	parsed, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return RoundData{}, fmt.Errorf("http feed: invalid price %q", payload.Price)
	}
	if payload.UpdatedAt <= 0 {
		return RoundData{}, fmt.Errorf("http feed: missing updated_at")
	}
	return RoundData{Price: parsed, UpdatedAt: time.Unix(payload.UpdatedAt, 0)}, nil
}
