package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource fetches quotes from a JSON price endpoint. The endpoint is
// queried with the market's oracle reference and must answer with a decimal
// price string plus a unix timestamp; the price is converted to the engine's
// 1e8 fixed-point scale.
type HTTPSource struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

var priceScale = new(big.Rat).SetInt64(100_000_000)

// NewHTTPSource constructs a price source against the given endpoint. When
// the client is nil http.DefaultClient is used. The API key is optional and
// only added to the request headers when supplied.
func NewHTTPSource(client HTTPDoer, endpoint, apiKey string) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

func (s *HTTPSource) LatestSample(ref string) (Sample, error) {
	if s == nil || s.endpoint == "" {
		return Sample{}, fmt.Errorf("oracle: http source not configured")
	}
	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Sample{}, err
	}
	values := url.Values{}
	values.Set("ref", strings.TrimSpace(ref))
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Sample{}, fmt.Errorf("oracle: feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Sample{}, fmt.Errorf("oracle: feed decode: %w", err)
	}
	price, err := parseFixedPoint(payload.Price)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Price:     price,
		Timestamp: time.Unix(payload.Timestamp, 0),
		Valid:     true,
	}, nil
}

// parseFixedPoint converts a decimal price string to the 1e8 integer scale,
// truncating excess precision.
func parseFixedPoint(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: invalid price %q", raw)
	}
	scaled := new(big.Rat).Mul(rat, priceScale)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
