package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPSource fetches USD-based rates from a JSON endpoint of the shape
// {"result":"success","base_code":"USD","rates":{"EUR":0.92,...}}.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource creates a rate source for url.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type ratesResponse struct {
	Result   string                     `json:"result"`
	BaseCode string                     `json:"base_code"`
	Rates    map[string]decimal.Decimal `json:"rates"`
}

// FetchRates implements RateSource.
func (s *HTTPSource) FetchRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rates endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode rates: %w", err)
	}
	if payload.Result != "" && payload.Result != "success" {
		return nil, fmt.Errorf("rates endpoint result %q", payload.Result)
	}
	if payload.BaseCode != "" && !strings.EqualFold(payload.BaseCode, Settlement) {
		return nil, fmt.Errorf("rates endpoint base %q, want %s", payload.BaseCode, Settlement)
	}

	rates := make(map[string]decimal.Decimal, len(payload.Rates))
	for code, rate := range payload.Rates {
		if rate.IsPositive() {
			rates[strings.ToUpper(code)] = rate
		}
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("rates endpoint returned no rates")
	}
	return rates, nil
}
