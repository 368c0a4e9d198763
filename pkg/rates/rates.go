package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Provider supplies the conversion rate used to size the fee reserve withheld
// from each transfer: how many ledger units one native coin is worth.
type Provider interface {
	LedgerPerNative(ctx context.Context) (decimal.Decimal, error)
}

// Fixed returns a constant rate. Useful for tests and for deployments where
// the ledger unit is pegged.
type Fixed struct {
	Rate decimal.Decimal
}

func (f Fixed) LedgerPerNative(ctx context.Context) (decimal.Decimal, error) {
	return f.Rate, nil
}

// HTTPProvider fetches the rate from an external rates API.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type ratesResp struct {
	LedgerPerNative string `json:"ledger_per_native"`
}

func (p *HTTPProvider) LedgerPerNative(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v1/rates", nil)
	if err != nil {
		return decimal.Zero, err
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rates fetch: %d %s", resp.StatusCode, string(respBody))
	}
	var out ratesResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return decimal.Zero, err
	}
	rate, err := decimal.NewFromString(out.LedgerPerNative)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates parse: %w", err)
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("rates fetch: non-positive rate %s", rate)
	}
	return rate, nil
}
