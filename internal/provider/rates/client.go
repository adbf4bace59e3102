// Package rates is the conversion-rate oracle client. Quotes are ephemeral:
// callers attach their own expiry and never cache past it.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"offramp-engine/internal/config"
	"offramp-engine/internal/domain"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Asset        string          `json:"asset"`
	FiatCurrency string          `json:"fiat_currency"`
	Rate         decimal.Decimal `json:"rate"`
	AsOf         time.Time       `json:"as_of"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.CollaboratorConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// GetRate fetches the current crypto→fiat rate. Read-only, so transient
// failures are retried with bounded backoff.
func (c *Client) GetRate(ctx context.Context, asset, fiatCurrency string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/rates?%s", c.baseURL, url.Values{
		"asset":    {asset},
		"currency": {fiatCurrency},
	}.Encode())

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		quote, err := c.fetch(ctx, endpoint)
		if err == nil {
			return quote, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: rate oracle: %v", domain.ErrCollaboratorUnavailable, lastErr)
}

func (c *Client) fetch(ctx context.Context, endpoint string) (*Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-service", "offramp-engine")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate oracle returned status %d", resp.StatusCode)
	}

	var body struct {
		Data Quote `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rate response: %w", err)
	}
	if body.Data.Rate.IsZero() {
		return nil, fmt.Errorf("rate oracle returned zero rate")
	}
	return &body.Data, nil
}
