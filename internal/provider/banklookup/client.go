// Package banklookup resolves an account-holder name from a bank name and
// account number before any payout is submitted.
package banklookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"offramp-engine/internal/config"
	"offramp-engine/internal/domain"
)

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

// ResolveAccountName returns the registered holder name, domain.ErrNotFound
// when the account does not exist, or ErrCollaboratorUnavailable after
// bounded retries.
func (c *Client) ResolveAccountName(ctx context.Context, bankName, accountNumber string) (string, error) {
	endpoint := fmt.Sprintf("%s/accounts/resolve?%s", c.baseURL, url.Values{
		"bank_name":      {bankName},
		"account_number": {accountNumber},
	}.Encode())

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		name, err := c.resolve(ctx, endpoint)
		if err == nil {
			return name, nil
		}
		if err == domain.ErrNotFound {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: bank lookup: %v", domain.ErrCollaboratorUnavailable, lastErr)
}

func (c *Client) resolve(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-service", "offramp-engine")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bank lookup returned status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			AccountName string `json:"account_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode lookup response: %w", err)
	}
	if body.Data.AccountName == "" {
		return "", domain.ErrNotFound
	}
	return body.Data.AccountName, nil
}
