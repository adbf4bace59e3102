// Package custody is the wallet-provisioner client. Key generation and
// storage live entirely with the collaborator; this service only ever sees
// the issued address.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

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

// CreateWallet provisions a custodial wallet. Provisioning can take seconds;
// the engine keeps the session in account_pending and tolerates a retry
// while this call is in flight.
func (c *Client) CreateWallet(ctx context.Context, phone, username string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"phone":        phone,
		"username":     username,
		"service_type": "whatsapp",
	})
	if err != nil {
		return "", fmt.Errorf("encode wallet request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/wallets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-service", "offramp-engine")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: custody: %v", domain.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("custody returned status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Address string `json:"address"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode wallet response: %w", err)
	}
	if body.Data.Address == "" {
		return "", fmt.Errorf("custody returned empty address")
	}
	return body.Data.Address, nil
}
