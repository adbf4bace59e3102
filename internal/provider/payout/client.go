// Package payout is the fiat disbursement rail client. Submission carries
// the transaction id as idempotency key so the rail deduplicates retries;
// results arrive through the asynchronous callback, with GetStatus as the
// reconciliation fallback.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"offramp-engine/internal/config"
	"offramp-engine/internal/domain"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusNotFound  Status = "not_found"
)

type SubmitRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	AmountFiat     decimal.Decimal `json:"amount_fiat"`
	Currency       string          `json:"currency"`
	BankName       string          `json:"bank_name"`
	AccountNumber  string          `json:"account_number"`
	HolderName     string          `json:"holder_name"`
}

type StatusResult struct {
	IdempotencyKey string `json:"idempotency_key"`
	Status         Status `json:"status"`
	Reason         string `json:"reason,omitempty"`
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

// SubmitPayout enqueues a disbursement. Retried on transport failure with
// the same idempotency key; the rail's own dedup makes that safe.
func (c *Client) SubmitPayout(ctx context.Context, req SubmitRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode payout request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		if err := c.submit(ctx, payload); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: payout rail: %v", domain.ErrCollaboratorUnavailable, lastErr)
}

func (c *Client) submit(ctx context.Context, payload []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/payouts", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("x-service", "offramp-engine")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payout request failed: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the rail already holds this idempotency key: accepted.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payout rail returned status %d", resp.StatusCode)
	}
	return nil
}

// GetStatus polls the rail's status endpoint. Used by the reconcile worker
// when no callback arrived within the SLA; silence is never treated as
// failure without this check.
func (c *Client) GetStatus(ctx context.Context, idempotencyKey string) (*StatusResult, error) {
	endpoint := fmt.Sprintf("%s/payouts/%s/status", c.baseURL, idempotencyKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-service", "offramp-engine")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: payout status: %v", domain.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &StatusResult{IdempotencyKey: idempotencyKey, Status: StatusNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payout rail returned status %d", resp.StatusCode)
	}

	var body struct {
		Data StatusResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &body.Data, nil
}
