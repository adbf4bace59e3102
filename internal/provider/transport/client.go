// Package transport sends outbound chat messages through a Twilio-style
// WhatsApp API (basic auth, form-encoded). Delivery retries and receipts are
// the transport's problem; the engine only hands messages over.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"offramp-engine/internal/config"

	"go.uber.org/zap"
)

type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	apiURL     string
	http       *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.TransportConfig, logger *zap.Logger) *Client {
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		apiURL:     cfg.APIURL,
		http:       &http.Client{},
		logger:     logger,
	}
}

// Send delivers one message to a phone number. Failures are logged, not
// returned: a dropped notification must never roll back money state.
func (c *Client) Send(ctx context.Context, phone, text string) {
	form := url.Values{
		"From": {c.fromNumber},
		"To":   {whatsappNumber(phone)},
		"Body": {text},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		c.logger.Error("failed to build transport request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("failed to send message",
			zap.String("phone", phone),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		c.logger.Error("transport rejected message",
			zap.String("phone", phone),
			zap.Int("status", resp.StatusCode))
	}
}

func whatsappNumber(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	if strings.HasPrefix(phone, "+") {
		return "whatsapp:" + phone
	}
	return fmt.Sprintf("whatsapp:+%s", phone)
}
