// Package email sends transactional mail through the hosted email API.
// Delivery is best-effort: a failure is logged and never blocks the flow
// that asked for the mail.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

type Config struct {
	BaseURL    string
	APIKey     string
	From       string
	HTTPClient *http.Client
}

type Client struct {
	base   string
	key    string
	from   string
	client *http.Client
}

func NewClient(c Config) *Client {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimRight(c.BaseURL, "/"),
		key:    c.APIKey,
		from:   c.From,
		client: hc,
	}
}

type message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Send delivers one HTML email. The returned error is informational; the
// caller is expected to log it and move on.
func (c *Client) Send(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(message{
		From:    c.from,
		To:      to,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("email: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("email: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email: send failed: status=%d", resp.StatusCode)
	}

	return nil
}

// SendAsync fires the mail off the calling flow entirely.
func (c *Client) SendAsync(ctx context.Context, to, subject, html string) {
	go func() {
		if err := c.Send(context.WithoutCancel(ctx), to, subject, html); err != nil {
			slog.ErrorContext(ctx, "email: delivery failed", "to", to, "error", err)
		}
	}()
}
