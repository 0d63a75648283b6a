// Package websub implements the subscriber side of the WebSub protocol: a
// single form-encoded subscribe request to the hub. Verifying the hub's
// follow-up handshake GET belongs to the HTTP handlers, not here.
package websub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// Request carries the subscription parameters posted to the hub.
type Request struct {
	Callback     string
	Topic        string
	VerifyToken  string
	Secret       string
	LeaseSeconds int
}

// Client posts subscribe requests to a WebSub hub.
type Client struct {
	hubURL string
	http   *http.Client
}

// NewClient returns a Client for the hub at hubURL.
func NewClient(hubURL string) *Client {
	return &Client{hubURL: hubURL, http: &http.Client{Timeout: requestTimeout}}
}

// Subscribe asks the hub to (re)activate the subscription. A nil error means
// the hub accepted the request; the subscription only becomes effective once
// the hub verifies the callback with a fresh handshake.
func (c *Client) Subscribe(ctx context.Context, r Request) error {
	form := url.Values{}
	form.Set("hub.mode", "subscribe")
	form.Set("hub.callback", r.Callback)
	form.Set("hub.topic", r.Topic)
	form.Set("hub.verify", "async")
	form.Set("hub.verify_token", r.VerifyToken)
	if r.Secret != "" {
		form.Set("hub.secret", r.Secret)
	}
	if r.LeaseSeconds > 0 {
		form.Set("hub.lease_seconds", strconv.Itoa(r.LeaseSeconds))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hubURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("hub subscribe: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub subscribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub subscribe: unexpected status %d", resp.StatusCode)
	}
	return nil
}
