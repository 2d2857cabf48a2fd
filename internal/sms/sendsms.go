// Package sms implements the outbound Kannel sendsms client and the
// inbound HTTP receive endpoint spec.md §6 names for the "sms"
// resource.
package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SendConfig is a claimed "sms" resource's direct-access credentials,
// the payload invokeResource("sms") hands back per spec.md §4.4.
type SendConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Client sends outbound messages through a Kannel sendsms HTTP gateway,
// grounded on internal/push.Client's shape for an outbound HTTP
// integration: a *http.Client with a fixed timeout, a base URL built
// from configuration, one request-building method per operation.
type Client struct {
	httpClient *http.Client
	cfg        SendConfig
}

// NewClient builds a Client for cfg.
func NewClient(cfg SendConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cfg:        cfg,
	}
}

// Send delivers text to the destination number via Kannel's
// /cgi-bin/sendsms endpoint (spec.md §6). Success is any HTTP 2xx
// response.
func (c *Client) Send(ctx context.Context, text, to string) error {
	u := url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port),
		Path:   "/cgi-bin/sendsms",
	}
	q := url.Values{
		"username": {c.cfg.Username},
		"password": {c.cfg.Password},
		"from":     {c.cfg.From},
		"to":       {to},
		"text":     {text},
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("sms: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms: sending request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms: gateway returned status %d", resp.StatusCode)
	}
	return nil
}
