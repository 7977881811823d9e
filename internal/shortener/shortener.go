// Package shortener wraps a "GET <endpoint><escaped url>" style link
// shortener (clck.ru, is.gd and similar). Callers should fall back to the
// original link on any error.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnavailable is returned when the shortener cannot produce a link.
var ErrUnavailable = errors.New("url shortener unavailable")

// Client calls the shortener endpoint. A zero Endpoint disables shortening.
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

// New returns a client with the given per-request timeout and traced
// transport.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		Endpoint: endpoint,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Shorten returns the short form of long, or ErrUnavailable.
func (c *Client) Shorten(ctx context.Context, long string) (string, error) {
	if c == nil || c.Endpoint == "" {
		return "", fmt.Errorf("%w: no endpoint configured", ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+url.QueryEscape(long), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	short := strings.TrimSpace(string(body))
	if u, err := url.Parse(short); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: unexpected response %q", ErrUnavailable, short)
	}
	return short, nil
}

// ShortenOr returns the short link, or long itself when shortening fails.
func (c *Client) ShortenOr(ctx context.Context, long string) string {
	short, err := c.Shorten(ctx, long)
	if err != nil {
		return long
	}
	return short
}
