// Package nodered is the client for the home's Node-RED bridge, which
// fronts the energy telemetry, the music players and the pollen scraper.
package nodered

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hearthlabs/homehub/internal/config"
	"github.com/hearthlabs/homehub/internal/models"
)

const maxBody = 4 << 20

// Client sends rate-limited requests to one Node-RED instance.
// All widgets share one Client so together they stay within the limit.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client from the bridge configuration.
func NewClient(cfg config.NodeRED) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		// The bridge serves a self-signed certificate on the LAN.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// BaseURL returns the bridge root URL.
func (c *Client) BaseURL() string { return c.baseURL }

// URL returns the absolute URL of a bridge path.
func (c *Client) URL(path string) string { return c.baseURL + path }

// Get fetches path and returns the status and body. Non-2xx statuses are
// returned as-is with a nil error so callers can interpret them.
func (c *Client) Get(ctx context.Context, path string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// GetJSON fetches path and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	status, body, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return models.StatusError(status, "node-red "+path)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("node-red %s: %w", path, models.ErrEmpty)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return models.NetworkError(fmt.Errorf("node-red %s: decode: %w", path, err))
	}
	return nil
}

// Post sends a JSON body (or none when in is nil) and fails on non-2xx.
func (c *Client) Post(ctx context.Context, path string, in interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}
	status, _, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return models.StatusError(status, "node-red "+path)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, models.NetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, models.NetworkError(err)
	}
	return resp.StatusCode, data, nil
}
