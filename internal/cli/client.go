package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ppmt-amp-api/internal/signature"
)

// Client calls the catalog API with signed requests.
type Client struct {
	BaseURL  string
	Secret   []byte
	AppID    string
	DeviceID string
	HTTP     *http.Client
	Clock    func() time.Time
}

// Envelope mirrors the API response body. Data is left raw so callers can
// decode items or series.
type Envelope struct {
	Success            bool            `json:"success"`
	Message            string          `json:"message"`
	Data               json.RawMessage `json:"data"`
	RateLimitRemaining *int            `json:"rateLimitRemaining"`
	RateLimitReset     *time.Time      `json:"rateLimitReset"`
}

// Reply is a decoded API response together with its raw body.
type Reply struct {
	StatusCode int
	Envelope   Envelope
	Raw        []byte
}

// SignedParams returns the authentication parameters for method and path.
func (c *Client) SignedParams(method, path string) url.Values {
	now := time.Now
	if c.Clock != nil {
		now = c.Clock
	}
	ts := strconv.FormatInt(now().Unix(), 10)

	v := url.Values{}
	v.Set("appId", c.AppID)
	v.Set("deviceId", c.DeviceID)
	v.Set("timestamp", ts)
	v.Set("signature", signature.Sign(c.Secret, c.AppID, c.DeviceID, ts, signature.Payload(method, path)))
	return v
}

// Get performs a signed GET on path with the given filters.
func (c *Client) Get(ctx context.Context, path string, filters map[string]string) (*Reply, error) {
	params := c.SignedParams(http.MethodGet, path)
	for k, v := range filters {
		if v != "" {
			params.Set(k, v)
		}
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close() // nolint:errcheck // read-only body

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	reply := &Reply{StatusCode: resp.StatusCode, Raw: raw}
	if err := json.Unmarshal(raw, &reply.Envelope); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return reply, nil
}
