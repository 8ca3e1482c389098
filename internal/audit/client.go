package audit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// probeResult is the outcome of one probe request. Non-2xx statuses are
// results, not errors; only transport failures surface as errors.
type probeResult struct {
	StatusCode int
	Body       []byte
}

// Client issues probe requests against one target base URL. Every request
// carries the default headers; the credential, when set, rides along on
// X-API-Key so probed services of either header convention can see it.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each probe request. The connect phase gets half the
// total budget.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
			c.httpClient.Transport = probeTransport(timeout / 2)
		}
	}
}

// WithAPIKey attaches a credential to every probe request.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(apiKey)
	}
}

// WithHTTPClient replaces the underlying transport entirely, mainly for
// tests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func probeTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
	}
}

// NewClient validates the base URL and builds a probe client.
func NewClient(baseURL string, options ...ClientOption) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("target base URL is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base URL must include scheme and host")
	}

	client := &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: probeTransport(defaultTimeout / 2),
		},
		userAgent: "vigil-audit/1.0",
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// BaseURL returns the normalized target URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// get probes a path. headers are merged over the defaults.
func (c *Client) get(ctx context.Context, resourcePath string, headers map[string]string) (*probeResult, error) {
	requestURL := *c.baseURL
	requestURL.Path = path.Join(c.baseURL.Path, resourcePath)
	if resourcePath == "/" || resourcePath == "" {
		requestURL.Path = c.baseURL.Path + "/"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", resourcePath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read probe response: %w", err)
	}
	return &probeResult{StatusCode: resp.StatusCode, Body: body}, nil
}
