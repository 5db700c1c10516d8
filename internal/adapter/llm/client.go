package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"agora/internal/domain"
)

// maxResponseBody is the maximum response body size we read from agent servers.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Default client timeouts: short connect (agents are usually local),
// long response (model loading and generation).
const (
	defaultConnTimeout = 5 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// Config tunes the agent HTTP client.
type Config struct {
	ConnTimeout time.Duration
	RespTimeout time.Duration
	// RatePerSec limits generate calls client-side; 0 disables limiting.
	RatePerSec float64
	RateBurst  int
}

// Client speaks the agent wire protocol: POST {host}/api/generate with
// {model, prompt, system, stream:false}, expecting 200 with a JSON body
// carrying "response" or "output". One Client serves every configured host.
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client with a pooled transport.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &Client{
		client: &http.Client{
			Transport: newPooledTransport(connTimeout, respTimeout),
		},
		limiter: limiter,
		logger:  logger,
	}
}

// newPooledTransport creates an http.Transport tuned for agent calls:
// few hosts, long-lived connections, slow responses.
func newPooledTransport(connTimeout, respTimeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Output   string `json:"output"`
}

// Generate performs one generation round-trip against host. The returned
// text is trimmed; it may be empty when the server answered 200 with no
// content. Non-200 responses map to domain.ErrAgentUnavailable so callers
// can distinguish HTTP errors from transport errors.
func (c *Client) Generate(ctx context.Context, host, model, prompt, system string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(host, "/") + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", domain.ErrAgentUnavailable, httpResp.StatusCode)
	}

	var resp generateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	text := resp.Response
	if text == "" {
		text = resp.Output
	}
	return strings.TrimSpace(text), nil
}

// Health probes host for liveness: /api/health, then /health, then the
// bare host. Any 200 counts as healthy.
func (c *Client) Health(ctx context.Context, host string) bool {
	base := strings.TrimRight(host, "/")
	for _, url := range []string{base + "/api/health", base + "/health", base} {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			continue
		}
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		httpResp.Body.Close()
		if httpResp.StatusCode == http.StatusOK {
			return true
		}
	}
	return false
}

// ListModels returns the model names host advertises via /api/tags.
func (c *Client) ListModels(ctx context.Context, host string) ([]string, error) {
	url := strings.TrimRight(host, "/") + "/api/tags"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrAgentUnavailable, httpResp.StatusCode)
	}

	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
