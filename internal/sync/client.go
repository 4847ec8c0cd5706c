package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	stdsync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	pushPath = "/api/sync/push"
	pullPath = "/api/sync/pull"
)

// Transport is the server side of a sync cycle
type Transport interface {
	// Push sends an ordered batch of queued operations
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
	// Pull fetches server changes since the request watermark
	Pull(ctx context.Context, req *PullRequest) (*PullResponse, error)
}

// HTTPClient handles HTTP communication with the sync server
type HTTPClient struct {
	baseURL    string
	deviceName string
	timeout    time.Duration
	maxRetries int
	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	logger     *loggy.Logger

	mu         stdsync.RWMutex
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client for server communication
func NewHTTPClient(cfg config.ServerConfig, logger *loggy.Logger) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		deviceName: cfg.DeviceName,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		limiter:    newLimiter(cfg.RequestsPerMinute, cfg.BurstLimit),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logger,
	}
	c.SetToken(cfg.Token)
	return c
}

// newLimiter creates a rate limiter from requests per minute and burst
func newLimiter(rpm, burst int) *rate.Limiter {
	b := burst
	if b <= 0 {
		b = 1
	}
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, b)
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), b)
}

// SetToken replaces the bearer token sent with every request
func (c *HTTPClient) SetToken(token string) {
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	var rt http.RoundTripper = base
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient = &http.Client{Timeout: c.timeout, Transport: rt}
}

func (c *HTTPClient) client() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}

// Push sends a batch of operations. The batch id travels as the
// Idempotency-Key header so a retried batch is recognised server side.
func (c *HTTPClient) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	headers := http.Header{}
	if req.BatchID != "" {
		headers.Set("Idempotency-Key", req.BatchID)
	}

	var resp PushResponse
	if err := c.makeRequest(ctx, http.MethodPost, pushPath, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("pushing %d operations: %w", len(req.Operations), err)
	}
	return &resp, nil
}

// Pull fetches changed entities since req.LastSyncTimestamp
func (c *HTTPClient) Pull(ctx context.Context, req *PullRequest) (*PullResponse, error) {
	path := pullPath
	if req.LastSyncTimestamp != nil {
		q := url.Values{}
		q.Set("lastSyncTimestamp", req.LastSyncTimestamp.UTC().Format(time.RFC3339Nano))
		path += "?" + q.Encode()
	}

	var resp PullResponse
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("pulling changes: %w", err)
	}
	return &resp, nil
}

// makeRequest sends one JSON request, retrying transport failures, 429 and
// 5xx replies with exponential backoff
func (c *HTTPClient) makeRequest(ctx context.Context, method, path string, headers http.Header, body, response any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	endpoint := c.baseURL + path

	var lastErr error
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.deviceName != "" {
			req.Header.Set("X-Device-Name", c.deviceName)
		}
		for k, v := range headers {
			req.Header[k] = v
		}

		c.logger.Debug("Sending sync request", "method", method, "url", endpoint, "bytes", len(bodyBytes))

		resp, err := c.client().Do(req)
		if err != nil {
			lastErr = fmt.Errorf("executing request: %w", err)
			if ctx.Err() != nil {
				return backoff.Permanent(lastErr)
			}
			return lastErr
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			return lastErr
		}

		c.logger.Debug("Sync API response",
			"status_code", resp.StatusCode,
			"content_length", len(respBody))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := handleErrorResponse(resp, respBody)
			lastErr = apiErr
			if !apiErr.Retryable() {
				return backoff.Permanent(apiErr)
			}
			c.logger.Warn("Retrying sync request", "status_code", resp.StatusCode, "url", endpoint)
			return apiErr
		}

		if response == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, response); err != nil {
			lastErr = fmt.Errorf("decoding response: %w", err)
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, ctx.Err()) && lastErr != nil {
			return fmt.Errorf("%w: %v", err, lastErr)
		}
		return err
	}
	return nil
}

// handleErrorResponse turns a non-2xx reply into an APIError
func handleErrorResponse(resp *http.Response, body []byte) APIError {
	apiErr := APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, &apiErr); err != nil || (apiErr.Message == "" && apiErr.ErrorCode == "") {
		apiErr.ErrorCode = http.StatusText(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(body))
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
