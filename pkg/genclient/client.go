package genclient

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

	"go.uber.org/zap"
)

const (
	DefaultBaseURL         = "http://127.0.0.1:5000"
	DefaultProcessEndpoint = "/api/process"
	DefaultResetEndpoint   = "/api/reset"
	DefaultStatusEndpoint  = "/api/pipelines/status"

	maxErrorBody = 4096
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Client represents a client.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient executes the newClient function.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = normalizeConfig(cfg)
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// WithHTTPClient swaps the underlying http client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// BaseURL returns the normalized backend base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Process sends one control step.
// A well-formed success=false reply is returned without error.
func (c *Client) Process(ctx context.Context, req ProcessRequest) (ProcessResponse, error) {
	if req.Keys == nil {
		req.Keys = []string{}
	}
	var resp ProcessResponse
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.Endpoints.Process, req, &resp); err != nil {
		return ProcessResponse{}, err
	}
	return resp, nil
}

// Reset asks the backend to reset a pipeline.
func (c *Client) Reset(ctx context.Context, model string) (ResetResponse, error) {
	var resp ResetResponse
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.Endpoints.Reset, ResetRequest{Model: model}, &resp); err != nil {
		return ResetResponse{}, err
	}
	return resp, nil
}

// Status reads the pipeline status report.
func (c *Client) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{}
	if err := c.doJSON(ctx, http.MethodGet, c.cfg.Endpoints.Status, nil, &report); err != nil {
		return nil, err
	}
	return report, nil
}

func (c *Client) doJSON(ctx context.Context, method string, endpoint string, body any, out any) error {
	target, err := url.JoinPath(c.cfg.BaseURL, endpoint)
	if err != nil {
		return fmt.Errorf("build url for %s: %w", endpoint, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := res.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close backend response body", zap.Error(closeErr))
		}
	}()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &HTTPError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(errBody))}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func normalizeConfig(cfg Config) Config {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.Endpoints.Process = normalizeEndpoint(cfg.Endpoints.Process, DefaultProcessEndpoint)
	cfg.Endpoints.Reset = normalizeEndpoint(cfg.Endpoints.Reset, DefaultResetEndpoint)
	cfg.Endpoints.Status = normalizeEndpoint(cfg.Endpoints.Status, DefaultStatusEndpoint)
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	return cfg
}

func normalizeEndpoint(endpoint string, fallback string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fallback
	}
	if !strings.HasPrefix(endpoint, "/") {
		return "/" + endpoint
	}
	return endpoint
}
