// Package verifier is the HTTP client for the remote AI completion
// verification service.
package verifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"fieldtask-api/domain"
)

const maxErrorBodyBytes = 2048

// Client implements domain.AIVerifier against the verification API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Logger
}

// New creates a verifier client. The timeout bounds one whole
// multi-image batch call and should be generous (minutes, not seconds).
func New(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	if baseURL == "" {
		panic("verifier client requires a base URL")
	}
	if logger == nil {
		panic("verifier client requires a logger")
	}
	if timeout <= 0 {
		timeout = domain.DefaultVerifyTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// SetHTTPClient overrides the transport. Intended for tests.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

type analyzeRequest struct {
	BeforeImages []string `json:"beforeImages"`
	AfterImages  []string `json:"afterImages"`
}

// Analyze sends the full before/after batch in one call.
func (c *Client) Analyze(ctx context.Context, beforeURLs, afterURLs []string) (*domain.RawVerificationResponse, error) {
	payload, err := sonic.Marshal(analyzeRequest{BeforeImages: beforeURLs, AfterImages: afterURLs})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/verifications", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification call: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(log.Fields{
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
		"before":  len(beforeURLs),
		"after":   len(afterURLs),
	}).Debug("verification batch completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("verifier returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read verification response: %w", err)
	}
	var out domain.RawVerificationResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode verification response: %w", err)
	}
	return &out, nil
}
