// Package notify delivers best-effort push notifications keyed by
// lifecycle transition. Failures are logged and reported as a boolean
// or a success count, never as an error.
package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

const defaultSendTimeout = 10 * time.Second

// Client talks to the push gateway. A client with an empty endpoint is
// unconfigured and skips every send silently.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     *log.Logger
}

// New creates a push client. An empty endpoint yields a no-op client.
func New(endpoint, apiKey string, logger *log.Logger) *Client {
	if logger == nil {
		panic("notify client requires a logger")
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultSendTimeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		logger:     logger,
	}
}

// SetHTTPClient overrides the transport. Intended for tests.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

type pushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Send pushes one notification. Returns false on any failure, including
// an unconfigured transport or an empty recipient token.
func (c *Client) Send(ctx context.Context, token, title, body string, data map[string]string) bool {
	if c.endpoint == "" || token == "" {
		return false
	}
	payload, err := sonic.Marshal(pushMessage{To: token, Title: title, Body: body, Data: data})
	if err != nil {
		c.logger.WithError(err).Warn("notification payload not serializable")
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		c.logger.WithError(err).Warn("notification request not built")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).Warn("notification not delivered")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithField("status", resp.StatusCode).Warn("push gateway rejected notification")
		return false
	}
	return true
}

// SendMulticast pushes to every token and returns how many deliveries
// succeeded. Partial delivery is not a failure.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) int {
	sent := 0
	for _, token := range tokens {
		if c.Send(ctx, token, title, body, data) {
			sent++
		}
	}
	return sent
}
