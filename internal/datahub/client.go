package datahub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"supplier-core/internal/cim"
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTransient Outcome = "transient"
)

// SendResult is the classified response to one delivery.
type SendResult struct {
	Outcome    Outcome
	StatusCode int
	Message    string
}

// Message is one document peeked from the remote queue.
type Message struct {
	ID      string
	Payload []byte
}

// Client talks to the market hub. Without a base URL it runs in simulation
// mode: Send is always accepted and Peek is always empty.
type Client struct {
	cfg    EndpointConfig
	tokens *TokenSource
	client *http.Client
	logger *zap.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for hub calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTokenSource overrides the token source.
func WithTokenSource(tokens *TokenSource) Option {
	return func(c *Client) {
		if tokens != nil {
			c.tokens = tokens
		}
	}
}

// NewClient constructs a client.
func NewClient(cfg EndpointConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PeekPath == "" {
		cfg.PeekPath = defaultPeekPath
	}
	if cfg.DequeuePath == "" {
		cfg.DequeuePath = defaultDequeuePath
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil && !cfg.Simulated() {
		c.tokens = NewTokenSource(cfg, nil)
	}
	return c
}

// Simulated reports whether the client runs without a remote endpoint.
func (c *Client) Simulated() bool {
	return c.cfg.Simulated()
}

// Send delivers one document. Network errors, timeouts and cancellation are
// transient; authentication failures also invalidate the cached token.
func (c *Client) Send(ctx context.Context, documentType cim.DocumentType, payload []byte) SendResult {
	if c.Simulated() {
		return SendResult{Outcome: OutcomeAccepted, StatusCode: http.StatusAccepted, Message: "simulated"}
	}
	path, ok := c.sendPath(documentType)
	if !ok {
		return SendResult{Outcome: OutcomeRejected, Message: fmt.Sprintf("no send path for %s", documentType)}
	}
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return SendResult{Outcome: OutcomeTransient, Message: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	result := SendResult{Outcome: Classify(resp.StatusCode), StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.tokens.Invalidate()
	}
	if result.Message == "" {
		result.Message = http.StatusText(resp.StatusCode)
	}
	return result
}

// Classify maps an HTTP status to a delivery outcome.
func Classify(status int) Outcome {
	switch status {
	case http.StatusOK, http.StatusAccepted:
		return OutcomeAccepted
	case http.StatusBadRequest:
		return OutcomeRejected
	default:
		return OutcomeTransient
	}
}

// Peek returns the next remote message; nil means the queue is empty.
func (c *Client) Peek(ctx context.Context) (*Message, error) {
	if c.Simulated() {
		return nil, nil
	}
	resp, err := c.do(ctx, http.MethodGet, c.cfg.PeekPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.tokens.Invalidate()
		return nil, fmt.Errorf("datahub: peek http %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("datahub: peek http %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	id := resp.Header.Get("MessageId")
	if id == "" {
		return nil, errors.New("datahub: peek response without MessageId")
	}
	return &Message{ID: id, Payload: payload}, nil
}

// Dequeue acknowledges a peeked message.
func (c *Client) Dequeue(ctx context.Context, id string) error {
	if c.Simulated() {
		return nil
	}
	if id == "" {
		return errors.New("datahub: empty message id")
	}
	resp, err := c.do(ctx, http.MethodDelete, c.cfg.DequeuePath+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.tokens.Invalidate()
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("datahub: dequeue http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) sendPath(dt cim.DocumentType) (string, bool) {
	if path, ok := c.cfg.SendPaths[string(dt)]; ok {
		return path, true
	}
	path, ok := defaultSendPaths[dt]
	return path, ok
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("datahub: token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("datahub request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	c.logger.Debug("datahub request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}
