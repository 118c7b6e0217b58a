package client

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
	"time"

	"github.com/amrrdev/keygen/internal/types"
)

var ErrPending = errors.New("result pending")

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type SubmitRequest struct {
	KeyType string `json:"key_type,omitempty"`
	KeyBits int    `json:"key_bits,omitempty"`
}

type SubmitResponse struct {
	RequestID string `json:"request_id" yaml:"request_id"`
	Status    string `json:"status" yaml:"status"`
}

// APIError is any non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keygen api returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	code, body, err := c.do(ctx, http.MethodPost, "/api/keygen", payload)
	if err != nil {
		return nil, err
	}
	if code != http.StatusAccepted {
		return nil, apiError(code, body)
	}

	var resp SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}
	return &resp, nil
}

// Result fetches the document once. A pending job yields ErrPending.
func (c *Client) Result(ctx context.Context, requestID string) (*types.ResultDocument, error) {
	code, body, err := c.do(ctx, http.MethodGet, "/api/result/"+url.PathEscape(requestID), nil)
	if err != nil {
		return nil, err
	}

	switch code {
	case http.StatusOK:
		var doc types.ResultDocument
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		return &doc, nil
	case http.StatusAccepted:
		return nil, ErrPending
	default:
		return nil, apiError(code, body)
	}
}

const DefaultPollInterval = time.Second

// Wait polls Result every interval until the document exists or ctx ends.
// A non-positive interval uses DefaultPollInterval.
func (c *Client) Wait(ctx context.Context, requestID string, interval time.Duration) (*types.ResultDocument, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		doc, err := c.Result(ctx, requestID)
		if !errors.Is(err, ErrPending) {
			return doc, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up waiting for %s: %w", requestID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func apiError(code int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	return &APIError{StatusCode: code, Message: message}
}
