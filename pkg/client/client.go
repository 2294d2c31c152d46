// Package client is the official Go SDK for pollq.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Create a queue and write to it
//	err := c.CreateQueue(ctx, "orders")
//	id, err := c.WriteMessage(ctx, "orders", `{"amount":42}`)
//
//	// Poll, process, delete
//	msg, err := c.PollQueue(ctx, "orders")
//	if client.IsNoMessages(err) {
//	    // queue is drained, back off and retry
//	}
//	process(msg.Value)
//	err = c.DeleteMessage(ctx, msg.MessageID)
//
// # Error handling
//
// All methods return an *APIError when the server responds with a failure
// envelope. Use errors.As, or the IsNoMessages / IsDuplicate / IsNotFound
// helpers, to branch on the server-assigned error code.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the pollq server responds with a failure envelope.
type APIError struct {
	StatusCode int    // HTTP status code
	Code       string // machine-readable error code, e.g. "QUEUE_NOT_FOUND"
	Message    string // human-readable message from the server
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pollq: server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNoMessages reports whether the error means the polled queue had no
// visible messages. Callers typically back off and poll again.
func IsNoMessages(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == "NO_MESSAGES_AVAILABLE"
}

// IsDuplicate reports whether the error means the queue name is taken.
func IsDuplicate(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == "DUPLICATE_NAME"
}

// IsNotFound reports whether the error means the named queue does not exist.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == "QUEUE_NOT_FOUND"
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the pollq API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client that connects to the pollq server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("http://pollq.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Message is a message received from a poll.
type Message struct {
	// MessageID is the ULID assigned at write time. Pass it to DeleteMessage
	// before the visibility timeout elapses to consume the message.
	MessageID string `json:"message_id"`

	// Value is the message payload as written.
	Value string `json:"value"`
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status   string `json:"status"`
	InFlight int    `json:"in_flight"`
	Uptime   string `json:"uptime"`
	Version  string `json:"version"`
}

// ─── Queue operations ─────────────────────────────────────────────────────────

// CreateQueue registers a new, empty queue.
// Returns an *APIError with code DUPLICATE_NAME if the name is taken.
func (c *Client) CreateQueue(ctx context.Context, queueName string) error {
	return c.do(ctx, "/createQueue", url.Values{"queue_name": {queueName}}, nil)
}

// WriteMessage appends a message to the back of the named queue and returns
// the server-assigned message ID. An empty value is accepted.
func (c *Client) WriteMessage(ctx context.Context, queueName, value string) (string, error) {
	var resp struct {
		MessageID string `json:"message_id"`
	}
	params := url.Values{"queue_name": {queueName}, "message_value": {value}}
	if err := c.do(ctx, "/writeMessage", params, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// PollQueue checks out the oldest visible message from the named queue.
// The message stays hidden from other pollers until it is deleted or its
// visibility timeout elapses. Returns an *APIError with code
// NO_MESSAGES_AVAILABLE when the queue is empty or fully checked out;
// use IsNoMessages to detect that case.
func (c *Client) PollQueue(ctx context.Context, queueName string) (*Message, error) {
	var msg Message
	if err := c.do(ctx, "/pollQueue", url.Values{"queue_name": {queueName}}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage permanently removes an in-flight message.
// Returns an *APIError with code MESSAGE_NOT_IN_FLIGHT if the message is not
// currently checked out, including when its visibility timeout already fired.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, "/deleteMessage", url.Values{"message_id": {messageID}}, nil)
}

// PurgeQueue deletes every queue and every message on the server.
func (c *Client) PurgeQueue(ctx context.Context) error {
	return c.do(ctx, "/purgeQueue", nil, nil)
}

// Health returns the server health snapshot. It does not use the response
// envelope, so a non-200 status is reported as a plain error.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("pollq: build request: %w", err)
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pollq: health request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pollq: health returned %d", httpResp.StatusCode)
	}
	var info HealthInfo
	if err := json.NewDecoder(httpResp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("pollq: decode health: %w", err)
	}
	return &info, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single GET request and unwraps the response envelope.
// data, when non-nil, receives the envelope's "data" field.
func (c *Client) do(ctx context.Context, path string, params url.Values, data any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("pollq: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pollq: request %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("pollq: read response body: %w", err)
	}

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("pollq: decode response (status %d): %w", httpResp.StatusCode, err)
	}

	if !env.Success {
		ae := &APIError{StatusCode: httpResp.StatusCode}
		if env.Error != nil {
			ae.Code = env.Error.Code
			ae.Message = env.Error.Message
		} else {
			ae.Message = http.StatusText(httpResp.StatusCode)
		}
		return ae
	}

	if data != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return fmt.Errorf("pollq: decode data: %w", err)
		}
	}
	return nil
}
