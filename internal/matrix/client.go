// Package matrix is the HTTP transport for the Matrix client-server API.
// Every call returns an explicit *Response; nothing is kept in ambient state
// between calls.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shawkym/roomsync/pkg/log"
	"github.com/shawkym/roomsync/pkg/metrics"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	// pollSlack is added to the long-poll timeout for the HTTP deadline.
	pollSlack = 30 * time.Second
	// writeRetries bounds retries of a rate-limited join or send.
	writeRetries = 3
	// maxBodySize caps how much of a response body is read.
	maxBodySize = 64 << 20
)

// Client provides the Matrix client-server operations the sync engine needs.
type Client struct {
	baseURL    string
	httpClient Doer
	gate       *Gate
	metrics    *metrics.Metrics

	mu          sync.RWMutex
	accessToken string
}

// Option configures a Client.
type Option func(*Client)

// WithDoer replaces the default *http.Client.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.httpClient = d }
}

// WithGate sets the write gate. Without one, writes are not paced.
func WithGate(g *Gate) Option {
	return func(c *Client) { c.gate = g }
}

// WithMetrics records write outcomes and rate-limit hits.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a client for baseURL. pollTimeout is the long-poll
// timeout; the HTTP deadline is set a little beyond it.
func NewClient(baseURL string, pollTimeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    cleanBaseURL(baseURL),
		httpClient: &http.Client{Timeout: pollTimeout + pollSlack},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized homeserver address.
func (c *Client) BaseURL() string { return c.baseURL }

// SetAccessToken sets the bearer token sent with authenticated calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

// AccessToken returns the current bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Login performs a password login. A non-2xx status returns the response
// together with a *MatrixError.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*Response, error) {
	body := loginBody{
		Type: "m.login.password",
		Identifier: loginIdentifier{
			Type: "m.id.user",
			User: localpart(req.User),
		},
		Password:                 req.Password,
		InitialDeviceDisplayName: req.DeviceName,
	}
	return c.do(ctx, http.MethodPost, pathLogin, nil, body)
}

// Sync issues one long-poll /sync. A non-2xx status returns the response
// together with a *MatrixError.
func (c *Client) Sync(ctx context.Context, p SyncParams) (*Response, error) {
	query := url.Values{}
	query.Set("full_state", strconv.FormatBool(p.FullState))
	query.Set("timeout", strconv.FormatInt(p.Timeout.Milliseconds(), 10))
	if p.Since != "" {
		query.Set("since", p.Since)
	}
	return c.do(ctx, http.MethodGet, pathSync, query, nil)
}

// JoinRoom joins a room by id or alias and returns the resolved room id.
func (c *Client) JoinRoom(ctx context.Context, room string) (string, error) {
	if room == "" {
		return "", fmt.Errorf("room is required")
	}

	var query url.Values
	if domain := extractRoomDomain(room); domain != "" {
		query = url.Values{}
		query.Set("server_name", domain)
	}

	resp, err := c.write(ctx, "join", http.MethodPost, pathJoin+url.PathEscape(room), query, struct{}{})
	if err != nil {
		return "", fmt.Errorf("join %s: %w", room, err)
	}

	var result struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", fmt.Errorf("failed to parse join response: %w", err)
	}
	if result.RoomID == "" {
		return "", fmt.Errorf("join response missing room_id")
	}
	return result.RoomID, nil
}

// SendMessage sends an m.room.message with the given transaction id and
// returns the event id. Retrying with the same txnID is idempotent on the
// server.
func (c *Client) SendMessage(ctx context.Context, roomID, txnID string, content MessageContent) (string, error) {
	if roomID == "" {
		return "", fmt.Errorf("room ID is required")
	}
	if txnID == "" {
		return "", fmt.Errorf("transaction ID is required")
	}
	if content.MsgType == "" {
		content.MsgType = MsgText
	}

	path := pathRooms + url.PathEscape(roomID) + "/send/m.room.message/" + url.PathEscape(txnID)
	resp, err := c.write(ctx, "send", http.MethodPut, path, nil, content)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", roomID, err)
	}

	var result struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return "", fmt.Errorf("failed to parse send response: %w", err)
	}
	return result.EventID, nil
}

// write sends a join or send through the gate, retrying M_LIMIT_EXCEEDED
// after the server's requested wait.
func (c *Client) write(ctx context.Context, kind, method, path string, query url.Values, body interface{}) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= writeRetries; attempt++ {
		if err := c.gate.Wait(ctx, kind); err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, method, path, query, body)
		if err == nil {
			c.metrics.RecordWrite(kind, "success")
			return resp, nil
		}
		lastErr = err

		if !IsMatrixError(err, ErrCodeLimitExceeded) {
			break
		}
		c.metrics.RecordRateLimitHit()
		wait := RetryAfter(err)
		if wait == 0 {
			wait = time.Duration(1<<attempt) * time.Second
		}
		log.WithFields(map[string]interface{}{
			"call":    kind,
			"attempt": attempt + 1,
			"wait_ms": wait.Milliseconds(),
		}).Warn("matrix write rate limited")

		c.gate.Pause(wait)
		if c.gate == nil && attempt < writeRetries {
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	c.metrics.RecordWrite(kind, "error")
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       data,
		Header:     httpResp.Header,
	}
	if !resp.OK() {
		return resp, newMatrixError(resp)
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func extractRoomDomain(room string) string {
	if idx := strings.Index(room, ":"); idx != -1 && idx+1 < len(room) {
		return room[idx+1:]
	}
	return ""
}

func cleanBaseURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if idx := strings.Index(trimmed, "/_matrix"); idx != -1 {
		return trimmed[:idx]
	}
	return trimmed
}

// localpart turns "@bot:example.org" into "bot"; anything else is returned
// unchanged.
func localpart(userID string) string {
	if strings.HasPrefix(userID, "@") {
		userID = strings.TrimPrefix(userID, "@")
		if idx := strings.Index(userID, ":"); idx != -1 {
			return userID[:idx]
		}
	}
	return userID
}
