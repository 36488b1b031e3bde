// Package client talks to a running governor over HTTP. It satisfies
// benchmarking.Target so the load engine can drive a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/serving"
	"InferenceGovernor/pkg/sessions"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 120 * time.Second

// ErrUnhealthy is returned by Health when the server does not report healthy.
var ErrUnhealthy = errors.New("endpoint failed health verification")

// Client is a governor API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL. A zero timeout uses
// DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// decodeResponse reads a JSON body, returning an error for non-2xx codes.
func decodeResponse[T any](resp *http.Response) (*T, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, data)
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &result, nil
}

func apiError(status int, data []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("API error (HTTP %d): %s", status, body.Error)
	}
	return fmt.Errorf("API error (HTTP %d): %s", status, strings.TrimSpace(string(data)))
}

// Health verifies the server answers GET /health with 200 and status
// healthy.
func (c *Client) Health(ctx context.Context) (*serving.HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	h, err := decodeResponse[serving.HealthResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	if h.Status != "healthy" {
		return nil, fmt.Errorf("%w: status %q", ErrUnhealthy, h.Status)
	}
	return h, nil
}

// CreateSession requests admission. A 503 is returned as a
// *sessions.AdmissionError carrying the server's reason.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/sessions", nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", rejection(resp)
	}
	created, err := decodeResponse[serving.CreateSessionResponse](resp)
	if err != nil {
		return "", err
	}
	return created.SessionID, nil
}

func rejection(resp *http.Response) error {
	defer resp.Body.Close()
	var rej serving.RejectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&rej); err != nil || rej.Reason == "" {
		rej.Reason = sessions.ReasonCapacityExceeded
	}
	return &sessions.AdmissionError{
		Reason:   rej.Reason,
		Active:   rej.Active,
		Capacity: rej.Capacity,
		State:    rej.State,
	}
}

// ReleaseSession releases id. The server treats unknown ids as a no-op.
func (c *Client) ReleaseSession(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/sessions/"+id, nil)
	if err != nil {
		return err
	}
	_, err = decodeResponse[map[string]string](resp)
	return err
}

// ListSessions returns the server's session registry.
func (c *Client) ListSessions(ctx context.Context) (*serving.SessionsResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}
	return decodeResponse[serving.SessionsResponse](resp)
}

// Telemetry returns the server's latest telemetry snapshot.
func (c *Client) Telemetry(ctx context.Context) (*serving.TelemetryResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/telemetry", nil)
	if err != nil {
		return nil, err
	}
	return decodeResponse[serving.TelemetryResponse](resp)
}

// Dispatch submits work on sessionID. An unknown session returns
// sessions.ErrSessionNotFound; a server-side execution failure comes back as
// an unsuccessful sample.
func (c *Client) Dispatch(ctx context.Context, sessionID string, work dispatch.Work) (dispatch.Sample, error) {
	resp, err := c.do(ctx, http.MethodPost, "/chat", serving.ChatRequest{
		SessionID:   sessionID,
		Prompt:      work.Prompt,
		MaxTokens:   work.MaxTokens,
		Temperature: work.Temperature,
	})
	if err != nil {
		return dispatch.Sample{}, err
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		resp.Body.Close()
		return dispatch.Sample{}, fmt.Errorf("%w: %s", sessions.ErrSessionNotFound, sessionID)
	case http.StatusInternalServerError:
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return dispatch.Sample{
			SessionID: sessionID,
			Err:       apiError(resp.StatusCode, data).Error(),
		}, nil
	}

	chat, err := decodeResponse[serving.ChatResponse](resp)
	if err != nil {
		return dispatch.Sample{}, err
	}
	return dispatch.Sample{
		SessionID:  chat.SessionID,
		Success:    true,
		TTFT:       millis(chat.Metrics.TTFTMs),
		Total:      millis(chat.Metrics.TotalLatencyMs),
		Units:      chat.Metrics.OutputTokens,
		Throughput: chat.Metrics.Throughput,
		Text:       chat.Response,
	}, nil
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
