package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deduction-labs/deduction/internal/transcript"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults. The zero timeout is applied
// to the plain JSON operations only; model-run streams are bounded by
// the caller's context instead.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
	}
}

// Client talks to the Deduction backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient carries no timeout: a model run legitimately stays
	// open for as long as the model streams.
	streamClient *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
	}
}

// ListModels fetches the model catalog.
func (c *Client) ListModels(ctx context.Context) (*Models, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}

	var models Models
	if err := c.doJSON(req, &models); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return &models, nil
}

// Join registers or resumes a player.
func (c *Client) Join(ctx context.Context, name string, startNew bool) (*JoinResult, error) {
	body := struct {
		Name     string `json:"name"`
		StartNew bool   `json:"start_new"`
	}{Name: name, StartNew: startNew}

	req, err := c.postJSON(ctx, "/join", body)
	if err != nil {
		return nil, err
	}

	var result JoinResult
	if err := c.doJSON(req, &result); err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	return &result, nil
}

// Attempt submits an answer for the player's current stage.
func (c *Client) Attempt(ctx context.Context, userID, answer string) (*AttemptResult, error) {
	body := struct {
		UserID string `json:"user_id"`
		Answer string `json:"answer"`
	}{UserID: userID, Answer: answer}

	req, err := c.postJSON(ctx, "/attempt", body)
	if err != nil {
		return nil, err
	}

	var result AttemptResult
	if err := c.doJSON(req, &result); err != nil {
		return nil, fmt.Errorf("attempt: %w", err)
	}
	return &result, nil
}

// ModelRun starts a streaming chat turn and returns the raw response
// body. The caller owns the body and must close it on every exit path;
// stream.Decode does that when it consumes the body.
func (c *Client) ModelRun(ctx context.Context, model string, messages []transcript.Message, userID string) (io.ReadCloser, error) {
	body := struct {
		Model    string               `json:"model"`
		Messages []transcript.Message `json:"messages"`
		UserID   string               `json:"user_id"`
	}{Model: model, Messages: messages, UserID: userID}

	req, err := c.postJSON(ctx, "/model-run", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model run: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("model run: %w", apiError(resp))
	}
	return resp.Body, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError extracts a message from a non-2xx response. The backend
// sends {"detail": ...}; anything else is reported as plain text.
func apiError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &detail); err == nil && detail.Detail != "" {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, detail.Detail)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
