package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deduction-labs/deduction/internal/stream"
	"github.com/deduction-labs/deduction/internal/transcript"
)

// minReasoningBudget is the smallest thinking budget the API accepts.
const minReasoningBudget = 1024

// Provider streams completions for a chat transcript. The sequence
// yields one record per delta; a non-nil error ends the stream.
type Provider interface {
	Stream(ctx context.Context, spec ModelSpec, messages []transcript.Message) iter.Seq2[stream.Record, error]
}

// Config holds Anthropic connection settings.
type Config struct {
	APIKey          string
	BaseURL         string
	MaxTokens       int
	ReasoningBudget int
	Timeout         time.Duration
}

// DefaultConfig returns settings suitable for the public API.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		BaseURL:         "https://api.anthropic.com/v1",
		MaxTokens:       1024,
		ReasoningBudget: 4096,
		Timeout:         10 * time.Minute,
	}
}

// AnthropicClient implements Provider over the Anthropic messages API.
type AnthropicClient struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a client from cfg.
func NewAnthropicClient(cfg Config, logger *slog.Logger) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig("").BaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig("").MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig("").Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Messages    []apiMessage `json:"messages"`
	Stream      bool         `json:"stream"`
	Temperature float64      `json:"temperature"`
	Thinking    *apiThinking `json:"thinking,omitempty"`
}

type apiThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type apiEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		Thinking string `json:"thinking,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Stream opens a streamed completion and yields one record per delta.
// Nothing is sent to the API until the sequence is iterated; breaking
// out of the loop closes the response body.
func (c *AnthropicClient) Stream(ctx context.Context, spec ModelSpec, messages []transcript.Message) iter.Seq2[stream.Record, error] {
	return func(yield func(stream.Record, error) bool) {
		if c.cfg.APIKey == "" {
			yield(stream.Record{}, fmt.Errorf("anthropic: API key not configured"))
			return
		}

		body, err := c.open(ctx, spec, messages)
		if err != nil {
			yield(stream.Record{}, err)
			return
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var evt apiEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				// Unknown event shapes are skipped, not fatal.
				continue
			}
			if evt.Error != nil {
				yield(stream.Record{}, fmt.Errorf("anthropic: %s: %s", evt.Error.Type, evt.Error.Message))
				return
			}
			if evt.Type != "content_block_delta" || evt.Delta == nil {
				continue
			}

			var rec stream.Record
			switch evt.Delta.Type {
			case "text_delta":
				rec = stream.Record{Type: "text", Delta: evt.Delta.Text}
			case "thinking_delta":
				rec = stream.Record{Type: "thinking", Delta: evt.Delta.Thinking}
			default:
				continue
			}
			if rec.Delta == "" {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(stream.Record{}, fmt.Errorf("anthropic: read stream: %w", err))
		}
	}
}

// open sends the streamed messages request and returns the SSE body.
func (c *AnthropicClient) open(ctx context.Context, spec ModelSpec, messages []transcript.Message) (io.ReadCloser, error) {
	reqBody := apiRequest{
		Model:       spec.Name,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      true,
		Temperature: 0.1,
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, apiMessage{Role: m.Role, Content: m.Content})
	}
	if spec.Thinking {
		if c.cfg.ReasoningBudget >= minReasoningBudget {
			// The API requires temperature 1 when thinking is enabled.
			reqBody.Temperature = 1.0
			reqBody.Thinking = &apiThinking{
				Type:         "enabled",
				BudgetTokens: c.cfg.ReasoningBudget,
			}
		} else {
			c.logger.Warn("reasoning budget below minimum, thinking disabled",
				"model", spec.Name,
				"budget", c.cfg.ReasoningBudget,
			)
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("opening completion stream", "model", spec.Name, "thinking", reqBody.Thinking != nil)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic: API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
