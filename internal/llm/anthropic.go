package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/grantdesk/internal/config"
	"github.com/nugget/grantdesk/internal/httpkit"
)

const (
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// DefaultMaxTokens is the per-call output limit when a request sets
// none. It leaves room above the default reasoning budget.
const DefaultMaxTokens = 16000

// Provider starts a streaming completion and returns the raw
// provider event stream. The caller must close the returned body;
// cancelling ctx aborts the stream.
type Provider interface {
	Stream(ctx context.Context, req *Request) (io.ReadCloser, error)
}

// ProviderError is a non-2xx response from the provider API.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic API error %d: %s", e.Status, e.Body)
}

// AnthropicClient streams completions from the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a client. An empty baseURL selects the
// public API endpoint.
func NewAnthropicClient(apiKey, baseURL string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	// Reasoning-enabled requests can take a long time before headers.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			// Streams are bounded by ctx, not a client timeout.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	Tools       []ToolSpec         `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    Role               `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Stream sends req with stream=true and returns the SSE body.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	body := buildAnthropicRequest(req)

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("starting stream",
		"model", req.Model,
		"messages", len(body.Messages),
		"tools", len(body.Tools),
		"reasoning_budget", req.ReasoningBudget,
	)
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &ProviderError{Status: resp.StatusCode, Body: errBody}
	}
	return resp.Body, nil
}

// buildAnthropicRequest converts a provider-neutral request to the
// Messages API shape. Reasoning blocks are never sent.
func buildAnthropicRequest(req *Request) anthropicRequest {
	out := anthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Stream:    true,
		Tools:     req.Tools,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if req.ReasoningBudget > 0 {
		// Extended thinking requires the default temperature.
		out.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.ReasoningBudget}
	} else {
		t := req.Temperature
		out.Temperature = &t
	}

	for _, m := range req.Messages {
		am := anthropicMessage{Role: m.Role}
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				if b.Text == "" {
					continue
				}
				am.Content = append(am.Content, anthropicContent{Type: "text", Text: b.Text})
			case BlockToolInvocation:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				am.Content = append(am.Content, anthropicContent{
					Type:  "tool_use",
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				})
			case BlockToolResult:
				am.Content = append(am.Content, anthropicContent{
					Type:      "tool_result",
					ToolUseID: b.ID,
					Content:   b.Content,
					IsError:   b.IsError,
				})
			}
		}
		if len(am.Content) > 0 {
			out.Messages = append(out.Messages, am)
		}
	}
	return out
}
