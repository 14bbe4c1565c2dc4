package llm

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nugget/grantdesk/internal/httpkit"
	"github.com/nugget/grantdesk/internal/prompts"
)

const maxTitleRunes = 60

// Titler produces a short title for a new conversation.
type Titler interface {
	Title(ctx context.Context, firstMessage string) string
}

// SummaryTitler asks a small model for a title through the Anthropic
// SDK, falling back to a truncated first message on any failure.
type SummaryTitler struct {
	client anthropic.Client
	model  string
	logger *slog.Logger
}

// NewSummaryTitler creates a titler. An empty baseURL selects the public
// API endpoint.
func NewSummaryTitler(apiKey, baseURL, model string, logger *slog.Logger) *SummaryTitler {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewClient()),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &SummaryTitler{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger.With("component", "titler"),
	}
}

// Title returns a model-written title, or FallbackTitle on error.
func (t *SummaryTitler) Title(ctx context.Context, firstMessage string) string {
	msg, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: 32,
		System: []anthropic.TextBlockParam{{
			Text: prompts.TitleSystem,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(firstMessage)),
		},
	})
	if err != nil {
		t.logger.Warn("title generation failed", "error", err)
		return FallbackTitle(firstMessage)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	title := strings.Trim(strings.TrimSpace(sb.String()), `"'`)
	if title == "" {
		return FallbackTitle(firstMessage)
	}
	return truncateRunes(title, maxTitleRunes)
}

// FallbackTitle derives a title from the first line of text.
func FallbackTitle(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return "New conversation"
	}
	return truncateRunes(line, maxTitleRunes)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
