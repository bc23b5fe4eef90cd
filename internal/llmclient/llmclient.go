// Package llmclient performs chat-completion calls over an
// OpenAI-compatible endpoint for LLM-backed verbs and Zwingli mode,
// built the same way the teacher's internal/llm/adapter_openai.go
// constructs its OpenAI chat client and measures call duration.
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyOutput is returned when the model's first choice content is
// empty after trimming.
var ErrEmptyOutput = fmt.Errorf("llmclient: model returned empty output")

// Request carries one chat-completion call's parameters.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Text         string
	Model        string
	Temperature  float64
	BaseURL      string
}

// ProviderMeta mirrors the original spec's provider metadata fields.
type ProviderMeta struct {
	BaseURL      string `json:"base_url,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	TotalTokens  int    `json:"total_tokens,omitempty"`
}

// Result is what a completed call returns.
type Result struct {
	Text         string
	Backend      string
	Model        string
	Temperature  float64
	DurationMS   int64
	Provider     ProviderMeta
	FinishReason string
}

// Client performs chat completions against one OpenAI-compatible
// endpoint.
type Client struct {
	backend string
	client  *openai.Client
}

// New constructs a Client for backend ("openai" or "groq") using
// apiKey, optionally pointed at a custom baseURL (used for Groq's
// OpenAI-compatible endpoint).
func New(backend, apiKey, baseURL string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{backend: backend, client: openai.NewClientWithConfig(config)}
}

// Complete renders req.UserPrompt against req.Text (substituting
// "{{text}}", or prepending the template with a blank line before the
// text when the placeholder is absent), issues the chat completion,
// and returns the trimmed first-choice content.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	userContent := renderUserPrompt(req.UserPrompt, req.Text)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
		Temperature: float32(req.Temperature),
	})
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("llmclient: %s chat completion: %w", c.backend, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyOutput
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyOutput
	}

	return &Result{
		Text:        text,
		Backend:     c.backend,
		Model:       req.Model,
		Temperature: req.Temperature,
		DurationMS:  duration.Milliseconds(),
		Provider: ProviderMeta{
			BaseURL:      req.BaseURL,
			RequestID:    resp.ID,
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// renderUserPrompt substitutes "{{text}}" in template with text, or
// (when the placeholder is absent) prepends the template followed by
// a blank line before text, per the original spec's LLMProfile rule.
func renderUserPrompt(template, text string) string {
	if template == "" {
		return text
	}
	const placeholder = "{{text}}"
	if strings.Contains(template, placeholder) {
		return strings.ReplaceAll(template, placeholder, text)
	}
	return template + "\n\n" + text
}

// DefaultZwingliSystemPrompt and DefaultZwingliUserPrompt are used by
// the trigger engine's bare "zwingli" action, which has no profile of
// its own.
const (
	DefaultZwingliSystemPrompt = "You are Zwingli, a terse voice-dictation assistant. Respond only with the requested text, no preamble."
	DefaultZwingliUserPrompt   = "{{text}}"
)
