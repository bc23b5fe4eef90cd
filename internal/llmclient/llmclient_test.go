package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRenderUserPromptSubstitutesPlaceholder(t *testing.T) {
	got := renderUserPrompt("Summarize: {{text}}", "hello world")
	if got != "Summarize: hello world" {
		t.Errorf("got %q", got)
	}
}

func TestRenderUserPromptPrependsWhenPlaceholderAbsent(t *testing.T) {
	got := renderUserPrompt("Summarize the following.", "hello world")
	want := "Summarize the following.\n\nhello world"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderUserPromptEmptyTemplateReturnsTextVerbatim(t *testing.T) {
	if got := renderUserPrompt("", "raw text"); got != "raw text" {
		t.Errorf("got %q", got)
	}
}

func TestCompleteReturnsTrimmedFirstChoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": "  processed  "},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 10, "total_tokens": 20},
		})
	}))
	defer server.Close()

	client := New("openai", "test-key", server.URL+"/v1")
	result, err := client.Complete(context.Background(), Request{
		SystemPrompt: "sys",
		UserPrompt:   "{{text}}",
		Text:         "raw",
		Model:        "gpt-4o-mini",
		Temperature:  0.3,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Text != "processed" {
		t.Errorf("Text = %q, want processed", result.Text)
	}
	if result.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", result.FinishReason)
	}
}

func TestCompleteReturnsErrEmptyOutputOnNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-empty",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{},
		})
	}))
	defer server.Close()

	client := New("openai", "test-key", server.URL+"/v1")
	_, err := client.Complete(context.Background(), Request{Model: "gpt-4o-mini"})
	if err != ErrEmptyOutput {
		t.Errorf("err = %v, want ErrEmptyOutput", err)
	}
}
