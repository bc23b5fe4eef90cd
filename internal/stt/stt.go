// Package stt implements the two speech-to-text backends named by the
// original spec: an OpenAI Whisper client built on the teacher's
// go-openai dependency (internal/llm/adapter_openai.go shows the same
// client construction and chat-completion call shape used here for
// audio.transcriptions), and an ElevenLabs client built directly on
// net/http since no ElevenLabs SDK appears anywhere in the corpus.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// TranscriptionError wraps a remote STT API failure with its HTTP
// status and a short body prefix, per the original spec's §4.8.
type TranscriptionError struct {
	Backend    string
	StatusCode int
	BodyPrefix string
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("stt: %s transcription failed: status %d: %s", e.Backend, e.StatusCode, e.BodyPrefix)
}

// Client is the common contract both backends satisfy.
type Client interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Request carries everything a backend needs to transcribe one audio
// file. Exactly one of Path/Audio should be set.
type Request struct {
	Path        string
	Audio       []byte
	Model       string
	Language    string
	Prompt      string
	Temperature float64
}

func (r Request) open() (io.ReadCloser, string, error) {
	if len(r.Audio) > 0 {
		return io.NopCloser(bytes.NewReader(r.Audio)), "audio.wav", nil
	}
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, "", fmt.Errorf("stt: open %s: %w", r.Path, err)
	}
	return f, r.Path, nil
}

// defaultWhisperPrompt supplies OpenAI's default context prompt
// when the caller gives none, matching the spec's "model-family
// specific default prompt" rule with one conservative default.
const defaultWhisperPrompt = "This is a dictated voice memo; transcribe it verbatim."

// OpenAIClient transcribes via the Whisper endpoint.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient constructs an OpenAIClient from an API key, exactly
// as the teacher's NewOpenAIProcessor constructs its chat client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey)}
}

// Transcribe uploads the audio via audio.transcriptions with
// response_format=text.
func (c *OpenAIClient) Transcribe(ctx context.Context, req Request) (string, error) {
	rc, name, err := req.open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultWhisperPrompt
	}
	model := req.Model
	if model == "" {
		model = openai.Whisper1
	}

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       model,
		Reader:      rc,
		FilePath:    name,
		Prompt:      prompt,
		Language:    req.Language,
		Temperature: float32(req.Temperature),
		Format:      openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", &TranscriptionError{Backend: "openai", StatusCode: statusCodeOf(err), BodyPrefix: err.Error()}
	}
	return strings.TrimSpace(resp.Text), nil
}

func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.HTTPStatusCode
	}
	return 0
}

func asAPIError(err error, target **openai.APIError) bool {
	apiErr, ok := err.(*openai.APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

// ElevenLabsClient transcribes via ElevenLabs's speech-to-text
// multipart endpoint.
type ElevenLabsClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabsClient constructs a client with a default 300s timeout,
// matching the transcriber daemon's per-connection read timeout.
func NewElevenLabsClient(apiKey string) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:     apiKey,
		baseURL:    "https://api.elevenlabs.io/v1",
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

type elevenLabsResponse struct {
	Text string `json:"text"`
}

// Transcribe posts a multipart/form-data request with fields
// model_id, optional language_code, and the audio file, authenticated
// via the xi-api-key header.
func (c *ElevenLabsClient) Transcribe(ctx context.Context, req Request) (string, error) {
	rc, name, err := req.open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	model := req.Model
	if model == "" {
		model = "scribe_v1"
	}
	if err := mw.WriteField("model_id", model); err != nil {
		return "", fmt.Errorf("stt: build elevenlabs request: %w", err)
	}
	if req.Language != "" {
		if err := mw.WriteField("language_code", req.Language); err != nil {
			return "", fmt.Errorf("stt: build elevenlabs request: %w", err)
		}
	}

	part, err := mw.CreateFormFile("file", baseNameOf(name))
	if err != nil {
		return "", fmt.Errorf("stt: build elevenlabs request: %w", err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return "", fmt.Errorf("stt: read audio for elevenlabs: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("stt: build elevenlabs request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("stt: build elevenlabs request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("stt: elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &TranscriptionError{Backend: "elevenlabs", StatusCode: resp.StatusCode, BodyPrefix: bodyPrefix(respBody)}
	}

	var parsed elevenLabsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &TranscriptionError{Backend: "elevenlabs", StatusCode: resp.StatusCode, BodyPrefix: "non-JSON response"}
	}
	return strings.TrimSpace(parsed.Text), nil
}

func bodyPrefix(b []byte) string {
	const maxLen = 200
	if len(b) > maxLen {
		return string(b[:maxLen])
	}
	return string(b)
}

func baseNameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
