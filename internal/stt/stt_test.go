package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestElevenLabsClientTranscribeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("missing/incorrect xi-api-key header")
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("model_id"); got != "scribe_v1" {
			t.Errorf("model_id = %q, want scribe_v1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(elevenLabsResponse{Text: " hello there "})
	}))
	defer server.Close()

	c := NewElevenLabsClient("test-key")
	c.baseURL = server.URL

	text, err := c.Transcribe(context.Background(), Request{Audio: []byte("fake-wav-bytes")})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q, want %q", text, "hello there")
	}
}

func TestElevenLabsClientTranscribeHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api key"))
	}))
	defer server.Close()

	c := NewElevenLabsClient("bad-key")
	c.baseURL = server.URL

	_, err := c.Transcribe(context.Background(), Request{Audio: []byte("fake")})
	if err == nil {
		t.Fatal("expected an error for a 401 response")
	}
	var te *TranscriptionError
	if !isTranscriptionError(err, &te) {
		t.Fatalf("expected *TranscriptionError, got %T: %v", err, err)
	}
	if te.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", te.StatusCode)
	}
}

func isTranscriptionError(err error, target **TranscriptionError) bool {
	te, ok := err.(*TranscriptionError)
	if ok {
		*target = te
	}
	return ok
}

func TestBodyPrefixTruncatesLongBodies(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := bodyPrefix(long)
	if len(got) != 200 {
		t.Errorf("bodyPrefix length = %d, want 200", len(got))
	}
}

func TestBaseNameOfStripsDirectories(t *testing.T) {
	if got := baseNameOf("/tmp/recordings/voicepipe-abc.wav"); got != "voicepipe-abc.wav" {
		t.Errorf("baseNameOf() = %q", got)
	}
	if got := baseNameOf("plainname.wav"); got != "plainname.wav" {
		t.Errorf("baseNameOf() = %q", got)
	}
}
