package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hearthside/keepsake/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "whisper-large-v3",
		Timeout: 5 * time.Second,
	})
}

func TestTranscribeEmptyAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called for empty audio")
	})

	res, err := c.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsEmpty || res.Text != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestTranscribeSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "  We talked about the garden.  "})
	})

	res, err := c.Transcribe(context.Background(), []byte("fake wav bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "We talked about the garden." {
		t.Errorf("transcript should be trimmed, got %q", res.Text)
	}
	if res.IsEmpty {
		t.Error("non-blank transcript should not be marked empty")
	}
}

func TestTranscribeBlankTranscript(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "   "})
	})

	res, err := c.Transcribe(context.Background(), []byte("silence"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsEmpty {
		t.Error("whitespace-only transcript should be marked empty")
	}
}

func TestTranscribeClientError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
	})

	_, err := c.Transcribe(context.Background(), []byte("audio"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsCode(err, errors.CodeTranscribeFailed) {
		t.Errorf("client errors should map to TRANSCRIBE_FAILED, got %s", errors.CodeOf(err))
	}
}

func TestTranscribeBreakerOpens(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
	})

	// STT breaker threshold is 3; every failed call counts one failure
	// because client errors are not retried.
	for i := 0; i < 3; i++ {
		if _, err := c.Transcribe(context.Background(), []byte("audio")); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := c.Transcribe(context.Background(), []byte("audio"))
	if !errors.IsCode(err, errors.CodeUnavailable) {
		t.Errorf("open breaker should map to UNAVAILABLE, got %v", err)
	}
}
