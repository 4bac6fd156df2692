package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLLMServer(t *testing.T, handler http.HandlerFunc) *Summarizer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Models:  []string{"model-big", "model-small"},
		Timeout: 5 * time.Second,
	})
}

func chatResponse(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestSummarizeEmptyTranscript(t *testing.T) {
	s := New(Config{})
	res := s.Summarize(context.Background(), Request{Transcript: "   "})

	assert.Equal(t, NoConversationMarker, res.Text)
	assert.Equal(t, SourceFallback, res.Source)
}

func TestSummarizeShortTranscriptKeepsPrevious(t *testing.T) {
	s := New(Config{})
	res := s.Summarize(context.Background(), Request{
		Transcript:  "hi there bye",
		LastSummary: "Last week they talked about the lake house.",
	})

	assert.Equal(t, "Last week they talked about the lake house.", res.Text)
	assert.Equal(t, SourceFallback, res.Source)
}

func TestSummarizeShortTranscriptNoPrevious(t *testing.T) {
	s := New(Config{})
	res := s.Summarize(context.Background(), Request{
		Transcript: "hi there bye",
		Names:      []string{"Sarah"},
	})

	assert.NotEmpty(t, res.Text, "no previous memory means even a fragment becomes the summary")
	assert.Equal(t, SourceFallback, res.Source)
}

func TestSummarizeWithoutAPIKeyUsesFallback(t *testing.T) {
	s := New(Config{})
	res := s.Summarize(context.Background(), Request{
		Transcript: "We talked about the garden for a long while. The roses are doing well this year.",
		Names:      []string{"Sarah"},
	})

	assert.Equal(t, SourceFallback, res.Source)
	assert.NotEmpty(t, res.Text)
}

func TestSummarizeLLMSuccess(t *testing.T) {
	s := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		chatResponse(t, w, "Sarah visited and they shared warm memories of the lake.")
	})

	res := s.Summarize(context.Background(), Request{
		Transcript: "Do you remember the lake trips we used to take every summer with the kids?",
		Names:      []string{"Sarah"},
		Relation:   "daughter",
	})

	assert.Equal(t, SourceLLM, res.Source)
	assert.Equal(t, "Sarah visited and they shared warm memories of the lake.", res.Text)
}

func TestSummarizeModelFallbackOrder(t *testing.T) {
	var models []string
	s := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		models = append(models, req.Model)
		if req.Model == "model-big" {
			http.Error(w, `{"error":{"message":"model decommissioned"}}`, http.StatusBadRequest)
			return
		}
		chatResponse(t, w, "A quiet afternoon catching up about family.")
	})

	res := s.Summarize(context.Background(), Request{
		Transcript: "It was so good to see everyone again after all this time apart.",
		Names:      []string{"Sarah"},
	})

	assert.Equal(t, SourceLLM, res.Source)
	require.NotEmpty(t, models)
	assert.Equal(t, "model-big", models[0], "primary model tried first")
	assert.Contains(t, models, "model-small")
}

func TestSummarizeAllModelsFailUsesFallback(t *testing.T) {
	s := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid request"}}`, http.StatusBadRequest)
	})

	res := s.Summarize(context.Background(), Request{
		Transcript: "We spent the whole visit looking through the old photo albums together.",
		Names:      []string{"Sarah"},
	})

	assert.Equal(t, SourceFallback, res.Source)
	assert.NotEmpty(t, res.Text)
}

func TestSummarizeNoRetryOnAuthError(t *testing.T) {
	var calls atomic.Int32
	s := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	})

	res := s.Summarize(context.Background(), Request{
		Transcript: "The grandchildren came along and everyone sang together in the kitchen.",
	})

	assert.Equal(t, SourceFallback, res.Source)
	// One call per configured model, no backoff retries on auth failure.
	assert.Equal(t, int32(2), calls.Load())
}

func TestBuildPromptSingleVisitor(t *testing.T) {
	p := buildPrompt(Request{
		Names:     []string{"Sarah"},
		Relation:  "daughter",
		LastVisit: "2026-08-20",
	}, "some transcript")

	assert.Contains(t, p, "Visitor: Sarah (daughter)")
	assert.Contains(t, p, "last visited on 2026-08-20")
	assert.Contains(t, p, "2-4 sentence memory summary")
}

func TestBuildPromptGroup(t *testing.T) {
	p := buildPrompt(Request{
		Names: []string{"Sarah", "Tom", "Maya"},
	}, "some transcript")

	assert.Contains(t, p, "group conversation between Sarah, Tom and Maya")
	assert.Contains(t, p, "not individual speakers")
}

func TestBuildPromptTruncatesLongTranscript(t *testing.T) {
	long := strings.Repeat("word ", 3000)
	p := buildPrompt(Request{Names: []string{"Sarah"}}, long)
	assert.Less(t, len(p), maxTranscriptChars+1000)
}

func TestBuildPromptTruncationKeepsValidUTF8(t *testing.T) {
	// Sized so the tail cut point lands inside a 3-byte rune.
	long := strings.Repeat("日", 2500) + strings.Repeat("a", 2000)
	p := buildPrompt(Request{Names: []string{"Sarah"}}, long)
	assert.True(t, utf8.ValidString(p), "prompt must stay valid UTF-8 after truncation")
}

func TestJoinNames(t *testing.T) {
	assert.Equal(t, "visitors", joinNames(nil))
	assert.Equal(t, "Sarah", joinNames([]string{"Sarah"}))
	assert.Equal(t, "Sarah and Tom", joinNames([]string{"Sarah", "Tom"}))
	assert.Equal(t, "Sarah, Tom and Maya", joinNames([]string{"Sarah", "Tom", "Maya"}))
}
