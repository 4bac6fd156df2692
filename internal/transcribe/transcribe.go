// Package transcribe wraps the speech-to-text capability.
package transcribe

import (
	"bytes"
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hearthside/keepsake/internal/errors"
	"github.com/hearthside/keepsake/internal/resilience"
	"github.com/hearthside/keepsake/internal/trace"
)

// Result is the transcript of one session's audio. Empty text is a valid,
// non-error outcome: silence still produces a memory entry downstream.
type Result struct {
	Text    string
	IsEmpty bool
}

// Transcriber converts audio bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Result, error)
}

// Config for the OpenAI-compatible transcription client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible audio transcriptions endpoint
// (Groq's hosted Whisper in the default deployment). A circuit breaker
// keeps a dead backend from stalling every session finalization.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	breaker *resilience.Breaker
}

// New creates a transcription client.
func New(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		breaker: resilience.New(resilience.STTConfig()),
	}
}

// Transcribe sends the audio blob to the backend and returns its transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	if len(audio) == 0 {
		return Result{IsEmpty: true}, nil
	}

	ctx, span := trace.StartSpan(ctx, "transcribe")
	defer span.End()
	span.SetAttr("audio_bytes", len(audio))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := resilience.ExecuteWithResult(c.breaker, func() (openai.AudioResponse, error) {
		var resp openai.AudioResponse
		err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			var callErr error
			resp, callErr = c.api.CreateTranscription(ctx, openai.AudioRequest{
				Model:    c.model,
				FilePath: "conversation.wav", // filename hint; bytes come from the reader
				Reader:   bytes.NewReader(audio),
			})
			return callErr
		})
		return resp, err
	})
	if err != nil {
		span.SetAttr("error", err.Error())
		if err == resilience.ErrOpen || resilience.IsTransient(err) {
			return Result{}, errors.Wrap(err, errors.CodeUnavailable, "transcription backend unavailable")
		}
		return Result{}, errors.Wrap(err, errors.CodeTranscribeFailed, "transcription failed")
	}

	text := strings.TrimSpace(resp.Text)
	span.SetAttr("transcript_chars", len(text))
	return Result{Text: text, IsEmpty: text == ""}, nil
}
