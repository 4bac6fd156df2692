// Package summarize turns conversation transcripts into short memory
// summaries for the visitor's profile. The LLM path is best-effort; the
// deterministic fallback guarantees a usable summary in every case.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hearthside/keepsake/internal/resilience"
	"github.com/hearthside/keepsake/internal/trace"
)

// Source identifies which path produced a summary.
type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// NoConversationMarker is stored when a session captured no speech.
const NoConversationMarker = "No conversation was captured."

// Transcripts shorter than this keep the previous stored memory instead of
// overwriting it with noise.
const minTranscriptWords = 6

// fallbackCharBudget bounds the deterministic extraction output.
const fallbackCharBudget = 280

// maxTranscriptChars bounds the prompt sent to the LLM.
const maxTranscriptChars = 6000

// Result is a generated summary and the path that produced it.
type Result struct {
	Text   string
	Source Source
}

// Request carries the transcript and the visitor context used by the prompt.
type Request struct {
	Transcript  string
	Names       []string // participant display names, single or group
	Relation    string   // relationship to the patient, single-person only
	LastVisit   string   // ISO date of the previous visit, if any
	LastSummary string   // previous stored memory, if any
}

// Summarizer generates summaries with an ordered LLM model fallback list and
// a deterministic extraction fallback.
type Summarizer struct {
	api     *openai.Client // nil when no API key is configured
	models  []string
	timeout time.Duration
}

// Config for the summarizer.
type Config struct {
	BaseURL string
	APIKey  string
	Models  []string // tried in order until one responds
	Timeout time.Duration
}

// New creates a summarizer. Without an API key the LLM path is disabled and
// every request takes the fallback path.
func New(cfg Config) *Summarizer {
	s := &Summarizer{models: cfg.Models, timeout: cfg.Timeout}
	if s.timeout <= 0 {
		s.timeout = 20 * time.Second
	}
	if len(s.models) == 0 {
		s.models = []string{"llama-3.3-70b-versatile"}
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		s.api = openai.NewClientWithConfig(clientCfg)
	}
	return s
}

// Summarize produces a summary for the transcript. It never fails: LLM
// unavailability, rate limiting, and errors all degrade to the fallback.
func (s *Summarizer) Summarize(ctx context.Context, req Request) Result {
	ctx, span := trace.StartSpan(ctx, "summarize")
	defer span.End()

	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		span.SetAttr("empty", true)
		return Result{Text: NoConversationMarker, Source: SourceFallback}
	}

	// Barely any speech: keep the previous memory rather than replace it
	// with a fragment.
	if len(strings.Fields(transcript)) < minTranscriptWords && req.LastSummary != "" {
		span.SetAttr("kept_previous", true)
		return Result{Text: req.LastSummary, Source: SourceFallback}
	}

	if s.api != nil {
		if text, model, err := s.summarizeLLM(ctx, req, transcript); err == nil {
			span.SetAttr("model", model)
			return Result{Text: text, Source: SourceLLM}
		} else {
			span.SetAttr("llm_error", err.Error())
			trace.Logger(ctx).Warn("LLM summarization failed, using fallback", "error", err)
		}
	}

	return Result{Text: Extract(transcript, req.Names), Source: SourceFallback}
}

// summarizeLLM tries each configured model in order. Each model gets a hard
// timeout and at most one backoff retry on transient errors; authentication
// and validation errors are not retried.
func (s *Summarizer) summarizeLLM(ctx context.Context, req Request, transcript string) (string, string, error) {
	prompt := buildPrompt(req, transcript)

	attempts := make([]resilience.Attempt[string], 0, len(s.models))
	for _, model := range s.models {
		model := model
		attempts = append(attempts, resilience.Attempt[string]{
			Name: model,
			Run: func(ctx context.Context) (string, error) {
				return s.callModel(ctx, model, prompt)
			},
		})
	}

	text, model, err := resilience.Chain(ctx, attempts)
	if err != nil {
		return "", "", err
	}
	return text, model, nil
}

func (s *Summarizer) callModel(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var text string
	err := resilience.Retry(ctx, resilience.LLMRetryConfig(), func() error {
		resp, err := s.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     model,
			MaxTokens: 200,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("model %s returned no choices", model)
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return fmt.Errorf("model %s returned empty summary", model)
		}
		return nil
	})
	return text, err
}

func buildPrompt(req Request, transcript string) string {
	if len(transcript) > maxTranscriptChars {
		cut := len(transcript) - maxTranscriptChars
		for cut < len(transcript) && !utf8.RuneStart(transcript[cut]) {
			cut++
		}
		transcript = transcript[cut:]
	}

	var b strings.Builder
	b.WriteString("You are helping create a brief memory for someone with memory loss about a conversation.\n\n")

	if len(req.Names) > 1 {
		fmt.Fprintf(&b, "This was a group conversation between %s. ", joinNames(req.Names))
		b.WriteString("Focus on what was discussed as a group, not individual speakers.\n")
	} else {
		name := "a visitor"
		if len(req.Names) == 1 && req.Names[0] != "" {
			name = req.Names[0]
		}
		fmt.Fprintf(&b, "Visitor: %s", name)
		if req.Relation != "" {
			fmt.Fprintf(&b, " (%s)", req.Relation)
		}
		if req.LastVisit != "" {
			fmt.Fprintf(&b, ". They last visited on %s", req.LastVisit)
		}
		b.WriteString(".\n")
	}

	b.WriteString("\nConversation transcript:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nWrite a 2-4 sentence memory summary focusing on:\n")
	b.WriteString("1. The emotional tone and feelings expressed\n")
	b.WriteString("2. The most important topics discussed\n")
	b.WriteString("3. Any meaningful moments or connections\n\n")
	b.WriteString("Keep it warm, personal, and concise.")
	return b.String()
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return "visitors"
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
