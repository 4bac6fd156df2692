// Package pipeline runs the end-of-session chain: buffered audio is
// normalized, transcribed, summarized, and persisted to every participant's
// memory profile.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthside/keepsake/internal/audio"
	"github.com/hearthside/keepsake/internal/errors"
	"github.com/hearthside/keepsake/internal/memstore"
	"github.com/hearthside/keepsake/internal/session"
	"github.com/hearthside/keepsake/internal/summarize"
	"github.com/hearthside/keepsake/internal/trace"
	"github.com/hearthside/keepsake/internal/transcribe"
)

// Summarizer generates a memory summary; implementations never fail.
type Summarizer interface {
	Summarize(ctx context.Context, req summarize.Request) summarize.Result
}

// Store is the slice of the memory store the pipeline needs.
type Store interface {
	GetPerson(id string) (memstore.Person, bool)
	UpsertSummary(id, summary string, ts time.Time) error
}

// Event is emitted after each finalized session for the caregiving client.
type Event struct {
	SubjectKey   string   `json:"subject_key"`
	Participants []string `json:"participants"`
	Transcript   string   `json:"transcript"`
	Summary      string   `json:"summary"`
	Source       string   `json:"source"`
	Failure      string   `json:"failure,omitempty"`
}

// Pipeline owns the downstream collaborators and serves as the session
// registry's finalizer.
type Pipeline struct {
	norm     *audio.Normalizer
	stt      transcribe.Transcriber
	sum      Summarizer
	store    Store
	eventsCh chan Event
	now      func() time.Time
}

// New creates a pipeline.
func New(norm *audio.Normalizer, stt transcribe.Transcriber, sum Summarizer, store Store) *Pipeline {
	return &Pipeline{
		norm:     norm,
		stt:      stt,
		sum:      sum,
		store:    store,
		eventsCh: make(chan Event, 32),
		now:      time.Now,
	}
}

// Events returns the channel of finalization events.
func (p *Pipeline) Events() <-chan Event { return p.eventsCh }

// Finalize implements session.Finalizer. Normalization never fails;
// transcription failure is terminal for the session but still closes it;
// summarization always produces text (fallback path has no dependencies).
func (p *Pipeline) Finalize(ctx context.Context, snap session.Snapshot) (session.Outcome, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline_finalize")
	defer span.End()
	span.SetAttr("subject_key", snap.SubjectKey)
	log := trace.Logger(ctx)

	outcome := session.Outcome{Participants: snap.Participants}

	raw := audio.MergeChunks(snap.Chunks)
	wav, converted := p.norm.Normalize(ctx, raw, "")
	span.SetAttr("converted", converted)
	span.SetAttr("audio_bytes", len(wav))

	result, err := p.stt.Transcribe(ctx, wav)
	if err != nil {
		outcome.FailureReason = err.Error()
		p.emit(eventFromOutcome(snap, outcome))
		return outcome, errors.Wrap(err, errors.CodeOf(err), "transcribing session audio")
	}
	outcome.Transcript = result.Text
	if result.IsEmpty {
		log.Info("no speech detected in session", "subject_key", snap.SubjectKey)
	}

	summary := p.sum.Summarize(ctx, p.buildRequest(snap, result.Text))
	outcome.Summary = summary.Text
	outcome.SummarySource = string(summary.Source)
	span.SetAttr("summary_source", summary.Source)

	if err := p.persist(ctx, snap.Participants, summary.Text); err != nil {
		outcome.FailureReason = err.Error()
		p.emit(eventFromOutcome(snap, outcome))
		return outcome, err
	}

	log.Info("session summarized",
		"subject_key", snap.SubjectKey,
		"participants", len(snap.Participants),
		"source", summary.Source)
	p.emit(eventFromOutcome(snap, outcome))
	return outcome, nil
}

// buildRequest gathers visitor context from the store. Unknown ids fall back
// to the raw id as the display name.
func (p *Pipeline) buildRequest(snap session.Snapshot, transcript string) summarize.Request {
	req := summarize.Request{Transcript: transcript}

	for _, id := range snap.Participants {
		if person, ok := p.store.GetPerson(id); ok && person.Name != "" {
			req.Names = append(req.Names, person.Name)
		} else {
			req.Names = append(req.Names, id)
		}
	}

	if len(snap.Participants) == 1 {
		if person, ok := p.store.GetPerson(snap.Participants[0]); ok {
			req.Relation = person.Relationship
			req.LastVisit = person.LastVisit
			req.LastSummary = person.LastSummary
		}
	}
	return req
}

// persist upserts the summary for every participant. Group sessions write
// the identical summary to each profile; speaker-level attribution needs
// diarization the identification service does not provide.
func (p *Pipeline) persist(ctx context.Context, participants []string, summary string) error {
	ts := p.now()
	g, _ := errgroup.WithContext(ctx)
	for _, id := range participants {
		id := id
		g.Go(func() error {
			if err := p.store.UpsertSummary(id, summary, ts); err != nil {
				return errors.Wrapf(err, errors.CodeStoreFailed, "persisting summary for %s", id)
			}
			return nil
		})
	}
	return g.Wait()
}

// emit publishes a finalization event without blocking the pipeline.
func (p *Pipeline) emit(evt Event) {
	select {
	case p.eventsCh <- evt:
	default:
	}
}

func eventFromOutcome(snap session.Snapshot, o session.Outcome) Event {
	return Event{
		SubjectKey:   snap.SubjectKey,
		Participants: o.Participants,
		Transcript:   o.Transcript,
		Summary:      o.Summary,
		Source:       o.SummarySource,
		Failure:      o.FailureReason,
	}
}
