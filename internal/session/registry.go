package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hearthside/keepsake/internal/errors"
	"github.com/hearthside/keepsake/internal/syncx"
	"github.com/hearthside/keepsake/internal/trace"
)

// Finalizer runs the downstream chain (normalize, transcribe, summarize,
// persist) for an ended session. It returns the outcome; a returned error is
// recorded as the session's failure reason but still closes the session.
type Finalizer func(ctx context.Context, snap Snapshot) (Outcome, error)

// Config holds registry timing settings.
type Config struct {
	IdleTimeout        time.Duration // auto-end after inactivity
	MaxDuration        time.Duration // auto-end regardless of activity
	HousekeepInterval  time.Duration
	MaxConcurrentFinal int64
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 15 * time.Minute
	}
	if c.HousekeepInterval <= 0 {
		c.HousekeepInterval = 10 * time.Second
	}
	if c.MaxConcurrentFinal <= 0 {
		c.MaxConcurrentFinal = 4
	}
	return c
}

type registryState struct {
	// sessions holds only non-Closed sessions; a closed session's key is
	// immediately reusable.
	sessions map[string]*Session
	// holders maps each participant id to the subject key of the open
	// session covering it, enforcing the no-overlap invariant.
	holders map[string]string
}

// Registry owns all open sessions, keyed by canonical subject key. It is an
// explicit instance (no package globals) so tests can run several
// independently.
type Registry struct {
	cfg      Config
	finalize Finalizer
	now      func() time.Time

	state  *syncx.RWGuard[registryState]
	sem    *semaphore.Weighted
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRegistry creates a session registry with the given finalizer.
func NewRegistry(cfg Config, finalize Finalizer) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:      cfg,
		finalize: finalize,
		now:      time.Now,
		state: syncx.NewGuard(registryState{
			sessions: make(map[string]*Session),
			holders:  make(map[string]string),
		}),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentFinal),
		stopCh: make(chan struct{}),
	}
}

// Start opens a session for the participant set. Starting an already-open
// subject key is a no-op that refreshes the activity clock, so a client
// retrying an ambiguous call cannot create duplicate sessions. A participant
// already covered by a different open session is a conflict; an active group
// session takes precedence over a new single-person one.
func (r *Registry) Start(participants []string) (string, error) {
	key := CanonicalKey(participants)
	if key == "" {
		return "", errors.New(errors.CodeInvalidArgument, "no participants")
	}
	ids := SplitKey(key)
	now := r.now()

	var existing *Session
	var conflict string

	r.state.Write(func(st *registryState) {
		if s, ok := st.sessions[key]; ok {
			existing = s
			return
		}
		for _, id := range ids {
			if holder, ok := st.holders[id]; ok && holder != key {
				conflict = holder
				return
			}
		}
		s := newSession(key, ids, now)
		st.sessions[key] = s
		for _, id := range ids {
			st.holders[id] = key
		}
	})

	if existing != nil {
		existing.touch(now)
		return key, nil
	}
	if conflict != "" {
		return "", errors.Newf(errors.CodeSessionConflict,
			"participant already in open session %q", conflict)
	}

	trace.Logger(context.Background()).Info("session started", "subject_key", key, "participants", len(ids))
	return key, nil
}

// AddChunk appends an audio chunk to the open session for the subject key.
// seq, when supplied, must be strictly monotonic per session; exact repeats
// are deduplicated. Never blocks on I/O.
func (r *Registry) AddChunk(subjectKey string, chunk []byte, seq *uint64) error {
	s := r.lookup(subjectKey)
	if s == nil {
		return errors.Newf(errors.CodeSessionNotFound, "no open session for %q", subjectKey)
	}

	_, recording := s.append(chunk, seq, r.now())
	if !recording {
		return errors.Newf(errors.CodeSessionEnded, "session for %q is ending", subjectKey)
	}
	return nil
}

// End transitions the session to Ending and runs the finalizer off the
// caller's critical path. The returned session's Done channel reports when
// the outcome (success or recorded failure) is available; the session is
// Closed either way so the subject can start a new one.
func (r *Registry) End(subjectKey string) (*Session, error) {
	key := CanonicalKey(SplitKey(subjectKey))
	s := r.lookup(key)
	if s == nil {
		return nil, errors.Newf(errors.CodeSessionNotFound, "no open session for %q", key)
	}

	snap, ok := s.beginEnding(r.now())
	if !ok {
		// Already ending: idempotent, the caller can still wait on Done.
		return s, nil
	}

	r.wg.Add(1)
	go r.runFinalizer(s, snap)
	return s, nil
}

// Status returns a read-only view of the session. It never mutates state.
func (r *Registry) Status(subjectKey string) (Status, error) {
	key := CanonicalKey(SplitKey(subjectKey))
	s := r.lookup(key)
	if s == nil {
		return Status{}, errors.Newf(errors.CodeSessionNotFound, "no open session for %q", key)
	}
	return s.status(r.now()), nil
}

// ActiveSessions returns the status of every open session.
func (r *Registry) ActiveSessions() []Status {
	now := r.now()
	var out []Status
	r.state.Read(func(st registryState) any {
		for _, s := range st.sessions {
			out = append(out, s.status(now))
		}
		return nil
	})
	return out
}

func (r *Registry) lookup(key string) *Session {
	var s *Session
	r.state.Read(func(st registryState) any {
		s = st.sessions[key]
		return nil
	})
	return s
}

// runFinalizer executes the downstream chain for an ended session. There is
// no mid-flight cancellation: a session auto-closed by timeout still runs on
// whatever was buffered, partial results beat lost visits.
func (r *Registry) runFinalizer(s *Session, snap Snapshot) {
	defer r.wg.Done()

	ctx, span := trace.StartSpan(context.Background(), "session_finalize")
	defer span.End()
	span.SetAttr("subject_key", snap.SubjectKey)
	span.SetAttr("chunks", len(snap.Chunks))
	log := trace.Logger(ctx)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.closeSession(s, Outcome{Participants: snap.Participants, FailureReason: err.Error()})
		return
	}
	defer r.sem.Release(1)

	outcome, err := r.finalize(ctx, snap)
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Error("session finalization failed", "subject_key", snap.SubjectKey, "error", err)
		if outcome.FailureReason == "" {
			outcome.FailureReason = err.Error()
		}
	}
	if len(outcome.Participants) == 0 {
		outcome.Participants = snap.Participants
	}

	r.closeSession(s, outcome)
	log.Info("session closed",
		"subject_key", snap.SubjectKey,
		"duration", snap.Elapsed,
		"failure", outcome.FailureReason != "")
}

// closeSession marks the session Closed and frees its key and participants.
func (r *Registry) closeSession(s *Session, outcome Outcome) {
	s.close(outcome)
	r.state.Write(func(st *registryState) {
		key := s.subjectKey
		if st.sessions[key] == s {
			delete(st.sessions, key)
			for _, id := range SplitKey(key) {
				if st.holders[id] == key {
					delete(st.holders, id)
				}
			}
		}
	})
}

// Run drives housekeeping until ctx is cancelled or Stop is called:
// sessions idle past the timeout, or open past the max duration, are ended
// exactly as if End had been called.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HousekeepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Housekeep()
		}
	}
}

// Housekeep ends every expired session. Exposed for tests and for callers
// that drive their own schedule.
func (r *Registry) Housekeep() {
	now := r.now()

	var expired []string
	r.state.Read(func(st registryState) any {
		for key, s := range st.sessions {
			if s.expired(now, r.cfg.IdleTimeout, r.cfg.MaxDuration) {
				expired = append(expired, key)
			}
		}
		return nil
	})

	for _, key := range expired {
		trace.Logger(context.Background()).Info("session timed out, auto-ending", "subject_key", key)
		if _, err := r.End(key); err != nil && !errors.IsCode(err, errors.CodeSessionNotFound) {
			trace.Logger(context.Background()).Warn("auto-end failed", "subject_key", key, "error", err)
		}
	}
}

// Stop halts housekeeping and waits for in-flight finalizations.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
