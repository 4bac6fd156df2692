// Package session manages per-subject conversation recording sessions.
//
// A session accumulates audio chunks while a visit is being recorded and is
// finalized (normalize, transcribe, summarize, persist) exactly once, on an
// explicit end call or by idle-timeout housekeeping.
package session

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State of a recording session.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateEnding
	StateClosed
)

func (s State) String() string {
	return [...]string{"idle", "recording", "ending", "closed"}[s]
}

// CanonicalKey derives the subject key for a participant set: sorted unique
// ids joined with "+", so the same group maps to the same session key
// regardless of detection order.
func CanonicalKey(participants []string) string {
	seen := make(map[string]bool, len(participants))
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ids = append(ids, p)
	}
	sort.Strings(ids)
	return strings.Join(ids, "+")
}

// SplitKey returns the participant ids encoded in a subject key.
func SplitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, "+")
}

// Outcome is the terminal result of a session's downstream pipeline.
type Outcome struct {
	Transcript    string
	Summary       string
	SummarySource string
	Participants  []string
	FailureReason string // empty on success
}

// Status is a read-only view of a session for monitoring.
type Status struct {
	SessionID    string
	SubjectKey   string
	State        State
	Participants []string
	Elapsed      time.Duration
	ChunkCount   int
	BufferedSize int
}

// Snapshot carries everything the finalizer needs from a session.
type Snapshot struct {
	SessionID    string
	SubjectKey   string
	Participants []string
	Chunks       [][]byte
	OpenedAt     time.Time
	Elapsed      time.Duration
}

type chunkRec struct {
	data []byte
	seq  uint64
	// seqSet distinguishes "no sequence supplied" from sequence zero.
	seqSet bool
}

// Session is one open recording window. All fields are guarded by mu; the
// registry serializes state transitions per subject key.
type Session struct {
	mu sync.Mutex

	id           string
	subjectKey   string
	participants []string
	state        State
	chunks       []chunkRec
	seenSeq      map[uint64]bool
	bufferedSize int
	openedAt     time.Time
	lastActivity time.Time

	// done is closed once finalization completes and outcome is set.
	done    chan struct{}
	outcome Outcome
}

func newSession(subjectKey string, participants []string, now time.Time) *Session {
	return &Session{
		id:           uuid.NewString(),
		subjectKey:   subjectKey,
		participants: append([]string(nil), participants...),
		state:        StateRecording,
		seenSeq:      make(map[uint64]bool),
		openedAt:     now,
		lastActivity: now,
		done:         make(chan struct{}),
	}
}

// touch refreshes the activity clock.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// append adds a chunk in arrival order. When a sequence number is supplied,
// an exact duplicate is silently ignored so network retries cannot double
// audio. Returns false if the session no longer accepts chunks.
func (s *Session) append(data []byte, seq *uint64, now time.Time) (accepted bool, recording bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return false, false
	}
	s.lastActivity = now

	if seq != nil {
		if s.seenSeq[*seq] {
			return false, true
		}
		s.seenSeq[*seq] = true
	}

	rec := chunkRec{data: data}
	if seq != nil {
		rec.seq = *seq
		rec.seqSet = true
	}
	s.chunks = append(s.chunks, rec)
	s.bufferedSize += len(data)
	return true, true
}

// beginEnding transitions Recording -> Ending and returns the snapshot the
// finalizer will process. Chunks are ordered by arrival, or by sequence
// number when the caller supplied one.
func (s *Session) beginEnding(now time.Time) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return Snapshot{}, false
	}
	s.state = StateEnding
	s.lastActivity = now

	recs := s.chunks
	if len(s.seenSeq) > 0 {
		recs = append([]chunkRec(nil), s.chunks...)
		// Sequenced chunks sort by sequence; unsequenced ones keep arrival
		// order after them. Comparing mixed pairs by seqSet keeps the order
		// total, so a session mixing both modes stays deterministic.
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].seqSet != recs[j].seqSet {
				return recs[i].seqSet
			}
			return recs[i].seqSet && recs[i].seq < recs[j].seq
		})
	}

	chunks := make([][]byte, len(recs))
	for i, r := range recs {
		chunks[i] = r.data
	}

	return Snapshot{
		SessionID:    s.id,
		SubjectKey:   s.subjectKey,
		Participants: append([]string(nil), s.participants...),
		Chunks:       chunks,
		OpenedAt:     s.openedAt,
		Elapsed:      now.Sub(s.openedAt),
	}, true
}

// close marks the session terminal and publishes the outcome.
func (s *Session) close(outcome Outcome) {
	s.mu.Lock()
	s.state = StateClosed
	s.outcome = outcome
	s.chunks = nil
	s.bufferedSize = 0
	s.mu.Unlock()
	close(s.done)
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns the terminal outcome; valid once Done is closed.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) status(now time.Time) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SessionID:    s.id,
		SubjectKey:   s.subjectKey,
		State:        s.state,
		Participants: append([]string(nil), s.participants...),
		Elapsed:      now.Sub(s.openedAt),
		ChunkCount:   len(s.chunks),
		BufferedSize: s.bufferedSize,
	}
}

func (s *Session) expired(now time.Time, idle, maxDur time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return false
	}
	if idle > 0 && now.Sub(s.lastActivity) > idle {
		return true
	}
	if maxDur > 0 && now.Sub(s.openedAt) > maxDur {
		return true
	}
	return false
}
