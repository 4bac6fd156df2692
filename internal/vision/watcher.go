package vision

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // frames arrive as JPEG
	_ "image/png"
	"sync"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/hearthside/keepsake/internal/session"
	"github.com/hearthside/keepsake/internal/trace"
)

// hashDistanceThreshold below which two frames count as the same scene.
const hashDistanceThreshold = 4

// hashWidth frames are downscaled to before hashing.
const hashWidth = 64

// SessionControl is the slice of the session registry the watcher drives.
type SessionControl interface {
	Start(participants []string) (string, error)
	End(subjectKey string) (*session.Session, error)
}

// Watcher receives camera frames at the caller's polling cadence (~1.5s),
// skips near-duplicate frames via perceptual hashing, and, when auto
// sessions are enabled, opens a session for the present visitor set and
// closes it once they have been absent for a few consecutive frames.
type Watcher struct {
	ident        Identifier
	sessions     SessionControl
	autoSessions bool
	absentLimit  int

	mu          sync.Mutex
	lastHash    *goimagehash.ImageHash
	lastResult  []Detection
	currentKey  string
	absentCount int
}

// NewWatcher creates a frame watcher.
func NewWatcher(ident Identifier, sessions SessionControl, autoSessions bool, absentLimit int) *Watcher {
	if absentLimit <= 0 {
		absentLimit = 4
	}
	return &Watcher{
		ident:        ident,
		sessions:     sessions,
		autoSessions: autoSessions,
		absentLimit:  absentLimit,
	}
}

// ProcessFrame identifies visitors in the frame and updates presence-driven
// session state. A frame perceptually identical to the previous one returns
// the cached detections without another identify round trip.
func (w *Watcher) ProcessFrame(ctx context.Context, frame []byte) ([]Detection, error) {
	ctx, span := trace.StartSpan(ctx, "process_frame")
	defer span.End()
	log := trace.Logger(ctx)

	if hash, ok := hashFrame(frame); ok {
		w.mu.Lock()
		last := w.lastHash
		cached := w.lastResult
		w.mu.Unlock()

		if last != nil {
			if dist, err := hash.Distance(last); err == nil && dist <= hashDistanceThreshold {
				span.SetAttr("deduped", true)
				return cached, nil
			}
		}
		defer func() {
			w.mu.Lock()
			w.lastHash = hash
			w.mu.Unlock()
		}()
	}

	detections, err := w.ident.Identify(ctx, frame)
	if err != nil {
		log.Warn("identify failed", "error", err)
		return nil, err
	}
	span.SetAttr("detections", len(detections))

	w.mu.Lock()
	w.lastResult = detections
	w.mu.Unlock()

	if w.autoSessions {
		w.updatePresence(ctx, detections)
	}
	return detections, nil
}

// updatePresence opens/refreshes the session covering the known visitors in
// view and ends it after absentLimit consecutive frames without them.
func (w *Watcher) updatePresence(ctx context.Context, detections []Detection) {
	var ids []string
	for _, d := range detections {
		if d.Known && d.SubjectID != "" {
			ids = append(ids, d.SubjectID)
		}
	}
	log := trace.Logger(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(ids) == 0 {
		if w.currentKey == "" {
			return
		}
		w.absentCount++
		if w.absentCount < w.absentLimit {
			return
		}
		if _, err := w.sessions.End(w.currentKey); err != nil {
			log.Warn("ending session on absence failed", "subject_key", w.currentKey, "error", err)
		}
		w.currentKey = ""
		w.absentCount = 0
		return
	}

	w.absentCount = 0
	key := session.CanonicalKey(ids)
	if key == w.currentKey {
		// Refresh the activity clock so housekeeping keeps the session open.
		_, _ = w.sessions.Start(ids)
		return
	}

	// Visitor set changed: close the previous window before opening the new
	// one so group precedence holds.
	if w.currentKey != "" {
		if _, err := w.sessions.End(w.currentKey); err != nil {
			log.Warn("ending superseded session failed", "subject_key", w.currentKey, "error", err)
		}
		w.currentKey = ""
	}

	started, err := w.sessions.Start(ids)
	if err != nil {
		log.Warn("starting session for visitors failed", "error", err)
		return
	}
	w.currentKey = started
}

// hashFrame decodes and downscales the frame, returning its difference hash.
// Undecodable frames simply skip deduplication.
func hashFrame(frame []byte) (*goimagehash.ImageHash, bool) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, false
	}
	small := resize.Resize(hashWidth, 0, img, resize.Bilinear)
	hash, err := goimagehash.DifferenceHash(small)
	if err != nil {
		return nil, false
	}
	return hash, true
}
