// Package server provides the HTTP and WebSocket control surface consumed
// by the caregiving client.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/hearthside/keepsake/internal/errors"
	"github.com/hearthside/keepsake/internal/memstore"
	"github.com/hearthside/keepsake/internal/pipeline"
	"github.com/hearthside/keepsake/internal/session"
	"github.com/hearthside/keepsake/internal/trace"
	"github.com/hearthside/keepsake/internal/vision"
)

// maxChunkBytes bounds a single uploaded audio chunk.
const maxChunkBytes = 8 << 20

// maxFrameBytes bounds a single uploaded camera frame.
const maxFrameBytes = 4 << 20

// Per-connection WebSocket message budget.
const (
	wsRateLimit = rate.Limit(10) // messages per second
	wsRateBurst = 20
)

// wsWriteTimeout bounds a single broadcast write so a stalled client cannot
// pin goroutines for the process lifetime.
const wsWriteTimeout = 5 * time.Second

// Server handles HTTP and WebSocket connections.
type Server struct {
	registry     *session.Registry
	store        *memstore.Store
	watcher      *vision.Watcher
	endWait      time.Duration
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[*websocket.Conn]*rate.Limiter
}

// New creates a server and starts broadcasting pipeline events to connected
// clients.
func New(registry *session.Registry, store *memstore.Store, watcher *vision.Watcher, events <-chan pipeline.Event, endWait time.Duration) *Server {
	if endWait <= 0 {
		endWait = 20 * time.Second
	}
	s := &Server{
		registry:     registry,
		store:        store,
		watcher:      watcher,
		endWait:      endWait,
		writeTimeout: wsWriteTimeout,
		conns:        make(map[*websocket.Conn]*rate.Limiter),
	}
	go s.broadcastEvents(events)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/sessions/{key}/start", s.handleStart)
	mux.HandleFunc("POST /api/sessions/{key}/chunks", s.handleChunks)
	mux.HandleFunc("POST /api/sessions/{key}/end", s.handleEnd)
	mux.HandleFunc("GET /api/sessions/{key}", s.handleStatus)
	mux.HandleFunc("GET /api/sessions", s.handleActiveSessions)

	mux.HandleFunc("GET /api/people", s.handlePeople)
	mux.HandleFunc("GET /api/people/{id}/summary", s.handleLastSummary)
	mux.HandleFunc("POST /api/people/{id}", s.handleEnsurePerson)

	mux.HandleFunc("POST /api/frames", s.handleFrames)

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type startRequest struct {
	Participants []string `json:"participants"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req startRequest
	if r.Body != nil {
		// Body is optional; a bare start uses the key as the participant set.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	participants := req.Participants
	if len(participants) == 0 {
		participants = session.SplitKey(key)
	}

	started, err := s.registry.Start(participants)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subject_key": started, "state": session.StateRecording.String()})
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	data, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes+1))
	if err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidArgument, "reading chunk body"))
		return
	}
	if len(data) == 0 {
		writeError(w, r, errors.New(errors.CodeInvalidArgument, "empty chunk"))
		return
	}
	if len(data) > maxChunkBytes {
		writeError(w, r, errors.New(errors.CodeInvalidArgument, "chunk too large"))
		return
	}

	var seq *uint64
	if raw := r.URL.Query().Get("seq"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, errors.New(errors.CodeInvalidArgument, "seq must be a non-negative integer"))
			return
		}
		seq = &n
	}

	if err := s.registry.AddChunk(key, data, seq); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "buffered"})
}

type endResponse struct {
	State        string   `json:"state"`
	Summary      string   `json:"summary,omitempty"`
	Source       string   `json:"source,omitempty"`
	Participants []string `json:"participants"`
	Failure      string   `json:"failure,omitempty"`
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	sess, err := s.registry.End(key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Wait briefly for the pipeline; slow finalizations detach and clients
	// observe the result via the WebSocket event or the person profile.
	select {
	case <-sess.Done():
		o := sess.Outcome()
		writeJSON(w, http.StatusOK, endResponse{
			State:        session.StateClosed.String(),
			Summary:      o.Summary,
			Source:       o.SummarySource,
			Participants: o.Participants,
			Failure:      o.FailureReason,
		})
	case <-time.After(s.endWait):
		writeJSON(w, http.StatusAccepted, endResponse{
			State:        session.StateEnding.String(),
			Participants: session.SplitKey(key),
		})
	case <-r.Context().Done():
	}
}

type statusResponse struct {
	SessionID    string   `json:"session_id"`
	State        string   `json:"state"`
	Participants []string `json:"participants"`
	DurationMs   int64    `json:"duration_ms"`
	ChunkCount   int      `json:"chunk_count"`
	BufferedSize int      `json:"buffered_bytes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.registry.Status(r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	active := s.registry.ActiveSessions()
	out := make([]statusResponse, 0, len(active))
	for _, st := range active {
		out = append(out, toStatusResponse(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func toStatusResponse(st session.Status) statusResponse {
	return statusResponse{
		SessionID:    st.SessionID,
		State:        st.State.String(),
		Participants: st.Participants,
		DurationMs:   st.Elapsed.Milliseconds(),
		ChunkCount:   st.ChunkCount,
		BufferedSize: st.BufferedSize,
	}
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"people": s.store.ListPeople()})
}

func (s *Server) handleLastSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]string{
		"person_id": id,
		"summary":   s.store.GetLastSummary(id),
	})
}

type ensurePersonRequest struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
}

func (s *Server) handleEnsurePerson(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ensurePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(err, errors.CodeInvalidArgument, "decoding person body"))
		return
	}
	if req.Name == "" {
		writeError(w, r, errors.New(errors.CodeInvalidArgument, "name is required"))
		return
	}
	if err := s.store.EnsurePerson(id, req.Name, req.Relationship); err != nil {
		writeError(w, r, err)
		return
	}
	person, _ := s.store.GetPerson(id)
	writeJSON(w, http.StatusOK, person)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		writeError(w, r, errors.New(errors.CodeUnavailable, "identification not configured"))
		return
	}

	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil || len(frame) == 0 {
		writeError(w, r, errors.New(errors.CodeInvalidArgument, "missing frame body"))
		return
	}

	detections, err := s.watcher.ProcessFrame(r.Context(), frame)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if detections == nil {
		detections = []vision.Detection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"detections": detections})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps AppError codes to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := errors.CodeInternal
	if appErr, ok := err.(*errors.AppError); ok {
		status = appErr.HTTPStatus()
		code = appErr.Code
	}
	trace.Logger(r.Context()).Warn("request failed", "path", r.URL.Path, "code", code, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(code)})
}

// WebSocket side: clients connect to receive transcript/summary events.

type wsEnvelope struct {
	Type string `json:"type"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	limiter := rate.NewLimiter(wsRateLimit, wsRateBurst)
	s.mu.Lock()
	s.conns[conn] = limiter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !limiter.Allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, map[string]string{"type": "error", "message": "rate limit exceeded"})
			continue
		}

		var base wsEnvelope
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "status":
			active := s.registry.ActiveSessions()
			out := make([]statusResponse, 0, len(active))
			for _, st := range active {
				out = append(out, toStatusResponse(st))
			}
			_ = wsjson.Write(ctx, conn, map[string]any{"type": "status", "sessions": out})
		case "ping":
			_ = wsjson.Write(ctx, conn, map[string]string{"type": "pong"})
		}
	}
}

type eventMessage struct {
	Type string `json:"type"`
	pipeline.Event
}

// broadcastEvents fans pipeline events out to every connected client. Each
// write gets a deadline; a client that cannot keep up is disconnected instead
// of accumulating blocked goroutines.
func (s *Server) broadcastEvents(events <-chan pipeline.Event) {
	for evt := range events {
		msg := eventMessage{Type: "memory", Event: evt}

		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn) {
				ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
				defer cancel()
				if err := wsjson.Write(ctx, c, msg); err != nil {
					_ = c.Close(websocket.StatusPolicyViolation, "write timeout")
				}
			}(conn)
		}
		s.mu.RUnlock()
	}
}
