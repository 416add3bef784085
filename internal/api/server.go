// Package api exposes the pipeline controller over HTTP and websockets.
//
// Routes:
//
//	POST /v1/transcript      submit typed text in place of speech
//	POST /v1/stop            stop the active session
//	GET  /v1/state           controller state and the active session
//	GET  /v1/sessions        recently archived sessions
//	GET  /v1/sessions/{id}   one session, active or archived
//	GET  /v1/events          websocket stream of transitions and replies
//	GET  /v1/audio           websocket microphone input and speech output
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxcal/internal/archive"
	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/audio/wsource"
)

const (
	maxBodyBytes       = 64 << 10
	defaultRecentLimit = 20
	maxRecentLimit     = 200
	eventWriteTimeout  = 5 * time.Second
)

// Controller is the part of [pipeline.Controller] the API drives.
type Controller interface {
	SubmitTranscriptOverride(text string) error
	Stop() bool
	State() pipeline.State
	Current() (pipeline.Session, bool)
	SessionState(id string) (pipeline.Session, bool)
	VoiceEnabled() bool
	Sensitivity() float64
}

var _ Controller = (*pipeline.Controller)(nil)

// Server serves the command surface. Create it with [New].
type Server struct {
	ctrl    Controller
	store   archive.Store
	events  *Broadcaster
	hub     *wsource.Hub
	origins []string
}

// Option configures a [Server].
type Option func(*Server)

// WithArchive serves archived sessions from store.
func WithArchive(store archive.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithEvents serves the /v1/events stream from b.
func WithEvents(b *Broadcaster) Option {
	return func(s *Server) { s.events = b }
}

// WithAudioHub serves /v1/audio through hub.
func WithAudioHub(hub *wsource.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithOriginPatterns allows websocket connections from other origins.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// New returns a server driving ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{ctrl: ctrl}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the API routes to mux. The websocket routes are only added
// when their backing component was configured.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/transcript", s.handleTranscript)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/sessions", s.handleRecent)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSession)
	if s.events != nil {
		mux.HandleFunc("GET /v1/events", s.handleEvents)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /v1/audio", s.handleAudio)
	}
}

// Handler returns a mux with only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// transcriptRequest is the JSON body for POST /v1/transcript.
type transcriptRequest struct {
	Text string `json:"text"`
}

// StateResponse describes the controller.
type StateResponse struct {
	State        pipeline.State    `json:"state"`
	VoiceEnabled bool              `json:"voice_enabled"`
	Sensitivity  float64           `json:"sensitivity"`
	Session      *pipeline.Session `json:"session,omitempty"`
}

// sessionResponse is the body of GET /v1/sessions/{id}.
type sessionResponse struct {
	Active  bool              `json:"active"`
	Session *pipeline.Session `json:"session,omitempty"`
	Record  *archive.Record   `json:"record,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleTranscript handles POST /v1/transcript.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch err := s.ctrl.SubmitTranscriptOverride(req.Text); {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.snapshot())
	case errors.Is(err, pipeline.ErrEmptyTranscript):
		writeError(w, http.StatusBadRequest, "text is required")
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, "session is busy; try again when it is listening")
	case errors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "pipeline is shutting down")
	default:
		slog.Error("api: transcript override failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleStop handles POST /v1/stop.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	stopped := s.ctrl.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// handleState handles GET /v1/state.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() StateResponse {
	res := StateResponse{
		State:        s.ctrl.State(),
		VoiceEnabled: s.ctrl.VoiceEnabled(),
		Sensitivity:  s.ctrl.Sensitivity(),
	}
	if sess, ok := s.ctrl.Current(); ok {
		res.Session = &sess
	}
	return res
}

// handleSession handles GET /v1/sessions/{id}.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.ctrl.SessionState(id); ok {
		writeJSON(w, http.StatusOK, sessionResponse{Active: true, Session: &sess})
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		slog.Error("api: archive lookup failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Record: rec})
}

// handleRecent handles GET /v1/sessions?limit=n.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []archive.Record{})
		return
	}
	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("api: archive listing failed", "err", err)
		writeError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	if recs == nil {
		recs = []archive.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleEvents handles GET /v1/events. The first message is a state
// snapshot; transitions and replies follow as they happen.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		return
	}
	defer conn.CloseNow()

	msgs, cancel := s.events.Subscribe()
	defer cancel()

	// Clients never send; CloseRead handles control frames and reports
	// disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	snap := s.snapshot()
	if err := writeMessage(ctx, conn, Message{Type: TypeState, State: &snap}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeMessage(ctx, conn, m); err != nil {
				slog.Debug("api: event client write failed", "err", err)
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}

// handleAudio handles GET /v1/audio. The stream format is taken from the
// query string (codec, rate, channels).
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	format, err := wsource.ParseStreamFormat(r.URL.Query().Get)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		return
	}
	if err := s.hub.Serve(r.Context(), conn, format); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("api: audio client ended", "err", err)
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.origins) == 0 {
		return nil
	}
	return &websocket.AcceptOptions{OriginPatterns: s.origins}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
