package viewapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/mcdev12/codearena/go/clients/arena_api_client"
	"github.com/mcdev12/codearena/go/internal/arena/match"
)

var ErrClosed = errors.New("view handler closed")

// MatchSession is what the view layer may do with a mounted arena
type MatchSession interface {
	Snapshot() match.View
	Profile() *arena_api_client.Profile
	TrySubmit(ctx context.Context, code, language string) (match.SubmitResult, error)
	Teardown()
}

// SessionFactory mounts a live session for an arena
type SessionFactory func(ctx context.Context, arenaID string) (MatchSession, error)

// Deps wires the handler to its collaborators. Directory and Queue are optional;
// their routes are only registered when set.
type Deps struct {
	Factory   SessionFactory
	Directory Directory
	Queue     Queue
	UserID    string
}

// Handler bridges HTTP requests from a local UI to match sessions
type Handler struct {
	factory   SessionFactory
	directory Directory
	queue     Queue
	userID    string
	stats     func() map[string]interface{}

	mounts singleflight.Group

	mu       sync.Mutex
	sessions map[string]MatchSession
	closed   bool
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		factory:   deps.Factory,
		directory: deps.Directory,
		queue:     deps.Queue,
		userID:    deps.UserID,
		sessions:  make(map[string]MatchSession),
	}
}

// SetStatsProvider exposes fn under GET /info. Call before RegisterRoutes.
func (h *Handler) SetStatsProvider(fn func() map[string]interface{}) {
	h.stats = fn
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/arenas/{id}/session", h.handleMount)
	mux.HandleFunc("GET /api/arenas/{id}/session", h.handleGetSession)
	mux.HandleFunc("DELETE /api/arenas/{id}/session", h.handleUnmount)
	mux.HandleFunc("POST /api/arenas/{id}/submit", h.handleSubmit)

	if h.directory != nil {
		mux.HandleFunc("GET /api/arenas", h.handleListArenas)
		mux.HandleFunc("POST /api/arenas/{id}/join", h.handleJoinArena)
		mux.HandleFunc("GET /api/leaderboard", h.handleLeaderboard)
		mux.HandleFunc("GET /api/profile", h.handleProfile)
	}
	if h.queue != nil {
		mux.HandleFunc("GET /api/queue", h.handleGetQueue)
		mux.HandleFunc("POST /api/queue", h.handleEnqueue)
		mux.HandleFunc("DELETE /api/queue", h.handleLeaveQueue)
		mux.HandleFunc("POST /api/queue/quick-match", h.handleQuickMatch)
	}
	if h.stats != nil {
		mux.HandleFunc("GET /info", h.handleInfo)
	}
}

type mountResult struct {
	session MatchSession
	created bool
}

// Mount opens a session for arenaID unless one is already open. Concurrent mounts of
// the same arena share one factory call; other arenas are never blocked by it.
func (h *Handler) Mount(ctx context.Context, arenaID string) (MatchSession, bool, error) {
	if s, ok := h.session(arenaID); ok {
		return s, false, nil
	}

	v, err, _ := h.mounts.Do(arenaID, func() (interface{}, error) {
		if s, ok := h.session(arenaID); ok {
			return mountResult{session: s}, nil
		}

		s, err := h.factory(ctx, arenaID)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			s.Teardown()
			return nil, ErrClosed
		}
		h.sessions[arenaID] = s
		h.mu.Unlock()
		return mountResult{session: s, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(mountResult)
	return res.session, res.created, nil
}

// Unmount tears the session down; it reports whether one was open
func (h *Handler) Unmount(arenaID string) bool {
	h.mu.Lock()
	s, ok := h.sessions[arenaID]
	delete(h.sessions, arenaID)
	h.mu.Unlock()

	if ok {
		s.Teardown()
	}
	return ok
}

// Close tears down every mounted session. Mounts still in flight are torn down as
// they complete.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]MatchSession)
	h.mu.Unlock()

	for id, s := range sessions {
		s.Teardown()
		log.Debug().Str("arena_id", id).Msg("session unmounted on shutdown")
	}
}

func (h *Handler) session(arenaID string) (MatchSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[arenaID]
	return s, ok
}

type sessionResponse struct {
	match.View
	Profile *arena_api_client.Profile `json:"profile,omitempty"`
}

func sessionView(s MatchSession) sessionResponse {
	return sessionResponse{View: s.Snapshot(), Profile: s.Profile()}
}

// handleMount handles POST /api/arenas/{id}/session
func (h *Handler) handleMount(w http.ResponseWriter, r *http.Request) {
	h.mountAndRespond(w, r, r.PathValue("id"))
}

func (h *Handler) mountAndRespond(w http.ResponseWriter, r *http.Request, arenaID string) {
	s, created, err := h.Mount(r.Context(), arenaID)
	if err != nil {
		log.Error().Err(err).Str("arena_id", arenaID).Msg("failed to mount session")
		writeError(w, http.StatusBadGateway, "Failed to open arena session")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sessionView(s))
}

// handleGetSession handles GET /api/arenas/{id}/session
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Arena session not mounted")
		return
	}
	writeJSON(w, http.StatusOK, sessionView(s))
}

// handleUnmount handles DELETE /api/arenas/{id}/session
func (h *Handler) handleUnmount(w http.ResponseWriter, r *http.Request) {
	if !h.Unmount(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "Arena session not mounted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type submitResponse struct {
	Status       match.SubmitStatus `json:"status"`
	Reason       string             `json:"reason,omitempty"`
	CompletionMs int64              `json:"completion_ms,omitempty"`
	Score        int                `json:"score"`
	Results      []match.TestReport `json:"results,omitempty"`
}

// handleSubmit handles POST /api/arenas/{id}/submit
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	arenaID := r.PathValue("id")
	s, ok := h.session(arenaID)
	if !ok {
		writeError(w, http.StatusNotFound, "Arena session not mounted")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Code is required")
		return
	}

	res, err := s.TrySubmit(r.Context(), req.Code, req.Language)
	resp := submitResponse{
		Status:       res.Status,
		CompletionMs: res.CompletionTime,
		Score:        res.Score,
		Results:      res.Results,
	}
	if err != nil {
		resp.Reason = err.Error()
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, match.ErrAlreadySubmitted), errors.Is(err, match.ErrMatchNotActive):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, match.ErrGradingUnavailable):
		log.Warn().Err(err).Str("arena_id", arenaID).Msg("grading unavailable")
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, match.ErrGradingRefused):
		log.Error().Err(err).Str("arena_id", arenaID).Msg("grading refused submission")
		writeJSON(w, http.StatusBadGateway, resp)
	case errors.Is(err, match.ErrSessionClosed):
		writeJSON(w, http.StatusGone, resp)
	default:
		log.Error().Err(err).Str("arena_id", arenaID).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, "Submit failed")
	}
}

// handleInfo handles GET /info
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	mounted := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		mounted = append(mounted, id)
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":  "arena-sync",
		"sessions": mounted,
		"channel":  h.stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
