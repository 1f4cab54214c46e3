package viewapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codearena/go/clients"
	"github.com/mcdev12/codearena/go/clients/arena_api_client"
)

// Directory is the read side of the arena API the lobby screens use
type Directory interface {
	ListArenas(ctx context.Context, status string) ([]arena_api_client.Arena, error)
	JoinArena(ctx context.Context, arenaID string) error
	Leaderboard(ctx context.Context) ([]arena_api_client.LeaderboardEntry, error)
	GetProfile(ctx context.Context, userID string) (*arena_api_client.Profile, error)
}

// upstreamStatus maps an arena API failure onto the status the view returns
func upstreamStatus(err error) int {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound, http.StatusConflict, http.StatusBadRequest:
			return apiErr.StatusCode
		}
	}
	return http.StatusBadGateway
}

// handleListArenas handles GET /api/arenas?status=
func (h *Handler) handleListArenas(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	arenas, err := h.directory.ListArenas(r.Context(), status)
	if err != nil {
		log.Error().Err(err).Str("status", status).Msg("failed to list arenas")
		writeError(w, upstreamStatus(err), "Failed to list arenas")
		return
	}
	if arenas == nil {
		arenas = []arena_api_client.Arena{}
	}
	writeJSON(w, http.StatusOK, arenas)
}

// handleJoinArena handles POST /api/arenas/{id}/join: register with the arena, then
// mount its session
func (h *Handler) handleJoinArena(w http.ResponseWriter, r *http.Request) {
	arenaID := r.PathValue("id")
	if err := h.directory.JoinArena(r.Context(), arenaID); err != nil {
		log.Error().Err(err).Str("arena_id", arenaID).Msg("failed to join arena")
		writeError(w, upstreamStatus(err), "Failed to join arena")
		return
	}
	h.mountAndRespond(w, r, arenaID)
}

// handleLeaderboard handles GET /api/leaderboard
func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.directory.Leaderboard(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch leaderboard")
		writeError(w, upstreamStatus(err), "Failed to fetch leaderboard")
		return
	}
	if entries == nil {
		entries = []arena_api_client.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleProfile handles GET /api/profile
func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.directory.GetProfile(r.Context(), h.userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", h.userID).Msg("failed to fetch profile")
		writeError(w, upstreamStatus(err), "Failed to fetch profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
