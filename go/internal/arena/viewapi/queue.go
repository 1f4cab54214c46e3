package viewapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/codearena/go/internal/arena/queue"
)

// Queue is the matchmaking surface exposed to the view
type Queue interface {
	Enqueue(ctx context.Context, userID string) error
	Cancel(ctx context.Context) error
	QuickMatch(ctx context.Context) (string, error)
	Session() queue.QueueSession
	QueueTime() time.Duration
}

type queueResponse struct {
	queue.QueueSession
	QueueTimeSec int64 `json:"queue_time_sec"`
}

func (h *Handler) queueView() queueResponse {
	return queueResponse{
		QueueSession: h.queue.Session(),
		QueueTimeSec: int64(h.queue.QueueTime() / time.Second),
	}
}

// handleGetQueue handles GET /api/queue
func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queueView())
}

// handleEnqueue handles POST /api/queue
func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	err := h.queue.Enqueue(r.Context(), h.userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, h.queueView())
	case errors.Is(err, queue.ErrAlreadyQueued):
		writeJSON(w, http.StatusConflict, h.queueView())
	default:
		log.Error().Err(err).Msg("failed to join queue")
		writeError(w, http.StatusBadGateway, "Failed to join queue")
	}
}

// handleLeaveQueue handles DELETE /api/queue
func (h *Handler) handleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	err := h.queue.Cancel(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.queueView())
	case errors.Is(err, queue.ErrNotQueued):
		writeError(w, http.StatusConflict, "Not in queue")
	default:
		log.Error().Err(err).Msg("failed to leave queue")
		writeError(w, http.StatusBadGateway, "Failed to leave queue")
	}
}

// handleQuickMatch handles POST /api/queue/quick-match. The arena it lands in is
// mounted straight away.
func (h *Handler) handleQuickMatch(w http.ResponseWriter, r *http.Request) {
	arenaID, err := h.queue.QuickMatch(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("quick match failed")
		writeError(w, upstreamStatus(err), "Quick match failed")
		return
	}
	log.Info().Str("arena_id", arenaID).Msg("quick match found arena")
	h.mountAndRespond(w, r, arenaID)
}
