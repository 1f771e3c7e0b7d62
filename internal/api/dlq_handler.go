package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sungwon/flowgate/internal/dlq"
	"github.com/sungwon/flowgate/internal/logger"
)

// dlqReprocessRequest is the JSON body for POST /api/v1/dlq/reprocess.
type dlqReprocessRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// dlqReprocessResponse is the JSON response for a DLQ reprocess operation.
type dlqReprocessResponse struct {
	Reprocessed int `json:"reprocessed"`
	Total       int `json:"total"`
}

// ListDLQHandler handles GET /api/v1/dlq?limit=N.
func ListDLQHandler(q dlq.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				respondError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := q.List(r.Context(), limit)
		if errors.Is(err, dlq.ErrUnsupported) {
			respondError(w, http.StatusNotImplemented, "dlq backend does not support listing")
			return
		}
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("dlq list failed")
			respondError(w, http.StatusInternalServerError, "list failed")
			return
		}
		respondJSON(w, http.StatusOK, entries)
	}
}

// DLQReprocessHandler handles POST /api/v1/dlq/reprocess.
// It sends dead letters back to the endpoints they failed on.
func DLQReprocessHandler(q dlq.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req dlqReprocessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if len(req.MessageIDs) == 0 {
			respondError(w, http.StatusBadRequest, "message_ids is required and must not be empty")
			return
		}

		reprocessed, err := q.Reprocess(r.Context(), req.MessageIDs)
		if err != nil {
			log.Error().Err(err).
				Int("requested", len(req.MessageIDs)).
				Int("reprocessed", reprocessed).
				Msg("dlq reprocess failed")
			respondError(w, http.StatusInternalServerError, "reprocess failed")
			return
		}

		log.Info().
			Int("reprocessed", reprocessed).
			Int("total", len(req.MessageIDs)).
			Msg("dlq reprocess completed")

		respondJSON(w, http.StatusOK, dlqReprocessResponse{
			Reprocessed: reprocessed,
			Total:       len(req.MessageIDs),
		})
	}
}
