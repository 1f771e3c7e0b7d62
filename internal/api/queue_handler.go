package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/flowgate/internal/logger"
	"github.com/sungwon/flowgate/internal/queue"
)

// queueResponse is the JSON form of a materialized queue.
type queueResponse struct {
	Name       string `json:"name"`
	Size       int    `json:"size"`
	Capacity   int    `json:"capacity"`
	Persistent bool   `json:"persistent"`
}

func toQueueResponse(info queue.Info) queueResponse {
	return queueResponse{
		Name:       info.Name,
		Size:       info.Size,
		Capacity:   info.Capacity,
		Persistent: info.Persistent,
	}
}

// ListQueuesHandler handles GET /api/v1/queues.
func ListQueuesHandler(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := mgr.Names()
		out := make([]queueResponse, 0, len(names))
		for _, name := range names {
			if info, ok := mgr.Lookup(name); ok {
				out = append(out, toQueueResponse(info))
			}
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// GetQueueHandler handles GET /api/v1/queues/{name}. It never materializes
// a queue.
func GetQueueHandler(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, ok := mgr.Lookup(chi.URLParam(r, "name"))
		if !ok {
			respondError(w, http.StatusNotFound, "queue not found")
			return
		}
		respondJSON(w, http.StatusOK, toQueueResponse(info))
	}
}

// ClearQueueHandler handles POST /api/v1/queues/{name}/clear.
func ClearQueueHandler(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		name := chi.URLParam(r, "name")

		if _, ok := mgr.Lookup(name); !ok {
			respondError(w, http.StatusNotFound, "queue not found")
			return
		}
		q, err := mgr.Session().Queue(r.Context(), name)
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("Failed to open queue")
			respondError(w, http.StatusInternalServerError, "failed to open queue")
			return
		}
		if err := q.Clear(r.Context()); err != nil {
			log.Error().Err(err).Str("queue", name).Msg("Failed to clear queue")
			respondError(w, http.StatusInternalServerError, "failed to clear queue")
			return
		}

		log.Info().Str("queue", name).Msg("Queue cleared")
		w.WriteHeader(http.StatusNoContent)
	}
}
