package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/flowgate/internal/credentials"
	"github.com/sungwon/flowgate/internal/logger"
)

// CredentialService is the part of the refresh coordinator the API uses.
type CredentialService interface {
	State(ctx context.Context, ownerID string) (*credentials.OwnerState, error)
	Invalidate(ctx context.Context, ownerID string) error
}

// credentialResponse reports an owner's token state. Tokens themselves are
// never returned.
type credentialResponse struct {
	OwnerID         string     `json:"owner_id"`
	State           string     `json:"state"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// GetCredentialHandler handles GET /api/v1/credentials/{owner}.
func GetCredentialHandler(svc CredentialService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := chi.URLParam(r, "owner")
		st, err := svc.State(r.Context(), owner)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("owner_id", owner).Msg("Failed to load credential state")
			respondError(w, http.StatusInternalServerError, "failed to load credential state")
			return
		}

		resp := credentialResponse{
			OwnerID:         owner,
			State:           string(st.State),
			HasRefreshToken: st.RefreshToken != "",
			UpdatedAt:       st.UpdatedAt,
		}
		if !st.ExpiresAt.IsZero() {
			exp := st.ExpiresAt
			resp.ExpiresAt = &exp
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// InvalidateCredentialHandler handles POST /api/v1/credentials/{owner}/invalidate.
func InvalidateCredentialHandler(svc CredentialService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		owner := chi.URLParam(r, "owner")

		if err := svc.Invalidate(r.Context(), owner); err != nil {
			log.Error().Err(err).Str("owner_id", owner).Msg("Failed to invalidate credentials")
			respondError(w, http.StatusInternalServerError, "failed to invalidate credentials")
			return
		}
		log.Info().Str("owner_id", owner).Msg("Credentials invalidated")
		w.WriteHeader(http.StatusNoContent)
	}
}
