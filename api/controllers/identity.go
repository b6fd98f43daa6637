package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jbelamor/donormark-backend/api/responses"
	"github.com/jbelamor/donormark-backend/api/validators"
	"github.com/jbelamor/donormark-backend/internal/identity"
	"github.com/jbelamor/donormark-backend/internal/registry"
	pkgerrors "github.com/jbelamor/donormark-backend/pkg/errors"
	"github.com/jbelamor/donormark-backend/pkg/logger"
)

// IdentityClaim binds a handle to the caller's email, authorized by a mark
// minted for that email.
func IdentityClaim(svc *identity.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "identity service unavailable"))
			return
		}

		var payload identityClaimRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ident, err := svc.ClaimHandle(r.Context(), identity.ClaimInput{
			Email:    payload.Email,
			Handle:   payload.Handle,
			Mark:     payload.Mark,
			DeviceID: payload.DeviceID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newIdentityResponse(ident))
	}
}

// IdentityHandleAvailable reports whether a handle is free to claim.
func IdentityHandleAvailable(svc *identity.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "identity service unavailable"))
			return
		}

		handle := chi.URLParam(r, "handle")
		available, err := svc.CheckHandleAvailable(r.Context(), handle)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"handle":    registry.CanonicalHandle(handle),
			"available": available,
		})
	}
}

type identityClaimRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Handle   string `json:"handle" validate:"required,min=2,max=32"`
	Mark     string `json:"mark" validate:"required,len=64,hexadecimal"`
	DeviceID string `json:"deviceId,omitempty"`
}

type identityResponse struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Email     string    `json:"email"`
	Marks     []string  `json:"marks"`
	DeviceIDs []string  `json:"deviceIds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newIdentityResponse(ident *registry.Identity) identityResponse {
	return identityResponse{
		ID:        ident.ID,
		Handle:    ident.Handle,
		Email:     ident.Email,
		Marks:     ident.Marks,
		DeviceIDs: ident.DeviceIDs,
		CreatedAt: ident.CreatedAt,
	}
}
