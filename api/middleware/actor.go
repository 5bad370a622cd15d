package middleware

import (
	"net/http"
	"strings"

	"github.com/projectrefill/refill-backend/api/responses"
	pkgerrors "github.com/projectrefill/refill-backend/pkg/errors"
	"github.com/projectrefill/refill-backend/pkg/logger"
)

const (
	actorIDHeader   = "X-Actor-ID"
	actorRoleHeader = "X-Actor-Role"
	maxActorLength  = 128
)

// Actor reads the identity the gateway already authenticated. Requests
// without one are rejected before reaching any inventory handler.
func Actor(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := strings.TrimSpace(r.Header.Get(actorIDHeader))
			if actorID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing"))
				return
			}
			if len(actorID) > maxActorLength {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "actor identity too long"))
				return
			}
			role := strings.TrimSpace(r.Header.Get(actorRoleHeader))

			ctx := WithActor(r.Context(), actorID, role)
			if logg != nil {
				ctx = logg.WithActor(ctx, actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
