package httpapi

import (
	"context"
	"net/http"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/identity"
)

type actorKey struct{}

// authenticate resolves the bearer token into an actor. Browsers cannot set
// headers on websocket upgrades, so access_token is accepted as a fallback.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.FromHeader(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		actor, err := s.verifier.Verify(token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) (domain.Actor, error) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	if !ok {
		return domain.Actor{}, identity.ErrMissingToken
	}
	return actor, nil
}

func requireAdmin(actor domain.Actor) error {
	if !actor.IsAdmin() {
		return apperr.Unauthorized("admin role required")
	}
	return nil
}
