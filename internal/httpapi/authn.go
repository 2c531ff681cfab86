package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clanledger.org/internal/auth"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/users"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/token",
}

// withAuth resolves the bearer token into an Actor, rejects blocked
// members, and applies the maintenance gate. Permission reads always
// hit the store via the loaded actor, so role edits apply to the very
// next request.
func (a *API) withAuth(next http.Handler) http.Handler {
	if !auth.SupportsTokens() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, err.Error())
			return
		}

		claims, err := auth.ParseToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid token")
			return
		}

		actor, err := a.users.Get(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "unknown actor")
				return
			}
			writeDomainError(w, r, err)
			return
		}
		if actor.Blocked {
			writeError(w, r, http.StatusForbidden, codeForbidden, "account is blocked")
			return
		}

		if a.maintenance && !a.maintenanceExempt(r, actor) {
			writeError(w, r, http.StatusServiceUnavailable, codeForbidden, "maintenance in progress")
			return
		}

		ctx := auth.ContextWithActor(r.Context(), actor)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// maintenanceExempt lets administrators keep working while the rest of
// the clan sees 503.
func (a *API) maintenanceExempt(r *http.Request, actor authz.Actor) bool {
	if a.guard.IsRoot(actor) {
		return true
	}
	ok, err := a.guard.Can(r.Context(), actor, authz.ActionManageUsers)
	return err == nil && ok
}

// actorFrom returns the authenticated actor or an UNAUTHENTICATED
// sentinel when authn is disabled or missing.
func actorFrom(r *http.Request) (authz.Actor, error) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return authz.Actor{}, authz.ErrUnauthenticated
	}
	return actor, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
