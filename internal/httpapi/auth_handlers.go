package httpapi

import (
	"net/http"
	"time"

	"clanledger.org/internal/auth"
	"clanledger.org/internal/authz"
)

const rootTokenTTL = 12 * time.Hour

type tokenRequest struct {
	ExternalID string `json:"external_id"`
	Secret     string `json:"secret"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken is the break-glass root sign-in: it lets the
// configured root identity obtain a JWT without the external identity
// provider. Any other identity is rejected regardless of secret.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.rootSecretHash == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "sign-in is disabled")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if !a.guard.IsRoot(authz.Actor{ExternalID: req.ExternalID}) ||
		!auth.VerifyPassword(a.rootSecretHash, req.Secret) {
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid credentials")
		return
	}

	// Materialize the root row on first sign-in so a fresh database is
	// operable without the external identity provider.
	actor, err := a.users.EnsureRoot(r.Context(), req.ExternalID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	token, err := auth.GenerateToken(actor.ID, rootTokenTTL)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(rootTokenTTL),
	})
}
