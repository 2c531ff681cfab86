package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/auth"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/claims"
	"clanledger.org/internal/entries"
	"clanledger.org/internal/pricing"
	"clanledger.org/internal/roles"
	"clanledger.org/internal/users"
)

// Error codes exposed on the wire. The HTTP status is derived from the
// code; clients branch on the code, not the status.
const (
	codeUnauthenticated   = "UNAUTHENTICATED"
	codeForbidden         = "FORBIDDEN"
	codeNotFound          = "NOT_FOUND"
	codeAlreadyDecided    = "ALREADY_DECIDED"
	codeValidation        = "VALIDATION_ERROR"
	codeRootProtected     = "ROOT_PROTECTED"
	codeLeaderProtected   = "LEADER_PROTECTED"
	codeInsufficientPower = "INSUFFICIENT_POWER"
	codeRoleTooHigh       = "ROLE_TOO_HIGH"
	codeInvalidRole       = "INVALID_ROLE"
	codeInternal          = "INTERNAL"
)

func codeFor(err error) (string, int) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		return codeUnauthenticated, http.StatusUnauthorized
	case errors.Is(err, authz.ErrRootProtected):
		return codeRootProtected, http.StatusForbidden
	case errors.Is(err, authz.ErrLeaderProtected):
		return codeLeaderProtected, http.StatusForbidden
	case errors.Is(err, authz.ErrInsufficientPower):
		return codeInsufficientPower, http.StatusForbidden
	case errors.Is(err, authz.ErrRoleTooHigh):
		return codeRoleTooHigh, http.StatusForbidden
	case errors.Is(err, authz.ErrInvalidRole):
		return codeInvalidRole, http.StatusUnprocessableEntity
	case errors.Is(err, authz.ErrForbidden), errors.Is(err, roles.ErrProtectedRole):
		return codeForbidden, http.StatusForbidden
	case errors.Is(err, claims.ErrAlreadyDecided):
		return codeAlreadyDecided, http.StatusConflict
	case errors.Is(err, claims.ErrNotFound),
		errors.Is(err, entries.ErrNotFound),
		errors.Is(err, users.ErrNotFound),
		errors.Is(err, roles.ErrNotFound),
		errors.Is(err, pricing.ErrNotFound):
		return codeNotFound, http.StatusNotFound
	case errors.Is(err, authz.ErrSelfRoleChange),
		errors.Is(err, authz.ErrValidation),
		errors.Is(err, claims.ErrInvalidInput),
		errors.Is(err, entries.ErrInvalidInput),
		errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, roles.ErrInvalidInput),
		errors.Is(err, pricing.ErrInvalidInput),
		errors.Is(err, audit.ErrInvalidInput):
		return codeValidation, http.StatusUnprocessableEntity
	default:
		return codeInternal, http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps a sentinel to its wire code and status.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := codeFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, r, status, code, msg)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"code":  code,
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, codeValidation, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
