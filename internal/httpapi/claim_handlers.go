package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clanledger.org/internal/claims"
	"clanledger.org/internal/entries"
)

type submitClaimRequest struct {
	Resource   string `json:"resource"`
	Date       string `json:"date,omitempty"`
	Quantities [3]int `json:"quantities"`
	ProofRef   string `json:"proof_ref"`
	CardDigits string `json:"card_digits,omitempty"`
}

type decideClaimRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`
}

type decideClaimResponse struct {
	Claim   claims.Claim    `json:"claim"`
	Entries []entries.Entry `json:"entries,omitempty"`
}

func (a *API) handleClaimsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitClaim(w, r)
	case http.MethodGet:
		a.listClaims(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClaimResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/claims/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/decision"); ok {
		id = strings.TrimSuffix(id, "/")
		if id == "" || r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.decideClaim(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.getClaim(w, r, path)
}

func (a *API) submitClaim(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req submitClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	resource, err := entries.ParseResource(req.Resource)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "date must be RFC 3339")
		return
	}

	claim, err := a.claims.Submit(r.Context(), actor, resource, date,
		claims.Quantities(req.Quantities), req.ProofRef, req.CardDigits)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/claims/"+claim.ID)
	writeJSON(w, http.StatusCreated, claim)
}

func (a *API) listClaims(w http.ResponseWriter, r *http.Request) {
	if _, err := actorFrom(r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	filter := claims.Filter{
		SubmitterID: strings.TrimSpace(r.URL.Query().Get("submitter_id")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filter.Status = claims.Status(strings.ToUpper(raw))
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	filter.Limit = limit

	items, err := a.claims.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getClaim(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := actorFrom(r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	claim, err := a.claims.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (a *API) decideClaim(w http.ResponseWriter, r *http.Request, id string) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req decideClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	outcome, err := claims.ParseOutcome(req.Outcome)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	claim, fanout, err := a.claims.Decide(r.Context(), actor, id, outcome, req.Note)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decideClaimResponse{Claim: claim, Entries: fanout})
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func parseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 || val > max {
		return 0, fmt.Errorf("limit must be between 1 and %d", max)
	}
	return val, nil
}
