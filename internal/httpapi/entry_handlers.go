package httpapi

import (
	"net/http"
	"strings"

	"clanledger.org/internal/authz"
	"clanledger.org/internal/entries"
)

type createEntryRequest struct {
	Date        string `json:"date,omitempty"`
	SubmitterID string `json:"submitter_id"`
	Resource    string `json:"resource"`
	Tier        int    `json:"tier"`
	Quantity    int    `json:"quantity"`
}

type patchEntryRequest struct {
	Date        *string `json:"date,omitempty"`
	SubmitterID *string `json:"submitter_id,omitempty"`
	Resource    *string `json:"resource,omitempty"`
	Tier        *int    `json:"tier,omitempty"`
}

type paymentRequest struct {
	Status string `json:"status"`
}

func (a *API) handleEntriesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createEntry(w, r)
	case http.MethodGet:
		a.listEntries(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleEntryResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/entries/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/payment"); ok {
		id = strings.TrimSuffix(id, "/")
		if id == "" || r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.setEntryPayment(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getEntry(w, r, path)
	case http.MethodPatch:
		a.patchEntry(w, r, path)
	case http.MethodDelete:
		a.deleteEntry(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

// requireEntryManager gates entry mutations on the moderation
// fallback chain for the affected resource.
func (a *API) requireEntryManager(w http.ResponseWriter, r *http.Request, resource entries.Resource) (authz.Actor, bool) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return authz.Actor{}, false
	}
	if err := a.guard.AssertModerates(r.Context(), actor, resource); err != nil {
		writeDomainError(w, r, err)
		return authz.Actor{}, false
	}
	return actor, true
}

func (a *API) createEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	resource, err := entries.ParseResource(req.Resource)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	actor, ok := a.requireEntryManager(w, r, resource)
	if !ok {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, "date must be RFC 3339")
		return
	}

	entry, err := a.entries.Create(r.Context(), actor.ID, date, req.SubmitterID, resource, req.Tier, req.Quantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/entries/"+entry.ID)
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	if _, err := actorFrom(r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	filter := entries.Filter{
		SubmitterID: strings.TrimSpace(r.URL.Query().Get("submitter_id")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("resource")); raw != "" {
		resource, err := entries.ParseResource(raw)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		filter.Resource = resource
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_status")); raw != "" {
		status, err := entries.ParsePaymentStatus(raw)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		filter.PaymentStatus = status
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	filter.Limit = limit

	items, err := a.entries.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getEntry(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := actorFrom(r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	entry, err := a.entries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) patchEntry(w http.ResponseWriter, r *http.Request, id string) {
	var req patchEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}

	existing, err := a.entries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	actor, ok := a.requireEntryManager(w, r, existing.Resource)
	if !ok {
		return
	}

	var patch entries.Patch
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, "date must be RFC 3339")
			return
		}
		patch.Date = &date
	}
	patch.SubmitterID = req.SubmitterID
	if req.Resource != nil {
		resource, err := entries.ParseResource(*req.Resource)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		patch.Resource = &resource
	}
	patch.Tier = req.Tier

	entry, err := a.entries.Update(r.Context(), actor.ID, id, patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) setEntryPayment(w http.ResponseWriter, r *http.Request, id string) {
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	status, err := entries.ParsePaymentStatus(req.Status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	existing, err := a.entries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	actor, ok := a.requireEntryManager(w, r, existing.Resource)
	if !ok {
		return
	}

	entry, err := a.entries.SetPaymentStatus(r.Context(), actor.ID, id, status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) deleteEntry(w http.ResponseWriter, r *http.Request, id string) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.guard.Assert(r.Context(), actor, authz.ActionManageEntries); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := a.entries.Delete(r.Context(), actor.ID, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
