package httpapi

import (
	"net/http"
	"strings"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/pricing"
	"clanledger.org/internal/roles"
)

type upsertRoleRequest struct {
	Label        string          `json:"label"`
	Power        int             `json:"power"`
	Capabilities map[string]bool `json:"capabilities"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type blockRequest struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

type upsertPricingRequest struct {
	Resource  string  `json:"resource"`
	Tier      int     `json:"tier"`
	UnitPrice float64 `json:"unit_price"`
}

// requireAction authenticates and asserts one guard action.
func (a *API) requireAction(w http.ResponseWriter, r *http.Request, action string) (authz.Actor, bool) {
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return authz.Actor{}, false
	}
	if err := a.guard.Assert(r.Context(), actor, action); err != nil {
		writeDomainError(w, r, err)
		return authz.Actor{}, false
	}
	return actor, true
}

// --- roles ---

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := actorFrom(r); err != nil {
		writeDomainError(w, r, err)
		return
	}
	defs, err := a.registry.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": defs})
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, err := actorFrom(r); err != nil {
			writeDomainError(w, r, err)
			return
		}
		def, err := a.registry.Get(r.Context(), name)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, def)

	case http.MethodPut:
		actor, ok := a.requireAction(w, r, authz.ActionManageRoles)
		if !ok {
			return
		}
		var req upsertRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		def, err := a.registry.Upsert(r.Context(), roles.Definition{
			Name:         name,
			Label:        req.Label,
			Power:        req.Power,
			Capabilities: req.Capabilities,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		audit.Record(r.Context(), a.audit, actor.ID, audit.ActionRoleDefine, "role", def.Name, nil, def)
		writeJSON(w, http.StatusOK, def)

	case http.MethodDelete:
		actor, ok := a.requireAction(w, r, authz.ActionManageRoles)
		if !ok {
			return
		}
		before, err := a.registry.Get(r.Context(), name)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if err := a.registry.Delete(r.Context(), name); err != nil {
			writeDomainError(w, r, err)
			return
		}
		audit.Record(r.Context(), a.audit, actor.ID, audit.ActionRoleDelete, "role", before.Name, before, nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

// --- users ---

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAction(w, r, authz.ActionManageUsers); !ok {
		return
	}
	items, err := a.users.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
		return
	}

	if id, ok := strings.CutSuffix(path, "/role"); ok {
		a.assignUserRole(w, r, strings.TrimSuffix(id, "/"))
		return
	}
	if id, ok := strings.CutSuffix(path, "/block"); ok {
		a.blockUser(w, r, strings.TrimSuffix(id, "/"))
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
	if _, ok := a.requireAction(w, r, authz.ActionManageUsers); !ok {
		return
	}
	actor, err := a.users.Get(r.Context(), path)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (a *API) assignUserRole(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	updated, err := a.users.AssignRole(r.Context(), actor, id, req.Role)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) blockUser(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req blockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	updated, err := a.users.SetBlocked(r.Context(), actor, id, req.Blocked, req.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- pricing ---

func (a *API) handlePricing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, err := actorFrom(r); err != nil {
			writeDomainError(w, r, err)
			return
		}
		rules, err := a.pricing.ListRules(r.Context())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rules, "base_unit": pricing.BaseUnit})

	case http.MethodPut:
		actor, ok := a.requireAction(w, r, authz.ActionManagePricing)
		if !ok {
			return
		}
		var req upsertPricingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
			return
		}
		rule, err := a.pricing.UpsertRule(r.Context(), pricing.Rule{
			Resource:  req.Resource,
			Tier:      req.Tier,
			UnitPrice: req.UnitPrice,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		audit.Record(r.Context(), a.audit, actor.ID, audit.ActionPriceChange, "pricing_rule",
			rule.Resource, nil, rule)
		writeJSON(w, http.StatusOK, rule)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// --- audit ---

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAction(w, r, authz.ActionViewAudit); !ok {
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), audit.MaxPageSize, audit.MaxPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	events, err := a.audit.List(r.Context(), audit.Filter{
		ActorID: strings.TrimSpace(r.URL.Query().Get("actor_id")),
		Limit:   limit,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}
