package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/auth"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/claims"
	"clanledger.org/internal/entries"
	"clanledger.org/internal/pricing"
	"clanledger.org/internal/roles"
	"clanledger.org/internal/users"
)

// --- in-memory stores ---

type memRoles struct {
	mu   sync.Mutex
	defs map[string]roles.Definition
}

func (m *memRoles) List(ctx context.Context) ([]roles.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]roles.Definition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	return out, nil
}

func (m *memRoles) Get(ctx context.Context, name string) (roles.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[name]
	if !ok {
		return roles.Definition{}, fmt.Errorf("%w: %s", roles.ErrNotFound, name)
	}
	return def, nil
}

func (m *memRoles) Upsert(ctx context.Context, def roles.Definition) (roles.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.Name] = def
	return def, nil
}

func (m *memRoles) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[name]; !ok {
		return fmt.Errorf("%w: %s", roles.ErrNotFound, name)
	}
	delete(m.defs, name)
	return nil
}

type memRules struct {
	mu    sync.Mutex
	rules map[string]pricing.Rule
}

func ruleKey(resource string, tier int) string { return fmt.Sprintf("%s/%d", resource, tier) }

func (m *memRules) Rule(ctx context.Context, resource string, tier int) (pricing.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[ruleKey(resource, tier)]
	if !ok {
		return pricing.Rule{}, fmt.Errorf("%w: %s tier %d", pricing.ErrNotFound, resource, tier)
	}
	return rule, nil
}

func (m *memRules) Upsert(ctx context.Context, rule pricing.Rule) (pricing.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleKey(rule.Resource, rule.Tier)] = rule
	return rule, nil
}

func (m *memRules) List(ctx context.Context) ([]pricing.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pricing.Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, rule)
	}
	return out, nil
}

type memEntries struct {
	mu   sync.Mutex
	rows map[string]entries.Entry
}

func (m *memEntries) Create(ctx context.Context, entry entries.Entry) (entries.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[entry.ID] = entry
	return entry, nil
}

func (m *memEntries) Get(ctx context.Context, id string) (entries.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.rows[id]
	if !ok {
		return entries.Entry{}, fmt.Errorf("%w: %s", entries.ErrNotFound, id)
	}
	return entry, nil
}

func (m *memEntries) List(ctx context.Context, filter entries.Filter) ([]entries.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entries.Entry
	for _, entry := range m.rows {
		if filter.SubmitterID != "" && entry.SubmitterID != filter.SubmitterID {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if filter.PaymentStatus != "" && entry.PaymentStatus != filter.PaymentStatus {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *memEntries) Update(ctx context.Context, entry entries.Entry) (entries.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[entry.ID]; !ok {
		return entries.Entry{}, fmt.Errorf("%w: %s", entries.ErrNotFound, entry.ID)
	}
	m.rows[entry.ID] = entry
	return entry, nil
}

func (m *memEntries) Delete(ctx context.Context, id string) (entries.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.rows[id]
	if !ok {
		return entries.Entry{}, false, nil
	}
	delete(m.rows, id)
	return entry, true, nil
}

type memClaims struct {
	mu      sync.Mutex
	rows    map[string]claims.Claim
	entries *memEntries
}

func (m *memClaims) Create(ctx context.Context, claim claims.Claim) (claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[claim.ID] = claim
	return claim, nil
}

func (m *memClaims) Get(ctx context.Context, id string) (claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.rows[id]
	if !ok {
		return claims.Claim{}, fmt.Errorf("%w: %s", claims.ErrNotFound, id)
	}
	return claim, nil
}

func (m *memClaims) List(ctx context.Context, filter claims.Filter) ([]claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []claims.Claim
	for _, claim := range m.rows {
		if filter.Status != "" && claim.Status != filter.Status {
			continue
		}
		if filter.SubmitterID != "" && claim.SubmitterID != filter.SubmitterID {
			continue
		}
		out = append(out, claim)
	}
	return out, nil
}

func (m *memClaims) Reject(ctx context.Context, claim claims.Claim) (claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[claim.ID]
	if !ok || current.Status != claims.StatusPending {
		return claims.Claim{}, claims.ErrAlreadyDecided
	}
	m.rows[claim.ID] = claim
	return claim, nil
}

func (m *memClaims) Approve(ctx context.Context, claim claims.Claim, fanout []entries.Entry) (claims.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[claim.ID]
	if !ok || current.Status != claims.StatusPending {
		return claims.Claim{}, claims.ErrAlreadyDecided
	}
	m.rows[claim.ID] = claim
	for _, entry := range fanout {
		m.entries.rows[entry.ID] = entry
	}
	return claim, nil
}

type memUsers struct {
	mu   sync.Mutex
	rows map[string]authz.Actor
}

func (m *memUsers) Get(ctx context.Context, id string) (authz.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.rows[id]
	if !ok {
		return authz.Actor{}, fmt.Errorf("%w: %s", users.ErrNotFound, id)
	}
	return actor, nil
}

func (m *memUsers) GetByExternalID(ctx context.Context, externalID string) (authz.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, actor := range m.rows {
		if actor.ExternalID == externalID {
			return actor, nil
		}
	}
	return authz.Actor{}, fmt.Errorf("%w: %s", users.ErrNotFound, externalID)
}

func (m *memUsers) List(ctx context.Context) ([]authz.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]authz.Actor, 0, len(m.rows))
	for _, actor := range m.rows {
		out = append(out, actor)
	}
	return out, nil
}

func (m *memUsers) UpdateRole(ctx context.Context, id, role string) (authz.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.rows[id]
	if !ok {
		return authz.Actor{}, fmt.Errorf("%w: %s", users.ErrNotFound, id)
	}
	actor.Role = role
	m.rows[id] = actor
	return actor, nil
}

func (m *memUsers) UpdateBlocked(ctx context.Context, id string, blocked bool, reason string) (authz.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actor, ok := m.rows[id]
	if !ok {
		return authz.Actor{}, fmt.Errorf("%w: %s", users.ErrNotFound, id)
	}
	actor.Blocked = blocked
	m.rows[id] = actor
	return actor, nil
}

func (m *memUsers) Upsert(ctx context.Context, actor authz.Actor) (authz.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.rows {
		if existing.ExternalID == actor.ExternalID {
			existing.DisplayName = actor.DisplayName
			m.rows[id] = existing
			return existing, nil
		}
	}
	m.rows[actor.ID] = actor
	return actor, nil
}

// --- fixture ---

type fixture struct {
	api     *API
	claims  *memClaims
	entries *memEntries
	users   *memUsers
	audit   *audit.Memory

	member  authz.Actor
	officer authz.Actor
	leader  authz.Actor
}

const rootExternalID = "root-ext-1"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	roleStore := &memRoles{defs: map[string]roles.Definition{
		"LEADER":  {Name: "LEADER", Label: "Clan Leader", Power: 100, Capabilities: map[string]bool{roles.CapManageUsers: true, roles.CapManageRoles: true, roles.CapManagePricing: true, roles.CapManageEntries: true, roles.CapModerateAlco: true, roles.CapModeratePetra: true, roles.CapViewAudit: true}},
		"OFFICER": {Name: "OFFICER", Label: "Officer", Power: 60, Capabilities: map[string]bool{roles.CapManageEntries: true, roles.CapModerateAlco: true, roles.CapModeratePetra: true, roles.CapViewAudit: true}},
		"MEMBER":  {Name: "MEMBER", Label: "Member", Power: 10, Capabilities: map[string]bool{}},
	}}
	registry, err := roles.NewRegistry(roleStore)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	guard, err := authz.NewGuard(registry, rootExternalID)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}

	ruleStore := &memRules{rules: map[string]pricing.Rule{
		ruleKey("ALCO", 1):  {Resource: "ALCO", Tier: 1, UnitPrice: 50},
		ruleKey("ALCO", 3):  {Resource: "ALCO", Tier: 3, UnitPrice: 150},
		ruleKey("PETRA", 2): {Resource: "PETRA", Tier: 2, UnitPrice: 100},
	}}
	resolver, err := pricing.NewResolver(ruleStore)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	entryStore := &memEntries{rows: map[string]entries.Entry{}}
	claimStore := &memClaims{rows: map[string]claims.Claim{}, entries: entryStore}
	recorder := audit.NewMemory()

	claimSvc, err := claims.NewService(claimStore, resolver, guard, recorder)
	if err != nil {
		t.Fatalf("claims.NewService: %v", err)
	}
	entrySvc, err := entries.NewService(entryStore, resolver, recorder)
	if err != nil {
		t.Fatalf("entries.NewService: %v", err)
	}

	f := &fixture{
		claims:  claimStore,
		entries: entryStore,
		audit:   recorder,
		member:  authz.Actor{ID: "member-1", ExternalID: "ext-member", DisplayName: "Member One", Role: "MEMBER", Approved: true},
		officer: authz.Actor{ID: "officer-1", ExternalID: "ext-officer", DisplayName: "Officer One", Role: "OFFICER", Approved: true},
		leader:  authz.Actor{ID: "leader-1", ExternalID: "ext-leader", DisplayName: "Leader One", Role: "LEADER", Approved: true},
	}
	userStore := &memUsers{rows: map[string]authz.Actor{
		f.member.ID:  f.member,
		f.officer.ID: f.officer,
		f.leader.ID:  f.leader,
	}}
	f.users = userStore

	userSvc, err := users.NewService(userStore, guard, recorder)
	if err != nil {
		t.Fatalf("users.NewService: %v", err)
	}

	f.api = New(Config{
		Version:  "test",
		Guard:    guard,
		Registry: registry,
		Claims:   claimSvc,
		Entries:  entrySvc,
		Users:    userSvc,
		Pricing:  resolver,
		Audit:    recorder,
	})
	return f
}

// do dispatches straight to the route table with the actor already
// resolved, bypassing token authn.
func (f *fixture) do(t *testing.T, actor *authz.Actor, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if actor != nil {
		req = req.WithContext(auth.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	f.api.mux.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) submitPending(t *testing.T, qty claims.Quantities) claims.Claim {
	t.Helper()
	claim, err := f.api.claims.Submit(context.Background(), f.member,
		entries.ResourceAlco, time.Now().UTC(), qty, "proof.png", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return claim
}
