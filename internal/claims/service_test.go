package claims

import (
	"context"
	"errors"
	"testing"
	"time"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/entries"
	"clanledger.org/internal/pricing"
	"clanledger.org/internal/roles"
)

// memStore implements Store with the same conditional-update semantics
// the Postgres store has, plus a switch to abort the approval
// transaction partway.
type memStore struct {
	claims      map[string]Claim
	entries     []entries.Entry
	failApprove bool
}

func newMemStore() *memStore {
	return &memStore{claims: make(map[string]Claim)}
}

func (s *memStore) Create(ctx context.Context, claim Claim) (Claim, error) {
	s.claims[claim.ID] = claim
	return claim, nil
}

func (s *memStore) Get(ctx context.Context, id string) (Claim, error) {
	claim, ok := s.claims[id]
	if !ok {
		return Claim{}, ErrNotFound
	}
	return claim, nil
}

func (s *memStore) List(ctx context.Context, filter Filter) ([]Claim, error) {
	var out []Claim
	for _, c := range s.claims {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) Reject(ctx context.Context, claim Claim) (Claim, error) {
	current, ok := s.claims[claim.ID]
	if !ok {
		return Claim{}, ErrNotFound
	}
	if current.Status != StatusPending {
		return Claim{}, ErrAlreadyDecided
	}
	s.claims[claim.ID] = claim
	return claim, nil
}

func (s *memStore) Approve(ctx context.Context, claim Claim, fanout []entries.Entry) (Claim, error) {
	current, ok := s.claims[claim.ID]
	if !ok {
		return Claim{}, ErrNotFound
	}
	if current.Status != StatusPending {
		return Claim{}, ErrAlreadyDecided
	}
	if s.failApprove {
		// Simulated transaction abort: nothing persists.
		return Claim{}, errors.New("simulated transaction failure")
	}
	s.entries = append(s.entries, fanout...)
	s.claims[claim.ID] = claim
	return claim, nil
}

type memRuleStore struct {
	rules map[string]pricing.Rule
}

func (s *memRuleStore) Rule(ctx context.Context, resource string, tier int) (pricing.Rule, error) {
	rule, ok := s.rules[resource+string(rune('0'+tier))]
	if !ok {
		return pricing.Rule{}, pricing.ErrNotFound
	}
	return rule, nil
}

func (s *memRuleStore) Upsert(ctx context.Context, rule pricing.Rule) (pricing.Rule, error) {
	if s.rules == nil {
		s.rules = make(map[string]pricing.Rule)
	}
	s.rules[rule.Resource+string(rune('0'+rule.Tier))] = rule
	return rule, nil
}

func (s *memRuleStore) List(ctx context.Context) ([]pricing.Rule, error) { return nil, nil }

type fakeRoleStore struct {
	defs map[string]roles.Definition
}

func (s *fakeRoleStore) List(ctx context.Context) ([]roles.Definition, error) { return nil, nil }

func (s *fakeRoleStore) Get(ctx context.Context, name string) (roles.Definition, error) {
	def, ok := s.defs[name]
	if !ok {
		return roles.Definition{}, roles.ErrNotFound
	}
	return def, nil
}

func (s *fakeRoleStore) Upsert(ctx context.Context, def roles.Definition) (roles.Definition, error) {
	s.defs[def.Name] = def
	return def, nil
}

func (s *fakeRoleStore) Delete(ctx context.Context, name string) error { return nil }

type fixture struct {
	svc      *Service
	store    *memStore
	rules    *memRuleStore
	recorder *audit.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := roles.NewRegistry(&fakeRoleStore{defs: map[string]roles.Definition{
		roles.RoleLeader: {Name: roles.RoleLeader, Power: 100},
		"OFFICER":        {Name: "OFFICER", Power: 60},
		roles.RoleMember: {Name: roles.RoleMember, Power: 10},
	}})
	if err != nil {
		t.Fatal(err)
	}
	guard, err := authz.NewGuard(registry, "root-ext")
	if err != nil {
		t.Fatal(err)
	}
	rules := &memRuleStore{}
	resolver, err := pricing.NewResolver(rules)
	if err != nil {
		t.Fatal(err)
	}
	store := newMemStore()
	recorder := audit.NewMemory()
	svc, err := NewService(store, resolver, guard, recorder)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, store: store, rules: rules, recorder: recorder}
}

var (
	submitter = authz.Actor{ID: "u-member", ExternalID: "ext-member", Role: roles.RoleMember, Approved: true}
	officer   = authz.Actor{ID: "u-officer", ExternalID: "ext-officer", Role: "OFFICER", Approved: true}
)

func TestSubmitComputesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rules.Upsert(ctx, pricing.Rule{Resource: "PETRA", Tier: 2, UnitPrice: 100}); err != nil {
		t.Fatal(err)
	}

	claim, err := f.svc.Submit(ctx, submitter, entries.ResourcePetra, time.Time{}, Quantities{0, 3, 0}, "proof.png", "")
	if err != nil {
		t.Fatal(err)
	}
	if claim.Status != StatusPending {
		t.Fatalf("status=%s, want PENDING", claim.Status)
	}
	if claim.TotalAmount != 300 {
		t.Fatalf("total=%v, want 300", claim.TotalAmount)
	}

	events := f.recorder.Events()
	if len(events) != 1 || events[0].Action != audit.ActionRequestCreate {
		t.Fatalf("expected one REQUEST_CREATE event, got %+v", events)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		qty   Quantities
		proof string
		card  string
	}{
		{"all zero quantities", Quantities{}, "proof.png", ""},
		{"negative quantity", Quantities{-1, 2, 0}, "proof.png", ""},
		{"missing proof", Quantities{1, 0, 0}, "  ", ""},
		{"bad card digits", Quantities{1, 0, 0}, "proof.png", "12ab"},
		{"card digits too long", Quantities{1, 0, 0}, "proof.png", "12345"},
	}
	for _, tc := range cases {
		_, err := f.svc.Submit(ctx, submitter, entries.ResourceAlco, time.Time{}, tc.qty, tc.proof, tc.card)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: got %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestSubmitRequiresActiveAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unapproved := authz.Actor{ID: "u-new", Role: roles.RoleMember}
	if _, err := f.svc.Submit(ctx, unapproved, entries.ResourceAlco, time.Time{}, Quantities{1, 0, 0}, "proof.png", ""); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("unapproved: got %v, want authz.ErrForbidden", err)
	}

	frozen := submitter
	frozen.Frozen = true
	if _, err := f.svc.Submit(ctx, frozen, entries.ResourceAlco, time.Time{}, Quantities{1, 0, 0}, "proof.png", ""); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("frozen: got %v, want authz.ErrForbidden", err)
	}
}

func TestApproveFansOutNonzeroTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.Submit(ctx, submitter, entries.ResourceAlco, time.Time{}, Quantities{2, 0, 1}, "proof.png", "")
	if err != nil {
		t.Fatal(err)
	}

	updated, fanout, err := f.svc.Decide(ctx, officer, claim.ID, StatusApproved, "looks good")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != StatusApproved {
		t.Fatalf("status=%s, want APPROVED", updated.Status)
	}
	if len(fanout) != 2 {
		t.Fatalf("fanout len=%d, want 2 (zero tiers produce no entries)", len(fanout))
	}
	for _, entry := range fanout {
		if entry.ClaimID != claim.ID {
			t.Fatalf("entry %s does not reference claim", entry.ID)
		}
		if entry.PaymentStatus != entries.PaymentPaid || entry.PaidAt == nil {
			t.Fatalf("entry %s not PAID: %+v", entry.ID, entry)
		}
	}
	if fanout[0].Tier != 1 || fanout[0].Quantity != 2 || fanout[0].Amount != 2*pricing.BaseUnit {
		t.Fatalf("unexpected tier-1 entry: %+v", fanout[0])
	}
	if fanout[1].Tier != 3 || fanout[1].Quantity != 1 || fanout[1].Amount != 3*pricing.BaseUnit {
		t.Fatalf("unexpected tier-3 entry: %+v", fanout[1])
	}

	// One decision event plus one per created entry.
	var decisions, created int
	for _, ev := range f.recorder.Events() {
		switch ev.Action {
		case audit.ActionRequestDecision:
			decisions++
		case audit.ActionEntryCreateFromClaim:
			created++
		}
	}
	if decisions != 1 || created != 2 {
		t.Fatalf("audit events: decisions=%d created=%d, want 1 and 2", decisions, created)
	}
}

func TestApproveRecomputesAmountAtDecisionTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rules.Upsert(ctx, pricing.Rule{Resource: "PETRA", Tier: 2, UnitPrice: 100}); err != nil {
		t.Fatal(err)
	}

	claim, err := f.svc.Submit(ctx, submitter, entries.ResourcePetra, time.Time{}, Quantities{0, 3, 0}, "proof.png", "")
	if err != nil {
		t.Fatal(err)
	}
	if claim.TotalAmount != 300 {
		t.Fatalf("submission total=%v, want 300", claim.TotalAmount)
	}

	// Price changes between submission and approval.
	if _, err := f.rules.Upsert(ctx, pricing.Rule{Resource: "PETRA", Tier: 2, UnitPrice: 120}); err != nil {
		t.Fatal(err)
	}

	_, fanout, err := f.svc.Decide(ctx, officer, claim.ID, StatusApproved, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(fanout) != 1 || fanout[0].Amount != 360 {
		t.Fatalf("entry amount=%v, want 360 (current pricing, not frozen total)", fanout[0].Amount)
	}
}

func TestDecideTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.Submit(ctx, submitter, entries.ResourceAlco, time.Time{}, Quantities{1, 0, 0}, "proof.png", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.Decide(ctx, officer, claim.ID, StatusRejected, "no proof visible"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.Decide(ctx, officer, claim.ID, StatusApproved, ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second decision: got %v, want ErrAlreadyDecided", err)
	}
}

func TestDecideRequiresModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.Submit(ctx, submitter, entries.ResourceAlco, time.Time{}, Quantities{1, 0, 0}, "proof.png", "")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = f.svc.Decide(ctx, submitter, claim.ID, StatusApproved, "")
	if !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("got %v, want authz.ErrForbidden", err)
	}
}

func TestDecideRejectsNonTerminalOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.Submit(ctx, submitter, entries.ResourceAlco, time.Time{}, Quantities{2, 0, 1}, "proof.png", "")
	if err != nil {
		t.Fatal(err)
	}

	for _, outcome := range []Status{StatusPending, Status(""), Status("MAYBE")} {
		if _, _, err := f.svc.Decide(ctx, officer, claim.ID, outcome, ""); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("outcome %q: got %v, want ErrInvalidInput", outcome, err)
		}
	}
	if len(f.store.entries) != 0 {
		t.Fatalf("expected zero entries, got %d", len(f.store.entries))
	}
	after, err := f.svc.Get(ctx, claim.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != StatusPending {
		t.Fatalf("status=%s, want PENDING", after.Status)
	}
}

func TestDecideMissingClaim(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Decide(context.Background(), officer, "no-such-claim", StatusApproved, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestApproveRollbackLeavesClaimPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.svc.Submit(ctx, submitter, entries.ResourceAlco, time.Time{}, Quantities{2, 0, 1}, "proof.png", "")
	if err != nil {
		t.Fatal(err)
	}

	f.store.failApprove = true
	if _, _, err := f.svc.Decide(ctx, officer, claim.ID, StatusApproved, ""); err == nil {
		t.Fatal("expected transaction failure")
	}
	if len(f.store.entries) != 0 {
		t.Fatalf("expected zero entries after rollback, got %d", len(f.store.entries))
	}
	after, err := f.svc.Get(ctx, claim.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != StatusPending {
		t.Fatalf("status=%s, want PENDING (decision is retryable)", after.Status)
	}

	// Retry succeeds once the store recovers.
	f.store.failApprove = false
	if _, fanout, err := f.svc.Decide(ctx, officer, claim.ID, StatusApproved, ""); err != nil || len(fanout) != 2 {
		t.Fatalf("retry failed: %v (fanout=%d)", err, len(fanout))
	}
}
