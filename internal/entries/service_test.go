package entries

import (
	"context"
	"errors"
	"testing"
	"time"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/pricing"
)

type memStore struct {
	rows map[string]Entry
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]Entry)}
}

func (s *memStore) Create(ctx context.Context, entry Entry) (Entry, error) {
	s.rows[entry.ID] = entry
	return entry, nil
}

func (s *memStore) Get(ctx context.Context, id string) (Entry, error) {
	entry, ok := s.rows[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s *memStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var out []Entry
	for _, e := range s.rows {
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, entry Entry) (Entry, error) {
	if _, ok := s.rows[entry.ID]; !ok {
		return Entry{}, ErrNotFound
	}
	s.rows[entry.ID] = entry
	return entry, nil
}

func (s *memStore) Delete(ctx context.Context, id string) (Entry, bool, error) {
	entry, ok := s.rows[id]
	if !ok {
		return Entry{}, false, nil
	}
	delete(s.rows, id)
	return entry, true, nil
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

type fixture struct {
	svc      *Service
	store    *memStore
	rules    *memRuleStore
	recorder *audit.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rules := &memRuleStore{}
	resolver, err := pricing.NewResolver(rules)
	if err != nil {
		t.Fatal(err)
	}
	store := newMemStore()
	recorder := audit.NewMemory()
	svc, err := NewService(store, resolver, recorder)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, store: store, rules: rules, recorder: recorder}
}

func TestCreateManualEntryStartsUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, "u-officer", time.Time{}, "u-member", ResourceAlco, 2, 5)
	if err != nil {
		t.Fatal(err)
	}
	if entry.PaymentStatus != PaymentUnpaid || entry.PaidAt != nil {
		t.Fatalf("manual entry must start UNPAID: %+v", entry)
	}
	if entry.Amount != 2*pricing.BaseUnit*5 {
		t.Fatalf("amount=%v, want %v", entry.Amount, 2*pricing.BaseUnit*5)
	}
	events := f.recorder.Events()
	if len(events) != 1 || events[0].Action != audit.ActionEntryCreate {
		t.Fatalf("expected one ENTRY_CREATE event, got %+v", events)
	}
}

func TestUpdateTierRecomputesAtCurrentPricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, "u-officer", time.Time{}, "u-member", ResourcePetra, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Amount != 1*pricing.BaseUnit*4 {
		t.Fatalf("initial amount=%v", entry.Amount)
	}

	// Pricing changes after creation; the edit must use the new price.
	if _, err := f.rules.Upsert(ctx, pricing.Rule{Resource: "PETRA", Tier: 2, UnitPrice: 75}); err != nil {
		t.Fatal(err)
	}
	tier := 2
	updated, err := f.svc.Update(ctx, "u-leader", entry.ID, Patch{Tier: &tier})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Amount != 300 {
		t.Fatalf("amount=%v, want 300 (75 * existing quantity 4)", updated.Amount)
	}
	if updated.UpdatedBy != "u-leader" {
		t.Fatalf("last editor=%q, want u-leader", updated.UpdatedBy)
	}
}

func TestUpdateWithoutRepriceKeepsAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, "u-officer", time.Time{}, "u-member", ResourceAlco, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Price change alone must not drift the stored amount.
	if _, err := f.rules.Upsert(ctx, pricing.Rule{Resource: "ALCO", Tier: 3, UnitPrice: 999}); err != nil {
		t.Fatal(err)
	}
	newDate := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.Update(ctx, "u-officer", entry.ID, Patch{Date: &newDate})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Amount != entry.Amount {
		t.Fatalf("amount drifted: %v -> %v", entry.Amount, updated.Amount)
	}
}

func TestSetPaymentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, "u-officer", time.Time{}, "u-member", ResourceAlco, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	paid, err := f.svc.SetPaymentStatus(ctx, "u-officer", entry.ID, PaymentPaid)
	if err != nil {
		t.Fatal(err)
	}
	if paid.PaymentStatus != PaymentPaid || paid.PaidAt == nil {
		t.Fatalf("expected PAID with paid_at set: %+v", paid)
	}
	unpaid, err := f.svc.SetPaymentStatus(ctx, "u-officer", entry.ID, PaymentUnpaid)
	if err != nil {
		t.Fatal(err)
	}
	if unpaid.PaymentStatus != PaymentUnpaid || unpaid.PaidAt != nil {
		t.Fatalf("expected UNPAID with paid_at cleared: %+v", unpaid)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, "u-officer", time.Time{}, "u-member", ResourceAlco, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, "u-leader", entry.ID); err != nil {
		t.Fatal(err)
	}
	// Second delete of the same id still succeeds.
	if err := f.svc.Delete(ctx, "u-leader", entry.ID); err != nil {
		t.Fatalf("delete of missing entry: %v", err)
	}

	var deletes []audit.Event
	for _, ev := range f.recorder.Events() {
		if ev.Action == audit.ActionEntryDelete {
			deletes = append(deletes, ev)
		}
	}
	if len(deletes) != 1 {
		t.Fatalf("expected exactly one ENTRY_DELETE event, got %d", len(deletes))
	}
	if len(deletes[0].Before) == 0 || len(deletes[0].After) != 0 {
		t.Fatalf("delete event must carry before and no after: %+v", deletes[0])
	}
}

func TestUpdateMissingEntry(t *testing.T) {
	f := newFixture(t)
	tier := 2
	_, err := f.svc.Update(context.Background(), "u-officer", "no-such-id", Patch{Tier: &tier})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
