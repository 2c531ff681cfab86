package pricing

import (
	"context"
	"errors"
	"testing"
)

type memRuleStore struct {
	rules map[string]Rule
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{rules: make(map[string]Rule)}
}

func ruleKey(resource string, tier int) string {
	return resource + "/" + string(rune('0'+tier))
}

func (s *memRuleStore) Rule(ctx context.Context, resource string, tier int) (Rule, error) {
	rule, ok := s.rules[ruleKey(resource, tier)]
	if !ok {
		return Rule{}, ErrNotFound
	}
	return rule, nil
}

func (s *memRuleStore) Upsert(ctx context.Context, rule Rule) (Rule, error) {
	s.rules[ruleKey(rule.Resource, rule.Tier)] = rule
	return rule, nil
}

func (s *memRuleStore) List(ctx context.Context) ([]Rule, error) {
	var out []Rule
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func TestResolveFallback(t *testing.T) {
	r, err := NewResolver(newMemRuleStore())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for tier := 1; tier <= 3; tier++ {
		price, err := r.Resolve(ctx, "ALCO", tier)
		if err != nil {
			t.Fatal(err)
		}
		if want := float64(tier) * BaseUnit; price != want {
			t.Fatalf("tier %d: price=%v, want %v", tier, price, want)
		}
	}
}

func TestResolveOverride(t *testing.T) {
	store := newMemRuleStore()
	r, _ := NewResolver(store)
	ctx := context.Background()

	if _, err := r.UpsertRule(ctx, Rule{Resource: "petra", Tier: 2, UnitPrice: 100}); err != nil {
		t.Fatal(err)
	}

	price, err := r.Resolve(ctx, "PETRA", 2)
	if err != nil {
		t.Fatal(err)
	}
	if price != 100 {
		t.Fatalf("price=%v, want 100", price)
	}
	// Other tiers still fall back.
	price, _ = r.Resolve(ctx, "PETRA", 3)
	if price != 3*BaseUnit {
		t.Fatalf("tier 3 price=%v, want %v", price, 3*BaseUnit)
	}
}

func TestComputeAmountClamps(t *testing.T) {
	r, _ := NewResolver(newMemRuleStore())
	ctx := context.Background()

	// Tier 9 clamps to 3, quantity -5 clamps to 1.
	amount, err := r.ComputeAmount(ctx, "ALCO", 9, -5)
	if err != nil {
		t.Fatal(err)
	}
	if want := 3 * BaseUnit; amount != want {
		t.Fatalf("amount=%v, want %v", amount, want)
	}
}

func TestComputeAmountRounds(t *testing.T) {
	store := newMemRuleStore()
	r, _ := NewResolver(store)
	ctx := context.Background()

	if _, err := r.UpsertRule(ctx, Rule{Resource: "ALCO", Tier: 1, UnitPrice: 33.333}); err != nil {
		t.Fatal(err)
	}
	amount, err := r.ComputeAmount(ctx, "ALCO", 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	// Stored price is rounded to 33.33 before multiplication.
	if amount != 99.99 {
		t.Fatalf("amount=%v, want 99.99", amount)
	}
}

func TestUpsertRuleValidation(t *testing.T) {
	r, _ := NewResolver(newMemRuleStore())
	ctx := context.Background()

	cases := []Rule{
		{Resource: "", Tier: 1, UnitPrice: 10},
		{Resource: "ALCO", Tier: 0, UnitPrice: 10},
		{Resource: "ALCO", Tier: 4, UnitPrice: 10},
		{Resource: "ALCO", Tier: 1, UnitPrice: -1},
	}
	for _, rule := range cases {
		if _, err := r.UpsertRule(ctx, rule); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("rule %+v: expected ErrInvalidInput, got %v", rule, err)
		}
	}
}
