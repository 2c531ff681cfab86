package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidInput = errors.New("pricing: invalid input")
	ErrNotFound     = errors.New("pricing: not found")
)

const (
	// BaseUnit is the fallback unit price multiplier: an unpriced tier
	// resolves to tier * BaseUnit.
	BaseUnit = 50.0

	MinTier = 1
	MaxTier = 3
)

// Rule maps one (resource, tier) pair to an explicit unit price.
type Rule struct {
	Resource  string  `json:"resource"`
	Tier      int     `json:"tier"`
	UnitPrice float64 `json:"unit_price"`
}

// RuleStore persists pricing overrides. (resource, tier) is unique.
type RuleStore interface {
	Rule(ctx context.Context, resource string, tier int) (Rule, error)
	Upsert(ctx context.Context, rule Rule) (Rule, error)
	List(ctx context.Context) ([]Rule, error)
}

// Resolver resolves unit prices with a deterministic fallback when no
// explicit rule exists.
type Resolver struct {
	store RuleStore
}

func NewResolver(store RuleStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("pricing: rule store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve returns the unit price for (resource, tier). A missing rule
// falls back to tier * BaseUnit.
func (r *Resolver) Resolve(ctx context.Context, resource string, tier int) (float64, error) {
	tier = ClampTier(tier)
	rule, err := r.store.Rule(ctx, resource, tier)
	if errors.Is(err, ErrNotFound) {
		return float64(tier) * BaseUnit, nil
	}
	if err != nil {
		return 0, err
	}
	return rule.UnitPrice, nil
}

// ComputeAmount returns round2(unitPrice * quantity). Out-of-range tier
// and quantity values are clamped rather than rejected: malformed but
// well-intentioned input is corrected, per policy.
func (r *Resolver) ComputeAmount(ctx context.Context, resource string, tier, quantity int) (float64, error) {
	tier = ClampTier(tier)
	if quantity < 1 {
		quantity = 1
	}
	price, err := r.Resolve(ctx, resource, tier)
	if err != nil {
		return 0, err
	}
	return Round2(price * float64(quantity)), nil
}

// UpsertRule validates and stores an explicit price override.
func (r *Resolver) UpsertRule(ctx context.Context, rule Rule) (Rule, error) {
	rule.Resource = strings.ToUpper(strings.TrimSpace(rule.Resource))
	if rule.Resource == "" {
		return Rule{}, fmt.Errorf("%w: resource is required", ErrInvalidInput)
	}
	if rule.Tier < MinTier || rule.Tier > MaxTier {
		return Rule{}, fmt.Errorf("%w: tier must be between %d and %d", ErrInvalidInput, MinTier, MaxTier)
	}
	if rule.UnitPrice < 0 {
		return Rule{}, fmt.Errorf("%w: unit price must be >= 0", ErrInvalidInput)
	}
	rule.UnitPrice = Round2(rule.UnitPrice)
	return r.store.Upsert(ctx, rule)
}

// ListRules returns all explicit overrides.
func (r *Resolver) ListRules(ctx context.Context) ([]Rule, error) {
	return r.store.List(ctx)
}

// ClampTier forces a tier into the valid [MinTier, MaxTier] range.
func ClampTier(tier int) int {
	if tier < MinTier {
		return MinTier
	}
	if tier > MaxTier {
		return MaxTier
	}
	return tier
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
