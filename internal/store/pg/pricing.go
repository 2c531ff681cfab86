package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"clanledger.org/internal/pricing"
)

// PricingStore persists per-tier unit price overrides.
type PricingStore struct {
	db *sql.DB
}

var _ pricing.RuleStore = (*PricingStore)(nil)

func (s *PricingStore) Rule(ctx context.Context, resource string, tier int) (pricing.Rule, error) {
	var rule pricing.Rule
	err := s.db.QueryRowContext(ctx, `
		select resource, tier, unit_price
		from pricing_rules
		where resource=$1 and tier=$2
	`, resource, tier).Scan(&rule.Resource, &rule.Tier, &rule.UnitPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return pricing.Rule{}, fmt.Errorf("%w: no rule for %s tier %d", pricing.ErrNotFound, resource, tier)
	}
	if err != nil {
		return pricing.Rule{}, err
	}
	return rule, nil
}

func (s *PricingStore) Upsert(ctx context.Context, rule pricing.Rule) (pricing.Rule, error) {
	var out pricing.Rule
	err := s.db.QueryRowContext(ctx, `
		insert into pricing_rules(resource, tier, unit_price, updated_at)
		values ($1,$2,$3,now())
		on conflict (resource, tier) do update
		set unit_price=excluded.unit_price, updated_at=now()
		returning resource, tier, unit_price
	`, rule.Resource, rule.Tier, rule.UnitPrice).Scan(&out.Resource, &out.Tier, &out.UnitPrice)
	if err != nil {
		return pricing.Rule{}, err
	}
	return out, nil
}

func (s *PricingStore) List(ctx context.Context) ([]pricing.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select resource, tier, unit_price
		from pricing_rules
		order by resource asc, tier asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []pricing.Rule
	for rows.Next() {
		var rule pricing.Rule
		if err := rows.Scan(&rule.Resource, &rule.Tier, &rule.UnitPrice); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
