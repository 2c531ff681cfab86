package authz

import (
	"context"
	"fmt"
	"strings"

	"clanledger.org/internal/entries"
	"clanledger.org/internal/roles"
)

// Actions gated by a static primary-role allow-list. These are coarse
// endpoint gates; finer decisions go through capabilities.
const (
	ActionReviewClaims  = "claims.review"
	ActionManageEntries = "entries.manage"
	ActionManageRoles   = "roles.manage"
	ActionManageUsers   = "users.manage"
	ActionManagePricing = "pricing.manage"
	ActionViewAudit     = "audit.view"
)

// legacyStaffRole predates capability bags: members holding it moderate
// both resource kinds even without a capability row.
const legacyStaffRole = "OFFICER"

var staticAllowLists = map[string][]string{
	ActionReviewClaims:  {roles.RoleLeader, legacyStaffRole},
	ActionManageEntries: {roles.RoleLeader, legacyStaffRole},
	ActionManageRoles:   {roles.RoleLeader},
	ActionManageUsers:   {roles.RoleLeader},
	ActionManagePricing: {roles.RoleLeader},
	ActionViewAudit:     {roles.RoleLeader},
}

// capabilityForAction lets a granted capability satisfy an action gate
// even when the primary role is not on the static allow-list.
var capabilityForAction = map[string]string{
	ActionReviewClaims:  roles.CapManageEntries,
	ActionManageEntries: roles.CapManageEntries,
	ActionManageRoles:   roles.CapManageRoles,
	ActionManageUsers:   roles.CapManageUsers,
	ActionManagePricing: roles.CapManagePricing,
	ActionViewAudit:     roles.CapViewAudit,
}

// Guard is the policy layer: role membership, numeric power comparisons
// and capability flags feed every allow/deny decision.
type Guard struct {
	registry *roles.Registry

	// rootExternalID designates the single identity exempt from all
	// hierarchy checks. Matched against Actor.ExternalID.
	rootExternalID string
}

func NewGuard(registry *roles.Registry, rootExternalID string) (*Guard, error) {
	if registry == nil {
		return nil, fmt.Errorf("authz: registry is required")
	}
	return &Guard{
		registry:       registry,
		rootExternalID: strings.TrimSpace(rootExternalID),
	}, nil
}

// IsRoot reports whether the actor is the configured root identity.
func (g *Guard) IsRoot(actor Actor) bool {
	return g.rootExternalID != "" && actor.ExternalID == g.rootExternalID
}

// EffectivePower is the power used in every who-can-act-on-whom
// comparison: the primary role's rank, or MaxPower for root.
func (g *Guard) EffectivePower(ctx context.Context, actor Actor) int {
	if g.IsRoot(actor) {
		return roles.MaxPower
	}
	return g.registry.PowerOf(ctx, actor.Role)
}

// HasCapability checks the actor's effective capability set. Root holds
// every capability.
func (g *Guard) HasCapability(ctx context.Context, actor Actor, capability string) (bool, error) {
	if g.IsRoot(actor) {
		return true, nil
	}
	caps, err := g.registry.EffectiveCapabilities(ctx, actor.Role, actor.ExtraRoles)
	if err != nil {
		return false, err
	}
	return caps[capability], nil
}

// Can runs the static role-set check for an action, falling back to the
// action's capability when one is mapped.
func (g *Guard) Can(ctx context.Context, actor Actor, action string) (bool, error) {
	if g.IsRoot(actor) {
		return true, nil
	}
	for _, name := range staticAllowLists[action] {
		if roles.NormalizeName(actor.Role) == name {
			return true, nil
		}
	}
	if capability, ok := capabilityForAction[action]; ok {
		return g.HasCapability(ctx, actor, capability)
	}
	return false, nil
}

// Assert is Can with a ForbiddenError result on deny.
func (g *Guard) Assert(ctx context.Context, actor Actor, action string) error {
	ok, err := g.Can(ctx, actor, action)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}
	return nil
}

// CanModerate decides whether the actor may review claims for a
// resource kind. The checks form an ordered fallback chain, OR-combined
// and short-circuiting: capability bag, then the legacy per-actor flag,
// then the legacy staff role. Absent capability rows must not break
// existing staff access.
func (g *Guard) CanModerate(ctx context.Context, actor Actor, resource entries.Resource) (bool, error) {
	if g.IsRoot(actor) {
		return true, nil
	}
	capability := roles.CapModerateAlco
	legacyFlag := actor.ModeratesAlco
	if resource == entries.ResourcePetra {
		capability = roles.CapModeratePetra
		legacyFlag = actor.ModeratesPetra
	}
	if ok, err := g.HasCapability(ctx, actor, capability); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if legacyFlag {
		return true, nil
	}
	primary := roles.NormalizeName(actor.Role)
	return primary == roles.RoleLeader || primary == legacyStaffRole, nil
}

// AssertModerates is CanModerate with a ForbiddenError result on deny.
func (g *Guard) AssertModerates(ctx context.Context, actor Actor, resource entries.Resource) error {
	ok, err := g.CanModerate(ctx, actor, resource)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a moderator for %s", ErrForbidden, resource)
	}
	return nil
}

// CheckRoleChange enforces the hierarchy-protection rules for assigning
// newRole to target:
//
//  1. root bypasses everything (the role must still exist);
//  2. no self-change;
//  3. the target's power must be strictly below the actor's;
//  4. the assigned role's power must be strictly below the actor's;
//  5. the leader role may only be handed out by actors at or above
//     roles.LeaderPower.
func (g *Guard) CheckRoleChange(ctx context.Context, actor, target Actor, newRole string) error {
	newRole = roles.NormalizeName(newRole)
	if _, err := g.registry.Get(ctx, newRole); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRole, newRole)
	}
	if g.IsRoot(actor) {
		return nil
	}
	if actor.ID == target.ID {
		return ErrSelfRoleChange
	}
	actorPower := g.EffectivePower(ctx, actor)
	if g.EffectivePower(ctx, target) >= actorPower {
		return ErrInsufficientPower
	}
	if newRole == roles.RoleLeader {
		if actorPower < roles.LeaderPower {
			return ErrLeaderProtected
		}
		return nil
	}
	if g.registry.PowerOf(ctx, newRole) >= actorPower {
		return ErrRoleTooHigh
	}
	return nil
}

// CheckBlock enforces the hierarchy-protection rules for blocking or
// unblocking a target. Blocking requires a non-empty reason; the root
// identity can never be blocked; a leader can only be blocked by root.
func (g *Guard) CheckBlock(ctx context.Context, actor, target Actor, blocked bool, reason string) error {
	if blocked && strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: block reason is required", ErrValidation)
	}
	if g.IsRoot(target) {
		return ErrRootProtected
	}
	if g.IsRoot(actor) {
		return nil
	}
	if roles.NormalizeName(target.Role) == roles.RoleLeader {
		return ErrLeaderProtected
	}
	if g.EffectivePower(ctx, target) >= g.EffectivePower(ctx, actor) {
		return ErrInsufficientPower
	}
	return nil
}
