package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput  = errors.New("roles: invalid input")
	ErrNotFound      = errors.New("roles: not found")
	ErrProtectedRole = errors.New("roles: core role cannot be deleted")
)

const (
	// RoleLeader is the top anchor role. Assigning it requires actor
	// power >= LeaderPower; holders can only be blocked by root.
	RoleLeader = "LEADER"
	// RoleMember is the default role new members land on.
	RoleMember = "MEMBER"

	// LeaderPower is the minimum power required to hand out RoleLeader.
	LeaderPower = 90
	// MaxPower is the ceiling of the power scale and the effective power
	// of the root identity.
	MaxPower = 100
)

// Definition is a dynamically-defined role: a numeric power rank plus a
// bag of named capabilities. Hierarchy checks compare powers, never
// role names, except for the two core anchors above.
type Definition struct {
	Name         string          `json:"name"`
	Label        string          `json:"label"`
	Power        int             `json:"power"`
	Capabilities map[string]bool `json:"capabilities"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Store persists role definitions.
type Store interface {
	List(ctx context.Context) ([]Definition, error)
	Get(ctx context.Context, name string) (Definition, error)
	Upsert(ctx context.Context, def Definition) (Definition, error)
	Delete(ctx context.Context, name string) error
}

// Registry resolves powers and effective capability sets from the
// latest committed role definitions. It holds no cache: reads always
// hit the store so runtime role edits take effect immediately.
type Registry struct {
	store Store
}

func NewRegistry(store Store) (*Registry, error) {
	if store == nil {
		return nil, errors.New("roles: store is required")
	}
	return &Registry{store: store}, nil
}

// List returns all role definitions.
func (r *Registry) List(ctx context.Context) ([]Definition, error) {
	return r.store.List(ctx)
}

// Get returns one role definition by name.
func (r *Registry) Get(ctx context.Context, name string) (Definition, error) {
	name = NormalizeName(name)
	if name == "" {
		return Definition{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return r.store.Get(ctx, name)
}

// Upsert creates or updates a role definition. Power is clamped to
// [0, MaxPower].
func (r *Registry) Upsert(ctx context.Context, def Definition) (Definition, error) {
	def.Name = NormalizeName(def.Name)
	if def.Name == "" {
		return Definition{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	def.Label = strings.TrimSpace(def.Label)
	if def.Label == "" {
		def.Label = def.Name
	}
	if def.Power < 0 {
		def.Power = 0
	}
	if def.Power > MaxPower {
		def.Power = MaxPower
	}
	if def.Capabilities == nil {
		def.Capabilities = map[string]bool{}
	}
	return r.store.Upsert(ctx, def)
}

// Delete removes a non-core role definition.
func (r *Registry) Delete(ctx context.Context, name string) error {
	name = NormalizeName(name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if IsCore(name) {
		return fmt.Errorf("%w: %s", ErrProtectedRole, name)
	}
	return r.store.Delete(ctx, name)
}

// PowerOf returns the power rank of a role, 0 when the role is unknown.
func (r *Registry) PowerOf(ctx context.Context, name string) int {
	def, err := r.store.Get(ctx, NormalizeName(name))
	if err != nil {
		return 0
	}
	return def.Power
}

// EffectiveCapabilities unions the capability bags of the primary role
// and all additional roles. Union is OR per key; later roles never
// override earlier ones.
func (r *Registry) EffectiveCapabilities(ctx context.Context, primary string, extras []string) (map[string]bool, error) {
	caps := map[string]bool{}
	names := append([]string{primary}, extras...)
	for _, name := range names {
		name = NormalizeName(name)
		if name == "" {
			continue
		}
		def, err := r.store.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for key, granted := range def.Capabilities {
			if granted {
				caps[key] = true
			}
		}
	}
	return caps, nil
}

// IsCore reports whether name is one of the protected anchor roles.
func IsCore(name string) bool {
	return name == RoleLeader || name == RoleMember
}

// NormalizeName canonicalizes a role name for lookups.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
