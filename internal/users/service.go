package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/ids"
	"clanledger.org/internal/roles"
)

var (
	ErrInvalidInput = errors.New("users: invalid input")
	ErrNotFound     = errors.New("users: not found")
)

// Store reads and patches the actor rows the identity integration
// maintains. Upsert exists for the break-glass root account only; the
// core never creates regular members.
type Store interface {
	Get(ctx context.Context, id string) (authz.Actor, error)
	GetByExternalID(ctx context.Context, externalID string) (authz.Actor, error)
	List(ctx context.Context) ([]authz.Actor, error)
	UpdateRole(ctx context.Context, id, role string) (authz.Actor, error)
	UpdateBlocked(ctx context.Context, id string, blocked bool, reason string) (authz.Actor, error)
	Upsert(ctx context.Context, actor authz.Actor) (authz.Actor, error)
}

// Service handles member administration: every mutation passes the
// guard's hierarchy rules and lands in the audit trail.
type Service struct {
	store    Store
	guard    *authz.Guard
	recorder audit.Recorder
}

func NewService(store Store, guard *authz.Guard, recorder audit.Recorder) (*Service, error) {
	if store == nil || guard == nil || recorder == nil {
		return nil, errors.New("users: store, guard and recorder are required")
	}
	return &Service{store: store, guard: guard, recorder: recorder}, nil
}

// Get loads one member.
func (s *Service) Get(ctx context.Context, id string) (authz.Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return authz.Actor{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// GetByExternalID resolves a member from the identity-provider id.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (authz.Actor, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return authz.Actor{}, fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}
	return s.store.GetByExternalID(ctx, externalID)
}

// List returns all members.
func (s *Service) List(ctx context.Context) ([]authz.Actor, error) {
	return s.store.List(ctx)
}

// EnsureRoot resolves the break-glass root account, creating its row on
// first sign-in so the service is operable before the identity
// integration has synced anyone. Credential checks happen at the HTTP
// layer; this only materializes the row.
func (s *Service) EnsureRoot(ctx context.Context, externalID string) (authz.Actor, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return authz.Actor{}, fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}
	actor, err := s.store.GetByExternalID(ctx, externalID)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return authz.Actor{}, err
	}
	return s.store.Upsert(ctx, authz.Actor{
		ID:          ids.New(),
		ExternalID:  externalID,
		DisplayName: "root",
		Role:        roles.RoleLeader,
		Approved:    true,
	})
}

// AssignRole changes the target's primary role after the guard's
// hierarchy checks pass.
func (s *Service) AssignRole(ctx context.Context, actor authz.Actor, targetID, newRole string) (authz.Actor, error) {
	target, err := s.store.Get(ctx, targetID)
	if err != nil {
		return authz.Actor{}, err
	}
	newRole = roles.NormalizeName(newRole)
	if err := s.guard.CheckRoleChange(ctx, actor, target, newRole); err != nil {
		return authz.Actor{}, err
	}

	before := target
	updated, err := s.store.UpdateRole(ctx, target.ID, newRole)
	if err != nil {
		return authz.Actor{}, err
	}
	audit.Record(ctx, s.recorder, actor.ID, audit.ActionRoleChange, "user", updated.ID, before, updated)
	return updated, nil
}

// SetBlocked blocks or unblocks the target. A block needs a non-empty
// reason; the reason is preserved in the audit snapshot.
func (s *Service) SetBlocked(ctx context.Context, actor authz.Actor, targetID string, blocked bool, reason string) (authz.Actor, error) {
	target, err := s.store.Get(ctx, targetID)
	if err != nil {
		return authz.Actor{}, err
	}
	if err := s.guard.CheckBlock(ctx, actor, target, blocked, reason); err != nil {
		return authz.Actor{}, err
	}

	before := target
	updated, err := s.store.UpdateBlocked(ctx, target.ID, blocked, strings.TrimSpace(reason))
	if err != nil {
		return authz.Actor{}, err
	}
	action := audit.ActionUserUnblock
	if blocked {
		action = audit.ActionUserBlock
	}
	after := struct {
		authz.Actor
		Reason string `json:"reason,omitempty"`
	}{updated, strings.TrimSpace(reason)}
	audit.Record(ctx, s.recorder, actor.ID, action, "user", updated.ID, before, after)
	return updated, nil
}
