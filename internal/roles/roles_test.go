package roles

import (
	"context"
	"errors"
	"testing"
)

type memStore struct {
	defs map[string]Definition
}

func newMemStore() *memStore {
	return &memStore{defs: make(map[string]Definition)}
}

func (s *memStore) List(ctx context.Context) ([]Definition, error) {
	var out []Definition
	for _, d := range s.defs {
		out = append(out, d)
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, name string) (Definition, error) {
	def, ok := s.defs[name]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return def, nil
}

func (s *memStore) Upsert(ctx context.Context, def Definition) (Definition, error) {
	s.defs[def.Name] = def
	return def, nil
}

func (s *memStore) Delete(ctx context.Context, name string) error {
	if _, ok := s.defs[name]; !ok {
		return ErrNotFound
	}
	delete(s.defs, name)
	return nil
}

func seedRegistry(t *testing.T) *Registry {
	t.Helper()
	store := newMemStore()
	reg, err := NewRegistry(store)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	defs := []Definition{
		{Name: RoleLeader, Power: 100, Capabilities: map[string]bool{CapManageUsers: true, CapManageRoles: true}},
		{Name: "OFFICER", Power: 60, Capabilities: map[string]bool{CapModerateAlco: true}},
		{Name: "TREASURER", Power: 50, Capabilities: map[string]bool{CapModeratePetra: true, CapManageEntries: true}},
		{Name: RoleMember, Power: 10, Capabilities: map[string]bool{}},
	}
	for _, d := range defs {
		if _, err := reg.Upsert(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestPowerOf(t *testing.T) {
	reg := seedRegistry(t)
	ctx := context.Background()

	if p := reg.PowerOf(ctx, "officer"); p != 60 {
		t.Fatalf("PowerOf(officer)=%d, want 60", p)
	}
	if p := reg.PowerOf(ctx, "NO_SUCH_ROLE"); p != 0 {
		t.Fatalf("PowerOf(unknown)=%d, want 0", p)
	}
	leader := reg.PowerOf(ctx, RoleLeader)
	for _, name := range []string{"OFFICER", "TREASURER", RoleMember} {
		if reg.PowerOf(ctx, name) >= leader {
			t.Fatalf("%s power >= leader power", name)
		}
	}
}

func TestEffectiveCapabilitiesUnion(t *testing.T) {
	reg := seedRegistry(t)
	ctx := context.Background()

	caps, err := reg.EffectiveCapabilities(ctx, "OFFICER", []string{"TREASURER", "UNKNOWN"})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{CapModerateAlco, CapModeratePetra, CapManageEntries} {
		if !caps[key] {
			t.Fatalf("expected capability %s", key)
		}
	}
	if caps[CapManageUsers] {
		t.Fatal("unexpected manage_users capability")
	}
}

func TestDeleteProtectsCoreRoles(t *testing.T) {
	reg := seedRegistry(t)
	ctx := context.Background()

	for _, name := range []string{RoleLeader, RoleMember} {
		if err := reg.Delete(ctx, name); !errors.Is(err, ErrProtectedRole) {
			t.Fatalf("delete %s: expected ErrProtectedRole, got %v", name, err)
		}
	}
	if err := reg.Delete(ctx, "OFFICER"); err != nil {
		t.Fatalf("delete OFFICER: %v", err)
	}
	if p := reg.PowerOf(ctx, "OFFICER"); p != 0 {
		t.Fatalf("deleted role still has power %d", p)
	}
}

func TestUpsertClampsPower(t *testing.T) {
	reg := seedRegistry(t)
	ctx := context.Background()

	def, err := reg.Upsert(ctx, Definition{Name: "overlord", Power: 9000})
	if err != nil {
		t.Fatal(err)
	}
	if def.Power != MaxPower {
		t.Fatalf("power=%d, want %d", def.Power, MaxPower)
	}
	if def.Name != "OVERLORD" {
		t.Fatalf("name=%q, want OVERLORD", def.Name)
	}
}
