package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clanledger.org/internal/roles"
)

// RoleStore persists role definitions.
type RoleStore struct {
	db *sql.DB
}

var _ roles.Store = (*RoleStore)(nil)

func (s *RoleStore) List(ctx context.Context) ([]roles.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		select name, label, power, capabilities, created_at, updated_at
		from role_definitions
		order by power desc, name asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []roles.Definition
	for rows.Next() {
		def, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *RoleStore) Get(ctx context.Context, name string) (roles.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		select name, label, power, capabilities, created_at, updated_at
		from role_definitions
		where name=$1
	`, name)
	def, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return roles.Definition{}, fmt.Errorf("%w: role %s", roles.ErrNotFound, name)
	}
	return def, err
}

func (s *RoleStore) Upsert(ctx context.Context, def roles.Definition) (roles.Definition, error) {
	caps, err := json.Marshal(def.Capabilities)
	if err != nil {
		return roles.Definition{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into role_definitions(name, label, power, capabilities, created_at, updated_at)
		values ($1,$2,$3,$4,now(),now())
		on conflict (name) do update
		set label=excluded.label, power=excluded.power,
		    capabilities=excluded.capabilities, updated_at=now()
		returning name, label, power, capabilities, created_at, updated_at
	`, def.Name, def.Label, def.Power, caps)
	return scanRole(row)
}

func (s *RoleStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `delete from role_definitions where name=$1`, name)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: role %s is still assigned", roles.ErrInvalidInput, name)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: role %s", roles.ErrNotFound, name)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (roles.Definition, error) {
	var def roles.Definition
	var caps []byte
	var created, updated time.Time
	if err := row.Scan(&def.Name, &def.Label, &def.Power, &caps, &created, &updated); err != nil {
		return roles.Definition{}, err
	}
	def.CreatedAt = created
	def.UpdatedAt = updated
	def.Capabilities = map[string]bool{}
	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &def.Capabilities); err != nil {
			return roles.Definition{}, err
		}
	}
	return def, nil
}
