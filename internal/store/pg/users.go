package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"clanledger.org/internal/authz"
	"clanledger.org/internal/users"
)

// UserStore persists member accounts.
type UserStore struct {
	db *sql.DB
}

var _ users.Store = (*UserStore)(nil)

const userColumns = `
	id, external_id, display_name, role, extra_roles,
	moderates_alco, moderates_petra, blocked, approved, frozen,
	created_at, updated_at`

func (s *UserStore) Get(ctx context.Context, id string) (authz.Actor, error) {
	row := s.db.QueryRowContext(ctx, `select`+userColumns+` from users where id=$1`, id)
	actor, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Actor{}, fmt.Errorf("%w: user %s", users.ErrNotFound, id)
	}
	return actor, err
}

func (s *UserStore) GetByExternalID(ctx context.Context, externalID string) (authz.Actor, error) {
	row := s.db.QueryRowContext(ctx, `select`+userColumns+` from users where external_id=$1`, externalID)
	actor, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Actor{}, fmt.Errorf("%w: external id %s", users.ErrNotFound, externalID)
	}
	return actor, err
}

func (s *UserStore) List(ctx context.Context) ([]authz.Actor, error) {
	rows, err := s.db.QueryContext(ctx, `select`+userColumns+` from users order by display_name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Actor
	for rows.Next() {
		actor, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	return out, rows.Err()
}

func (s *UserStore) UpdateRole(ctx context.Context, id, role string) (authz.Actor, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set role=$2, updated_at=now()
		where id=$1
		returning`+userColumns, id, role)
	actor, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Actor{}, fmt.Errorf("%w: user %s", users.ErrNotFound, id)
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.Actor{}, fmt.Errorf("%w: unknown role %s", users.ErrInvalidInput, role)
		}
		return authz.Actor{}, err
	}
	return actor, nil
}

func (s *UserStore) UpdateBlocked(ctx context.Context, id string, blocked bool, reason string) (authz.Actor, error) {
	row := s.db.QueryRowContext(ctx, `
		update users set blocked=$2, block_reason=nullif($3,''), updated_at=now()
		where id=$1
		returning`+userColumns, id, blocked, reason)
	actor, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Actor{}, fmt.Errorf("%w: user %s", users.ErrNotFound, id)
	}
	return actor, err
}

// Upsert creates or refreshes an account keyed by external identity,
// used by sign-in. New members land on the default role unapproved.
func (s *UserStore) Upsert(ctx context.Context, actor authz.Actor) (authz.Actor, error) {
	extras, err := json.Marshal(actor.ExtraRoles)
	if err != nil {
		return authz.Actor{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users(
			id, external_id, display_name, role, extra_roles,
			moderates_alco, moderates_petra, blocked, approved, frozen,
			created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
		on conflict (external_id) do update
		set display_name=excluded.display_name, updated_at=now()
		returning`+userColumns,
		actor.ID, actor.ExternalID, actor.DisplayName, actor.Role, extras,
		actor.ModeratesAlco, actor.ModeratesPetra, actor.Blocked, actor.Approved, actor.Frozen)
	return scanUser(row)
}

func scanUser(row rowScanner) (authz.Actor, error) {
	var actor authz.Actor
	var extras []byte
	if err := row.Scan(
		&actor.ID, &actor.ExternalID, &actor.DisplayName, &actor.Role, &extras,
		&actor.ModeratesAlco, &actor.ModeratesPetra, &actor.Blocked, &actor.Approved, &actor.Frozen,
		&actor.CreatedAt, &actor.UpdatedAt); err != nil {
		return authz.Actor{}, err
	}
	if len(extras) > 0 {
		if err := json.Unmarshal(extras, &actor.ExtraRoles); err != nil {
			return authz.Actor{}, err
		}
	}
	return actor, nil
}
