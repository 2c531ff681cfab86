package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store bundles the per-domain Postgres stores over one shared pool.
// Each accessor satisfies the matching domain interface.
type Store struct {
	db *sql.DB
}

func (s *Store) Roles() *RoleStore      { return &RoleStore{db: s.db} }
func (s *Store) Pricing() *PricingStore { return &PricingStore{db: s.db} }
func (s *Store) Claims() *ClaimStore    { return &ClaimStore{db: s.db} }
func (s *Store) Entries() *EntryStore   { return &EntryStore{db: s.db} }
func (s *Store) Users() *UserStore      { return &UserStore{db: s.db} }
func (s *Store) Audit() *AuditStore     { return &AuditStore{db: s.db} }

// Open connects to Postgres via the pgx stdlib driver with tuned pool
// defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, for tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
