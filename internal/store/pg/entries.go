package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"clanledger.org/internal/entries"
)

// EntryStore persists posted ledger entries.
type EntryStore struct {
	db *sql.DB
}

var _ entries.Store = (*EntryStore)(nil)

const entryColumns = `
	id, date, submitter_id, resource, tier, quantity, amount,
	payment_status, paid_at, coalesce(claim_id,''),
	created_by, coalesce(updated_by,''), created_at, updated_at`

func (s *EntryStore) Create(ctx context.Context, entry entries.Entry) (entries.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into entries(
			id, date, submitter_id, resource, tier, quantity, amount,
			payment_status, paid_at, claim_id, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,nullif($10,''),$11,now(),now())
		returning`+entryColumns,
		entry.ID, entry.Date, entry.SubmitterID, string(entry.Resource),
		entry.Tier, entry.Quantity, entry.Amount,
		string(entry.PaymentStatus), nullTime(entry.PaidAt), entry.ClaimID,
		entry.CreatedBy)
	created, err := scanEntry(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return entries.Entry{}, fmt.Errorf("%w: unknown submitter %s", entries.ErrInvalidInput, entry.SubmitterID)
		}
		return entries.Entry{}, err
	}
	return created, nil
}

func (s *EntryStore) Get(ctx context.Context, id string) (entries.Entry, error) {
	row := s.db.QueryRowContext(ctx, `select`+entryColumns+` from entries where id=$1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entries.Entry{}, fmt.Errorf("%w: entry %s", entries.ErrNotFound, id)
	}
	return entry, err
}

func (s *EntryStore) List(ctx context.Context, filter entries.Filter) ([]entries.Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `select` + entryColumns + ` from entries`
	var conds []string
	var args []any
	if filter.SubmitterID != "" {
		args = append(args, filter.SubmitterID)
		conds = append(conds, fmt.Sprintf("submitter_id=$%d", len(args)))
	}
	if filter.Resource != "" {
		args = append(args, string(filter.Resource))
		conds = append(conds, fmt.Sprintf("resource=$%d", len(args)))
	}
	if filter.PaymentStatus != "" {
		args = append(args, string(filter.PaymentStatus))
		conds = append(conds, fmt.Sprintf("payment_status=$%d", len(args)))
	}
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by date desc, created_at desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entries.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *EntryStore) Update(ctx context.Context, entry entries.Entry) (entries.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		update entries
		set date=$2, submitter_id=$3, resource=$4, tier=$5, quantity=$6, amount=$7,
		    payment_status=$8, paid_at=$9, updated_by=nullif($10,''), updated_at=now()
		where id=$1
		returning`+entryColumns,
		entry.ID, entry.Date, entry.SubmitterID, string(entry.Resource),
		entry.Tier, entry.Quantity, entry.Amount,
		string(entry.PaymentStatus), nullTime(entry.PaidAt), entry.UpdatedBy)
	updated, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entries.Entry{}, fmt.Errorf("%w: entry %s", entries.ErrNotFound, entry.ID)
	}
	return updated, err
}

// Delete removes an entry and returns its last snapshot. A missing row
// reports found=false without an error so deletes stay idempotent.
func (s *EntryStore) Delete(ctx context.Context, id string) (entries.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `delete from entries where id=$1 returning`+entryColumns, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entries.Entry{}, false, nil
	}
	if err != nil {
		return entries.Entry{}, false, err
	}
	return entry, true, nil
}

func scanEntry(row rowScanner) (entries.Entry, error) {
	var entry entries.Entry
	var resource, status string
	var paidAt sql.NullTime
	err := row.Scan(
		&entry.ID, &entry.Date, &entry.SubmitterID, &resource,
		&entry.Tier, &entry.Quantity, &entry.Amount,
		&status, &paidAt, &entry.ClaimID,
		&entry.CreatedBy, &entry.UpdatedBy, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return entries.Entry{}, err
	}
	entry.Resource = entries.Resource(resource)
	entry.PaymentStatus = entries.PaymentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		entry.PaidAt = &t
	}
	return entry, nil
}
