package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"clanledger.org/internal/claims"
	"clanledger.org/internal/entries"
)

// ClaimStore persists claims and runs the approval fan-out.
type ClaimStore struct {
	db *sql.DB
}

var _ claims.Store = (*ClaimStore)(nil)

const claimColumns = `
	id, submitter_id, resource, date,
	qty_tier1, qty_tier2, qty_tier3,
	proof_ref, coalesce(card_digits,''), total_amount,
	status, coalesce(decision_note,''), coalesce(decider_id,''), decided_at,
	created_at, updated_at`

func (s *ClaimStore) Create(ctx context.Context, claim claims.Claim) (claims.Claim, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into entry_requests(
			id, submitter_id, resource, date,
			qty_tier1, qty_tier2, qty_tier3,
			proof_ref, card_digits, total_amount,
			status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,nullif($9,''),$10,$11,now(),now())
		returning`+claimColumns,
		claim.ID, claim.SubmitterID, string(claim.Resource), claim.Date,
		claim.Quantities[0], claim.Quantities[1], claim.Quantities[2],
		claim.ProofRef, claim.CardDigits, claim.TotalAmount,
		string(claim.Status))
	created, err := scanClaim(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrForeignKeyViolation:
				return claims.Claim{}, fmt.Errorf("%w: unknown submitter %s", claims.ErrInvalidInput, claim.SubmitterID)
			case pgErrUniqueViolation:
				return claims.Claim{}, fmt.Errorf("%w: duplicate claim id %s", claims.ErrInvalidInput, claim.ID)
			}
		}
		return claims.Claim{}, err
	}
	return created, nil
}

func (s *ClaimStore) Get(ctx context.Context, id string) (claims.Claim, error) {
	row := s.db.QueryRowContext(ctx, `select`+claimColumns+` from entry_requests where id=$1`, id)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return claims.Claim{}, fmt.Errorf("%w: claim %s", claims.ErrNotFound, id)
	}
	return claim, err
}

func (s *ClaimStore) List(ctx context.Context, filter claims.Filter) ([]claims.Claim, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `select` + claimColumns + ` from entry_requests`
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.SubmitterID != "" {
		args = append(args, filter.SubmitterID)
		conds = append(conds, fmt.Sprintf("submitter_id=$%d", len(args)))
	}
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by created_at desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []claims.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, claim)
	}
	return out, rows.Err()
}

// Reject flips a PENDING claim to REJECTED. The predicate guards
// against a concurrent decision; zero rows updated means someone else
// decided first.
func (s *ClaimStore) Reject(ctx context.Context, claim claims.Claim) (claims.Claim, error) {
	row := s.db.QueryRowContext(ctx, `
		update entry_requests
		set status=$2, decision_note=nullif($3,''), decider_id=$4, decided_at=$5, updated_at=$5
		where id=$1 and status='PENDING'
		returning`+claimColumns,
		claim.ID, string(claims.StatusRejected), claim.DecisionNote, claim.DeciderID, nullTime(claim.DecidedAt))
	updated, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return claims.Claim{}, claims.ErrAlreadyDecided
	}
	return updated, err
}

// Approve flips a PENDING claim to APPROVED and inserts the fan-out
// entries in one transaction. Either everything commits or nothing
// does; a lost race against another decider rolls back with
// ErrAlreadyDecided.
func (s *ClaimStore) Approve(ctx context.Context, claim claims.Claim, fanout []entries.Entry) (claims.Claim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return claims.Claim{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		update entry_requests
		set status=$2, decision_note=nullif($3,''), decider_id=$4, decided_at=$5, updated_at=$5
		where id=$1 and status='PENDING'
		returning`+claimColumns,
		claim.ID, string(claims.StatusApproved), claim.DecisionNote, claim.DeciderID, nullTime(claim.DecidedAt))
	updated, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return claims.Claim{}, claims.ErrAlreadyDecided
	}
	if err != nil {
		return claims.Claim{}, err
	}

	for _, entry := range fanout {
		if _, err := tx.ExecContext(ctx, `
			insert into entries(
				id, date, submitter_id, resource, tier, quantity, amount,
				payment_status, paid_at, claim_id, created_by, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		`, entry.ID, entry.Date, entry.SubmitterID, string(entry.Resource),
			entry.Tier, entry.Quantity, entry.Amount,
			string(entry.PaymentStatus), nullTime(entry.PaidAt), entry.ClaimID,
			entry.CreatedBy, entry.CreatedAt); err != nil {
			return claims.Claim{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return claims.Claim{}, err
	}
	return updated, nil
}

func scanClaim(row rowScanner) (claims.Claim, error) {
	var claim claims.Claim
	var resource, status string
	var decidedAt sql.NullTime
	err := row.Scan(
		&claim.ID, &claim.SubmitterID, &resource, &claim.Date,
		&claim.Quantities[0], &claim.Quantities[1], &claim.Quantities[2],
		&claim.ProofRef, &claim.CardDigits, &claim.TotalAmount,
		&status, &claim.DecisionNote, &claim.DeciderID, &decidedAt,
		&claim.CreatedAt, &claim.UpdatedAt)
	if err != nil {
		return claims.Claim{}, err
	}
	claim.Resource = entries.Resource(resource)
	claim.Status = claims.Status(status)
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		claim.DecidedAt = &t
	}
	return claim, nil
}
