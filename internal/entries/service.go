package entries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/ids"
	"clanledger.org/internal/obs"
	"clanledger.org/internal/pricing"
)

// Store persists ledger entries. Delete returns the removed snapshot
// and false when the row was already gone; deleting a missing entry is
// not an error.
type Store interface {
	Create(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context, filter Filter) ([]Entry, error)
	Update(ctx context.Context, entry Entry) (Entry, error)
	Delete(ctx context.Context, id string) (Entry, bool, error)
}

// Filter bounds entry listings.
type Filter struct {
	SubmitterID   string
	Resource      Resource
	PaymentStatus PaymentStatus
	Limit         int
}

// Service is the append-mostly financial record behind the ledger page.
type Service struct {
	store    Store
	pricing  *pricing.Resolver
	recorder audit.Recorder
	now      func() time.Time
}

func NewService(store Store, resolver *pricing.Resolver, recorder audit.Recorder) (*Service, error) {
	if store == nil || resolver == nil || recorder == nil {
		return nil, errors.New("entries: store, resolver and recorder are required")
	}
	return &Service{
		store:    store,
		pricing:  resolver,
		recorder: recorder,
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Create posts a manual entry. Manual entries start UNPAID; only the
// claim-approval fan-out creates entries as PAID.
func (s *Service) Create(ctx context.Context, actorID string, date time.Time, submitterID string, resource Resource, tier, quantity int) (Entry, error) {
	submitterID = strings.TrimSpace(submitterID)
	if submitterID == "" {
		return Entry{}, fmt.Errorf("%w: submitter is required", ErrInvalidInput)
	}
	if date.IsZero() {
		date = s.now().UTC()
	}
	tier = pricing.ClampTier(tier)
	if quantity < 1 {
		quantity = 1
	}
	amount, err := s.pricing.ComputeAmount(ctx, string(resource), tier, quantity)
	if err != nil {
		return Entry{}, err
	}

	now := s.now().UTC()
	entry := Entry{
		ID:            ids.New(),
		Date:          date,
		SubmitterID:   submitterID,
		Resource:      resource,
		Tier:          tier,
		Quantity:      quantity,
		Amount:        amount,
		PaymentStatus: PaymentUnpaid,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := s.store.Create(ctx, entry)
	if err != nil {
		return Entry{}, err
	}

	obs.ObserveEntryCreated("manual")
	audit.Record(ctx, s.recorder, actorID, audit.ActionEntryCreate, "entry", created.ID, nil, created)
	return created, nil
}

// Get loads one entry.
func (s *Service) Get(ctx context.Context, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns entries matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Entry, error) {
	return s.store.List(ctx, filter)
}

// Update applies a partial edit. A resource or tier change recomputes
// the amount at current pricing using the entry's existing quantity;
// otherwise the amount never drifts.
func (s *Service) Update(ctx context.Context, actorID, id string, patch Patch) (Entry, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	before := entry

	repriced := false
	if patch.Date != nil {
		entry.Date = *patch.Date
	}
	if patch.SubmitterID != nil {
		submitter := strings.TrimSpace(*patch.SubmitterID)
		if submitter == "" {
			return Entry{}, fmt.Errorf("%w: submitter is required", ErrInvalidInput)
		}
		entry.SubmitterID = submitter
	}
	if patch.Resource != nil && *patch.Resource != entry.Resource {
		entry.Resource = *patch.Resource
		repriced = true
	}
	if patch.Tier != nil {
		tier := pricing.ClampTier(*patch.Tier)
		if tier != entry.Tier {
			entry.Tier = tier
			repriced = true
		}
	}
	if repriced {
		amount, err := s.pricing.ComputeAmount(ctx, string(entry.Resource), entry.Tier, entry.Quantity)
		if err != nil {
			return Entry{}, err
		}
		entry.Amount = amount
	}
	entry.UpdatedBy = actorID
	entry.UpdatedAt = s.now().UTC()

	updated, err := s.store.Update(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	audit.Record(ctx, s.recorder, actorID, audit.ActionEntryUpdate, "entry", updated.ID, before, updated)
	return updated, nil
}

// SetPaymentStatus toggles PAID/UNPAID. PaidAt is set iff the new
// status is PAID.
func (s *Service) SetPaymentStatus(ctx context.Context, actorID, id string, status PaymentStatus) (Entry, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	before := entry

	entry.PaymentStatus = status
	if status == PaymentPaid {
		paidAt := s.now().UTC()
		entry.PaidAt = &paidAt
	} else {
		entry.PaidAt = nil
	}
	entry.UpdatedBy = actorID
	entry.UpdatedAt = s.now().UTC()

	updated, err := s.store.Update(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	audit.Record(ctx, s.recorder, actorID, audit.ActionEntryPayment, "entry", updated.ID, before, updated)
	return updated, nil
}

// Delete hard-deletes an entry. Deleting a missing id succeeds without
// an audit event; for existing rows the audit snapshot is the only
// remaining record.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}
	deleted, found, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	audit.Record(ctx, s.recorder, actorID, audit.ActionEntryDelete, "entry", id, deleted, nil)
	return nil
}
