package claims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clanledger.org/internal/audit"
	"clanledger.org/internal/authz"
	"clanledger.org/internal/entries"
	"clanledger.org/internal/ids"
	"clanledger.org/internal/obs"
	"clanledger.org/internal/pricing"
)

// Store persists claims. Approve must run the full fan-out atomically:
// either every entry and the status flip commit, or nothing does. Both
// Approve and Reject flip the status with a PENDING predicate and
// return ErrAlreadyDecided when a concurrent decision won.
type Store interface {
	Create(ctx context.Context, claim Claim) (Claim, error)
	Get(ctx context.Context, id string) (Claim, error)
	List(ctx context.Context, filter Filter) ([]Claim, error)
	Reject(ctx context.Context, claim Claim) (Claim, error)
	Approve(ctx context.Context, claim Claim, fanout []entries.Entry) (Claim, error)
}

// Service is the claim lifecycle state machine.
type Service struct {
	store    Store
	pricing  *pricing.Resolver
	guard    *authz.Guard
	recorder audit.Recorder
	now      func() time.Time
}

func NewService(store Store, resolver *pricing.Resolver, guard *authz.Guard, recorder audit.Recorder) (*Service, error) {
	if store == nil || resolver == nil || guard == nil || recorder == nil {
		return nil, errors.New("claims: store, resolver, guard and recorder are required")
	}
	return &Service{
		store:    store,
		pricing:  resolver,
		guard:    guard,
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

// Submit validates and persists a new PENDING claim. The total is the
// sum over nonzero tiers of the current unit price times quantity,
// frozen once computed. Unapproved and frozen accounts cannot submit.
func (s *Service) Submit(ctx context.Context, actor authz.Actor, resource entries.Resource, date time.Time, qty Quantities, proofRef, cardDigits string) (Claim, error) {
	if !actor.Approved || actor.Frozen {
		return Claim{}, fmt.Errorf("%w: account is not active", authz.ErrForbidden)
	}
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return Claim{}, fmt.Errorf("%w: proof screenshot is required", ErrInvalidInput)
	}
	cardDigits = strings.TrimSpace(cardDigits)
	if cardDigits != "" && (!isDigits(cardDigits) || len(cardDigits) > 4) {
		return Claim{}, fmt.Errorf("%w: card digits must be up to 4 digits", ErrInvalidInput)
	}
	for i, v := range qty {
		if v < 0 {
			return Claim{}, fmt.Errorf("%w: tier %d quantity must be >= 0", ErrInvalidInput, i+1)
		}
	}
	if qty.Total() == 0 {
		return Claim{}, fmt.Errorf("%w: at least one tier quantity must be > 0", ErrInvalidInput)
	}
	if date.IsZero() {
		date = s.now().UTC()
	}

	total := 0.0
	for i, v := range qty {
		if v == 0 {
			continue
		}
		amount, err := s.pricing.ComputeAmount(ctx, string(resource), i+1, v)
		if err != nil {
			return Claim{}, err
		}
		total += amount
	}

	claim := Claim{
		ID:          ids.New(),
		SubmitterID: actor.ID,
		Resource:    resource,
		Date:        date,
		Quantities:  qty,
		ProofRef:    proofRef,
		CardDigits:  cardDigits,
		TotalAmount: pricing.Round2(total),
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	created, err := s.store.Create(ctx, claim)
	if err != nil {
		return Claim{}, err
	}

	audit.Record(ctx, s.recorder, actor.ID, audit.ActionRequestCreate, "claim", created.ID, nil, created)
	return created, nil
}

// Get loads one claim.
func (s *Service) Get(ctx context.Context, id string) (Claim, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Claim{}, fmt.Errorf("%w: claim id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns claims matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Claim, error) {
	return s.store.List(ctx, filter)
}

// Decide moves a PENDING claim to one of its terminal states. The actor
// must moderate the claim's resource kind.
//
// On approval, one PAID ledger entry is created per nonzero tier inside
// a single store transaction together with the status flip. Entry
// amounts are recomputed at decision time rather than reusing the
// claim's frozen total: if pricing changed between submission and
// approval, the ledger follows current policy and the posted total may
// differ from what the submitter saw. This drift is intentional.
func (s *Service) Decide(ctx context.Context, actor authz.Actor, claimID string, outcome Status, note string) (Claim, []entries.Entry, error) {
	if outcome != StatusApproved && outcome != StatusRejected {
		return Claim{}, nil, fmt.Errorf("%w: outcome must be %s or %s", ErrInvalidInput, StatusApproved, StatusRejected)
	}
	claim, err := s.store.Get(ctx, claimID)
	if err != nil {
		return Claim{}, nil, err
	}
	if claim.Status != StatusPending {
		return Claim{}, nil, fmt.Errorf("%w: claim is %s", ErrAlreadyDecided, claim.Status)
	}
	if err := s.guard.AssertModerates(ctx, actor, claim.Resource); err != nil {
		return Claim{}, nil, err
	}

	decidedAt := s.now().UTC()
	before := claim
	claim.Status = outcome
	claim.DecisionNote = strings.TrimSpace(note)
	claim.DeciderID = actor.ID
	claim.DecidedAt = &decidedAt
	claim.UpdatedAt = decidedAt

	if outcome == StatusRejected {
		updated, err := s.store.Reject(ctx, claim)
		if err != nil {
			return Claim{}, nil, err
		}
		obs.ObserveClaimDecision(string(StatusRejected))
		audit.Record(ctx, s.recorder, actor.ID, audit.ActionRequestDecision, "claim", updated.ID, before, updated)
		return updated, nil, nil
	}

	fanout, err := s.buildFanout(ctx, actor, claim, decidedAt)
	if err != nil {
		return Claim{}, nil, err
	}
	updated, err := s.store.Approve(ctx, claim, fanout)
	if err != nil {
		return Claim{}, nil, err
	}
	obs.ObserveClaimDecision(string(StatusApproved))

	audit.Record(ctx, s.recorder, actor.ID, audit.ActionRequestDecision, "claim", updated.ID, before, updated)
	for _, entry := range fanout {
		obs.ObserveEntryCreated("claim")
		audit.Record(ctx, s.recorder, actor.ID, audit.ActionEntryCreateFromClaim, "entry", entry.ID, nil, entry)
	}
	return updated, fanout, nil
}

// buildFanout creates one PAID entry per nonzero tier, priced at
// decision time.
func (s *Service) buildFanout(ctx context.Context, actor authz.Actor, claim Claim, decidedAt time.Time) ([]entries.Entry, error) {
	var fanout []entries.Entry
	for i, qty := range claim.Quantities {
		if qty == 0 {
			continue
		}
		tier := i + 1
		amount, err := s.pricing.ComputeAmount(ctx, string(claim.Resource), tier, qty)
		if err != nil {
			return nil, err
		}
		paidAt := decidedAt
		fanout = append(fanout, entries.Entry{
			ID:            ids.New(),
			Date:          claim.Date,
			SubmitterID:   claim.SubmitterID,
			Resource:      claim.Resource,
			Tier:          tier,
			Quantity:      qty,
			Amount:        amount,
			PaymentStatus: entries.PaymentPaid,
			PaidAt:        &paidAt,
			ClaimID:       claim.ID,
			CreatedBy:     actor.ID,
			CreatedAt:     decidedAt,
			UpdatedAt:     decidedAt,
		})
	}
	return fanout, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
