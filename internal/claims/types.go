package claims

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"clanledger.org/internal/entries"
	"clanledger.org/internal/pricing"
)

var (
	ErrInvalidInput   = errors.New("claims: invalid input")
	ErrNotFound       = errors.New("claims: not found")
	ErrAlreadyDecided = errors.New("claims: claim already decided")
)

// Status transitions are monotonic: PENDING moves to APPROVED or
// REJECTED exactly once and is terminal after that.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseOutcome validates a decision outcome (the two terminal states).
func ParseOutcome(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("%w: outcome must be APPROVED or REJECTED", ErrInvalidInput)
	}
}

// Quantities holds the three tier quantities of a submission; index 0
// is tier 1. Each must be >= 0 and at least one must be positive.
type Quantities [pricing.MaxTier]int

// Total sums all tiers.
func (q Quantities) Total() int {
	sum := 0
	for _, v := range q {
		sum += v
	}
	return sum
}

// Claim is one member submission proposing up to three resource
// turn-ins. TotalAmount is computed at submission time and frozen.
type Claim struct {
	ID          string           `json:"id"`
	SubmitterID string           `json:"submitter_id"`
	Resource    entries.Resource `json:"resource"`
	Date        time.Time        `json:"date"`
	Quantities  Quantities       `json:"quantities"`
	ProofRef    string           `json:"proof_ref"`
	CardDigits  string           `json:"card_digits,omitempty"`
	TotalAmount float64          `json:"total_amount"`

	Status       Status     `json:"status"`
	DecisionNote string     `json:"decision_note,omitempty"`
	DeciderID    string     `json:"decider_id,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filter bounds claim listings.
type Filter struct {
	Status      Status
	SubmitterID string
	Limit       int
}
