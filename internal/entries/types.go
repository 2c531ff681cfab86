package entries

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("entries: invalid input")
	ErrNotFound     = errors.New("entries: not found")
)

// Resource is one of the two enumerated turn-in kinds.
type Resource string

const (
	ResourceAlco  Resource = "ALCO"
	ResourcePetra Resource = "PETRA"
)

// ParseResource canonicalizes and validates a resource kind.
func ParseResource(raw string) (Resource, error) {
	switch Resource(strings.ToUpper(strings.TrimSpace(raw))) {
	case ResourceAlco:
		return ResourceAlco, nil
	case ResourcePetra:
		return ResourcePetra, nil
	default:
		return "", fmt.Errorf("%w: unknown resource %q", ErrInvalidInput, raw)
	}
}

// PaymentStatus of a posted entry.
type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "PAID"
	PaymentUnpaid PaymentStatus = "UNPAID"
)

// ParsePaymentStatus canonicalizes and validates a payment status.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentPaid:
		return PaymentPaid, nil
	case PaymentUnpaid:
		return PaymentUnpaid, nil
	default:
		return "", fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, raw)
	}
}

// Entry is one posted resource turn-in. Amount is frozen at creation or
// edit time using then-current pricing and never drifts silently.
type Entry struct {
	ID            string        `json:"id"`
	Date          time.Time     `json:"date"`
	SubmitterID   string        `json:"submitter_id"`
	Resource      Resource      `json:"resource"`
	Tier          int           `json:"tier"`
	Quantity      int           `json:"quantity"`
	Amount        float64       `json:"amount"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	ClaimID       string        `json:"claim_id,omitempty"`
	CreatedBy     string        `json:"created_by"`
	UpdatedBy     string        `json:"updated_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Patch is a partial update for Update. Nil fields are left untouched.
type Patch struct {
	Date        *time.Time
	SubmitterID *string
	Resource    *Resource
	Tier        *int
}
