// Package purchase models the commerce system's payment records as seen by
// the discount service: creation, status transitions, and the applied
// discount reference written at creation time.
package purchase

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is a purchase lifecycle state. The commerce system historically
// used "publish" for completed payments; "complete" is the modern alias.
// Both are treated as the completed state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPublish    Status = "publish"
	StatusComplete   Status = "complete"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
)

// Completed reports whether the status is a completed state.
func (s Status) Completed() bool {
	return s == StatusPublish || s == StatusComplete
}

// ErrNotFound is returned when a purchase lookup finds nothing.
var ErrNotFound = errors.New("purchase not found")

// Purchase is a payment record. AppliedDiscountID is written once at
// creation time from the session's pending discount and never updated.
type Purchase struct {
	ID                string
	UserID            string
	Subtotal          decimal.Decimal
	Total             decimal.Decimal
	Status            Status
	AppliedDiscountID string
	DiscountCounted   bool
	CreatedAt         time.Time
}

// CreatedEvent is emitted when the commerce system inserts a new payment.
type CreatedEvent struct {
	PurchaseID string
	SessionID  string
}

// StatusChangedEvent is emitted on every purchase status transition.
type StatusChangedEvent struct {
	PurchaseID string
	OldStatus  Status
	NewStatus  Status
}

// Repository provides persistence for purchases.
//
// SetAppliedDiscount attaches the discount reference; it is a one-shot write
// at creation time. MarkDiscountCounted sets the counted flag and reports
// whether this call was the first to do so, which makes the usage-counter
// increment at-most-once per purchase.
type Repository interface {
	Create(ctx context.Context, p *Purchase) error
	GetByID(ctx context.Context, id string) (*Purchase, error)
	SetAppliedDiscount(ctx context.Context, purchaseID, discountID string) error
	UpdateStatus(ctx context.Context, purchaseID string, status Status) (old Status, err error)
	MarkDiscountCounted(ctx context.Context, purchaseID string) (first bool, err error)
}
