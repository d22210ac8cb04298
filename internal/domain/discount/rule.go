package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// StatusPublish is the only lifecycle state an eligible rule can have.
// Saving a rule forces this status, so half-configured drafts are never
// matched at checkout.
const StatusPublish = "publish"

// ErrNoRule is returned when no rule targets the requested membership tier.
var ErrNoRule = errors.New("no discount rule for tier")

// ErrNotFound is returned when a rule lookup by ID finds nothing.
var ErrNotFound = errors.New("discount rule not found")

// Rule maps a membership tier to a percentage discount off the cart subtotal.
// Title is shown on the checkout screen when the discount applies.
type Rule struct {
	ID         string
	Title      string
	TierID     string
	Percent    int64
	UsageCount int64
	Status     string
	CreatedAt  time.Time
}

// Repository provides persistence for discount rules.
//
// MatchByTier returns the single rule targeting the given tier. When several
// rules target the same tier, the most recently created one wins.
// IncrementUsage bumps the lifetime usage counter; it never decrements.
type Repository interface {
	Create(ctx context.Context, r *Rule) error
	Update(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context) ([]Rule, error)
	MatchByTier(ctx context.Context, tierID string) (*Rule, error)
	IncrementUsage(ctx context.Context, id string) error
}
