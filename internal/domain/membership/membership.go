// Package membership holds the member snapshot the checkout evaluator
// consumes from the membership system. The service only reads this data;
// subscription management itself lives elsewhere.
package membership

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// StatusActive is the subscription status required for discount eligibility.
const StatusActive = "active"

// ErrNotFound is returned when a user has no membership record at all.
var ErrNotFound = errors.New("membership not found")

// Snapshot is a point-in-time view of one user's subscription.
type Snapshot struct {
	UserID    string
	TierID    string
	Status    string
	ExpiresAt *time.Time
}

// Expired reports whether the subscription has lapsed at the given time.
// A nil expiry means the subscription never expires.
func (s Snapshot) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Eligible reports whether the member qualifies for tier discounts: the
// subscription carries a tier, is not expired, and its status is active.
func (s Snapshot) Eligible(now time.Time) bool {
	return s.TierID != "" && !s.Expired(now) && s.Status == StatusActive
}

// Tier is a subscription level members can hold.
type Tier struct {
	ID   string
	Name string
}

// Provider resolves the current membership snapshot for a user.
type Provider interface {
	GetByUserID(ctx context.Context, userID string) (*Snapshot, error)
}
