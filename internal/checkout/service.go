// Package checkout bridges membership status to the cart: it applies the
// matching tier discount as a negative fee, links the applied discount to
// the purchase created from the session, and maintains each rule's lifetime
// usage counter as purchases complete.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/perkmill/member-discounts/internal/domain/discount"
	"github.com/perkmill/member-discounts/internal/domain/membership"
	"github.com/perkmill/member-discounts/internal/domain/purchase"
	"github.com/perkmill/member-discounts/internal/session"
)

// FeeKey is the fixed fee-ledger key for the member discount. At most one
// fee lives under this key per session; every evaluation either replaces it
// or removes it, so repeated evaluations never double-discount.
const FeeKey = "member_discount"

// Service implements the three checkout-facing operations. It is the
// explicit replacement for the original's ambient hook wiring: the HTTP
// layer calls these methods with typed payloads.
type Service struct {
	members   membership.Provider
	rules     discount.Repository
	purchases purchase.Repository
	sessions  *session.Store
	now       func() time.Time
}

// NewService constructs the checkout service.
func NewService(
	members membership.Provider,
	rules discount.Repository,
	purchases purchase.Repository,
	sessions *session.Store,
) *Service {
	return &Service{
		members:   members,
		rules:     rules,
		purchases: purchases,
		sessions:  sessions,
		now:       time.Now,
	}
}

// EvaluateRequest is one cart evaluation: who is shopping and what the cart
// currently sums to. UserID is empty for anonymous shoppers.
type EvaluateRequest struct {
	SessionID string
	UserID    string
	Subtotal  decimal.Decimal
}

// EvaluateResult reports the ledger state after evaluation. Fee is nil when
// no discount applies.
type EvaluateResult struct {
	Fee               *session.Fee
	PendingDiscountID string
}

// Evaluate applies or clears the member discount for the session's cart.
//
// The member must hold a tier, be unexpired, and have an active status; a
// rule must target that tier. When both hold, the fee
// -(subtotal * percent / 100) is set under FeeKey and the rule becomes the
// session's pending discount. Otherwise any fee under FeeKey is removed and
// the pending discount is cleared.
//
// Lookup failures degrade to "no discount applies": the checkout is never
// broken on this path, matching the adapter's original contract.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) EvaluateResult {
	rule := s.matchRule(ctx, req.UserID)
	if rule == nil {
		s.sessions.RemoveFee(req.SessionID, FeeKey)
		s.sessions.SetPendingDiscount(req.SessionID, "")
		return EvaluateResult{}
	}

	fee := session.Fee{
		Key:    FeeKey,
		Label:  rule.Title,
		Amount: discount.FeeAmount(req.Subtotal, rule.Percent),
	}
	s.sessions.SetFee(req.SessionID, fee)
	s.sessions.SetPendingDiscount(req.SessionID, rule.ID)

	return EvaluateResult{Fee: &fee, PendingDiscountID: rule.ID}
}

// matchRule resolves the discount rule for the user, or nil when the user
// is anonymous, ineligible, unmatched, or a lookup fails.
func (s *Service) matchRule(ctx context.Context, userID string) *discount.Rule {
	if userID == "" {
		return nil
	}

	snap, err := s.members.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, membership.ErrNotFound) {
			zctx.From(ctx).Warn("Membership lookup failed, skipping discount",
				zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	if !snap.Eligible(s.now()) {
		return nil
	}

	rule, err := s.rules.MatchByTier(ctx, snap.TierID)
	if err != nil {
		if !errors.Is(err, discount.ErrNoRule) {
			zctx.From(ctx).Warn("Rule lookup failed, skipping discount",
				zap.String("tier_id", snap.TierID), zap.Error(err))
		}
		return nil
	}
	return rule
}

// PurchaseCreated consumes the session's pending discount and attaches it to
// the new purchase. The transient is cleared whether or not a value was
// present, so nothing leaks into a later checkout on the same session. Most
// purchases carry no discount; that case is a silent no-op.
func (s *Service) PurchaseCreated(ctx context.Context, ev purchase.CreatedEvent) error {
	discountID := s.sessions.TakePendingDiscount(ev.SessionID)
	if discountID == "" {
		return nil
	}

	if err := s.purchases.SetAppliedDiscount(ctx, ev.PurchaseID, discountID); err != nil {
		return errors.Wrap(err, "set applied discount")
	}
	return nil
}

// StatusChanged bumps the applied rule's usage counter when a purchase
// transitions into a completed state.
//
// Two guards mirror the original adapter: a purchase already completed
// cannot complete again, and transitions whose new state is not completed
// never touch the counter. On top of that, the counted flag on the purchase
// makes the increment at-most-once for the purchase's whole lifetime, so a
// complete -> refunded -> complete cycle counts a single use.
func (s *Service) StatusChanged(ctx context.Context, ev purchase.StatusChangedEvent) error {
	if ev.OldStatus.Completed() {
		return nil
	}
	if !ev.NewStatus.Completed() {
		return nil
	}

	p, err := s.purchases.GetByID(ctx, ev.PurchaseID)
	if err != nil {
		return errors.Wrap(err, "get purchase")
	}
	if p.AppliedDiscountID == "" {
		return nil
	}

	first, err := s.purchases.MarkDiscountCounted(ctx, ev.PurchaseID)
	if err != nil {
		return errors.Wrap(err, "mark discount counted")
	}
	if !first {
		return nil
	}

	if err := s.rules.IncrementUsage(ctx, p.AppliedDiscountID); err != nil {
		return errors.Wrap(err, "increment usage")
	}
	return nil
}
