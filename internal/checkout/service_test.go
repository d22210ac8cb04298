package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perkmill/member-discounts/internal/domain/discount"
	"github.com/perkmill/member-discounts/internal/domain/membership"
	"github.com/perkmill/member-discounts/internal/domain/purchase"
	"github.com/perkmill/member-discounts/internal/session"
)

type mockMembers struct {
	snap *membership.Snapshot
	err  error
}

func (m *mockMembers) GetByUserID(_ context.Context, _ string) (*membership.Snapshot, error) {
	return m.snap, m.err
}

type mockRules struct {
	discount.Repository

	rule          *discount.Rule
	matchErr      error
	incremented   []string
	incrementErr  error
	matchedTierID string
}

func (m *mockRules) MatchByTier(_ context.Context, tierID string) (*discount.Rule, error) {
	m.matchedTierID = tierID
	if m.matchErr != nil {
		return nil, m.matchErr
	}
	return m.rule, nil
}

func (m *mockRules) IncrementUsage(_ context.Context, id string) error {
	if m.incrementErr != nil {
		return m.incrementErr
	}
	m.incremented = append(m.incremented, id)
	return nil
}

type mockPurchases struct {
	purchase.Repository

	byID        map[string]*purchase.Purchase
	applied     map[string]string
	countedErr  error
	getErr      error
	appliedErr  error
	markedFirst map[string]bool
}

func newMockPurchases() *mockPurchases {
	return &mockPurchases{
		byID:        make(map[string]*purchase.Purchase),
		applied:     make(map[string]string),
		markedFirst: make(map[string]bool),
	}
}

func (m *mockPurchases) GetByID(_ context.Context, id string) (*purchase.Purchase, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	return p, nil
}

func (m *mockPurchases) SetAppliedDiscount(_ context.Context, purchaseID, discountID string) error {
	if m.appliedErr != nil {
		return m.appliedErr
	}
	m.applied[purchaseID] = discountID
	return nil
}

func (m *mockPurchases) MarkDiscountCounted(_ context.Context, purchaseID string) (bool, error) {
	if m.countedErr != nil {
		return false, m.countedErr
	}
	if m.markedFirst[purchaseID] {
		return false, nil
	}
	m.markedFirst[purchaseID] = true
	return true, nil
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func activeSnapshot(tierID string) *membership.Snapshot {
	exp := fixedNow().Add(30 * 24 * time.Hour)
	return &membership.Snapshot{
		UserID:    "u1",
		TierID:    tierID,
		Status:    membership.StatusActive,
		ExpiresAt: &exp,
	}
}

func goldRule() *discount.Rule {
	return &discount.Rule{
		ID:      "rule-1",
		Title:   "Gold member discount",
		TierID:  "gold",
		Percent: 20,
		Status:  discount.StatusPublish,
	}
}

func newTestService(members *mockMembers, rules *mockRules, purchases *mockPurchases) (*Service, *session.Store) {
	sessions := session.NewStore(time.Minute, time.Minute)
	svc := NewService(members, rules, purchases, sessions)
	svc.now = fixedNow
	return svc, sessions
}

func TestEvaluateAppliesMatchingDiscount(t *testing.T) {
	members := &mockMembers{snap: activeSnapshot("gold")}
	rules := &mockRules{rule: goldRule()}
	svc, sessions := newTestService(members, rules, newMockPurchases())

	res := svc.Evaluate(context.Background(), EvaluateRequest{
		SessionID: "sess",
		UserID:    "u1",
		Subtotal:  decimal.RequireFromString("100.00"),
	})

	require.NotNil(t, res.Fee)
	assert.True(t, decimal.RequireFromString("-20").Equal(res.Fee.Amount),
		"expected -20, got %s", res.Fee.Amount)
	assert.Equal(t, "Gold member discount", res.Fee.Label)
	assert.Equal(t, "rule-1", res.PendingDiscountID)
	assert.Equal(t, "gold", rules.matchedTierID)

	fee, ok := sessions.Fee("sess", FeeKey)
	require.True(t, ok)
	assert.True(t, res.Fee.Amount.Equal(fee.Amount))
}

func TestEvaluateRoundsToTwoPlaces(t *testing.T) {
	members := &mockMembers{snap: activeSnapshot("gold")}
	rule := goldRule()
	rule.Percent = 15
	svc, _ := newTestService(members, &mockRules{rule: rule}, newMockPurchases())

	res := svc.Evaluate(context.Background(), EvaluateRequest{
		SessionID: "sess",
		UserID:    "u1",
		Subtotal:  decimal.RequireFromString("33.33"),
	})

	// round(4.9995, 2) = 5.00
	require.NotNil(t, res.Fee)
	assert.True(t, decimal.RequireFromString("-5").Equal(res.Fee.Amount),
		"expected -5, got %s", res.Fee.Amount)
}

func TestEvaluateZeroPercentStillAddsFee(t *testing.T) {
	members := &mockMembers{snap: activeSnapshot("gold")}
	rule := goldRule()
	rule.Percent = 0
	svc, sessions := newTestService(members, &mockRules{rule: rule}, newMockPurchases())

	res := svc.Evaluate(context.Background(), EvaluateRequest{
		SessionID: "sess",
		UserID:    "u1",
		Subtotal:  decimal.RequireFromString("100.00"),
	})

	require.NotNil(t, res.Fee)
	assert.True(t, res.Fee.Amount.IsZero())

	_, ok := sessions.Fee("sess", FeeKey)
	assert.True(t, ok)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	members := &mockMembers{snap: activeSnapshot("gold")}
	svc, sessions := newTestService(members, &mockRules{rule: goldRule()}, newMockPurchases())

	req := EvaluateRequest{
		SessionID: "sess",
		UserID:    "u1",
		Subtotal:  decimal.RequireFromString("50.00"),
	}
	svc.Evaluate(context.Background(), req)
	svc.Evaluate(context.Background(), req)

	assert.Len(t, sessions.Fees("sess"), 1)
}

func TestEvaluateRemovesFeeWhenIneligible(t *testing.T) {
	expired := fixedNow().Add(-time.Hour)

	tests := []struct {
		name    string
		members *mockMembers
		rules   *mockRules
	}{
		{
			name: "expired membership",
			members: &mockMembers{snap: &membership.Snapshot{
				UserID: "u1", TierID: "gold", Status: membership.StatusActive, ExpiresAt: &expired,
			}},
			rules: &mockRules{rule: goldRule()},
		},
		{
			name: "inactive status",
			members: &mockMembers{snap: &membership.Snapshot{
				UserID: "u1", TierID: "gold", Status: "cancelled",
			}},
			rules: &mockRules{rule: goldRule()},
		},
		{
			name:    "no membership record",
			members: &mockMembers{err: membership.ErrNotFound},
			rules:   &mockRules{rule: goldRule()},
		},
		{
			name:    "no matching rule",
			members: &mockMembers{snap: activeSnapshot("silver")},
			rules:   &mockRules{matchErr: discount.ErrNoRule},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sessions := newTestService(tt.members, tt.rules, newMockPurchases())

			// Prior state: a fee from an earlier eligible evaluation.
			sessions.SetFee("sess", session.Fee{Key: FeeKey, Amount: decimal.NewFromInt(-20)})
			sessions.SetPendingDiscount("sess", "rule-1")

			res := svc.Evaluate(context.Background(), EvaluateRequest{
				SessionID: "sess",
				UserID:    "u1",
				Subtotal:  decimal.RequireFromString("100.00"),
			})

			assert.Nil(t, res.Fee)
			_, ok := sessions.Fee("sess", FeeKey)
			assert.False(t, ok)
			assert.Equal(t, "", sessions.TakePendingDiscount("sess"))
		})
	}
}

func TestEvaluateAnonymousUser(t *testing.T) {
	svc, sessions := newTestService(&mockMembers{}, &mockRules{rule: goldRule()}, newMockPurchases())

	res := svc.Evaluate(context.Background(), EvaluateRequest{
		SessionID: "sess",
		Subtotal:  decimal.RequireFromString("100.00"),
	})

	assert.Nil(t, res.Fee)
	assert.Empty(t, sessions.Fees("sess"))
}

func TestPurchaseCreatedLinksPendingDiscount(t *testing.T) {
	purchases := newMockPurchases()
	svc, sessions := newTestService(&mockMembers{}, &mockRules{}, purchases)

	sessions.SetPendingDiscount("sess", "rule-1")

	err := svc.PurchaseCreated(context.Background(), purchase.CreatedEvent{
		PurchaseID: "pay-1",
		SessionID:  "sess",
	})

	require.NoError(t, err)
	assert.Equal(t, "rule-1", purchases.applied["pay-1"])
	// Transient is consumed.
	assert.Equal(t, "", sessions.TakePendingDiscount("sess"))
}

func TestPurchaseCreatedWithoutPendingDiscount(t *testing.T) {
	purchases := newMockPurchases()
	svc, _ := newTestService(&mockMembers{}, &mockRules{}, purchases)

	err := svc.PurchaseCreated(context.Background(), purchase.CreatedEvent{
		PurchaseID: "pay-1",
		SessionID:  "sess",
	})

	require.NoError(t, err)
	assert.Empty(t, purchases.applied)
}

func TestStatusChangedIncrementsOnCompletion(t *testing.T) {
	purchases := newMockPurchases()
	purchases.byID["pay-1"] = &purchase.Purchase{
		ID:                "pay-1",
		Status:            purchase.StatusPending,
		AppliedDiscountID: "rule-1",
	}
	rules := &mockRules{}
	svc, _ := newTestService(&mockMembers{}, rules, purchases)

	err := svc.StatusChanged(context.Background(), purchase.StatusChangedEvent{
		PurchaseID: "pay-1",
		OldStatus:  purchase.StatusPending,
		NewStatus:  purchase.StatusComplete,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"rule-1"}, rules.incremented)
}

func TestStatusChangedGuards(t *testing.T) {
	tests := []struct {
		name string
		old  purchase.Status
		new  purchase.Status
	}{
		{name: "already complete", old: purchase.StatusComplete, new: purchase.StatusComplete},
		{name: "already publish", old: purchase.StatusPublish, new: purchase.StatusComplete},
		{name: "new status not completed", old: purchase.StatusPending, new: purchase.StatusRefunded},
		{name: "pending to processing", old: purchase.StatusPending, new: purchase.StatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purchases := newMockPurchases()
			purchases.byID["pay-1"] = &purchase.Purchase{
				ID:                "pay-1",
				AppliedDiscountID: "rule-1",
			}
			rules := &mockRules{}
			svc, _ := newTestService(&mockMembers{}, rules, purchases)

			err := svc.StatusChanged(context.Background(), purchase.StatusChangedEvent{
				PurchaseID: "pay-1",
				OldStatus:  tt.old,
				NewStatus:  tt.new,
			})

			require.NoError(t, err)
			assert.Empty(t, rules.incremented)
		})
	}
}

func TestStatusChangedNoDiscountApplied(t *testing.T) {
	purchases := newMockPurchases()
	purchases.byID["pay-1"] = &purchase.Purchase{ID: "pay-1"}
	rules := &mockRules{}
	svc, _ := newTestService(&mockMembers{}, rules, purchases)

	err := svc.StatusChanged(context.Background(), purchase.StatusChangedEvent{
		PurchaseID: "pay-1",
		OldStatus:  purchase.StatusPending,
		NewStatus:  purchase.StatusComplete,
	})

	require.NoError(t, err)
	assert.Empty(t, rules.incremented)
}

func TestStatusChangedCountsAtMostOncePerPurchase(t *testing.T) {
	purchases := newMockPurchases()
	purchases.byID["pay-1"] = &purchase.Purchase{
		ID:                "pay-1",
		AppliedDiscountID: "rule-1",
	}
	rules := &mockRules{}
	svc, _ := newTestService(&mockMembers{}, rules, purchases)

	// pending -> complete -> refunded -> complete: the second completion
	// must not count again.
	transitions := []purchase.StatusChangedEvent{
		{PurchaseID: "pay-1", OldStatus: purchase.StatusPending, NewStatus: purchase.StatusComplete},
		{PurchaseID: "pay-1", OldStatus: purchase.StatusComplete, NewStatus: purchase.StatusRefunded},
		{PurchaseID: "pay-1", OldStatus: purchase.StatusRefunded, NewStatus: purchase.StatusComplete},
	}
	for _, ev := range transitions {
		require.NoError(t, svc.StatusChanged(context.Background(), ev))
	}

	assert.Equal(t, []string{"rule-1"}, rules.incremented)
}
