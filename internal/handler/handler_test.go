package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perkmill/member-discounts/internal/checkout"
	"github.com/perkmill/member-discounts/internal/domain/auth"
	"github.com/perkmill/member-discounts/internal/domain/discount"
	"github.com/perkmill/member-discounts/internal/domain/membership"
	"github.com/perkmill/member-discounts/internal/domain/purchase"
	"github.com/perkmill/member-discounts/internal/license"
	"github.com/perkmill/member-discounts/internal/session"
)

// memRules is an in-memory discount.Repository.
type memRules struct {
	rules map[string]*discount.Rule
	seq   int
}

func newMemRules() *memRules {
	return &memRules{rules: make(map[string]*discount.Rule)}
}

func (m *memRules) Create(_ context.Context, r *discount.Rule) error {
	m.seq++
	r.Status = discount.StatusPublish
	r.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Hour)
	m.rules[r.ID] = r
	return nil
}

func (m *memRules) Update(_ context.Context, r *discount.Rule) error {
	old, ok := m.rules[r.ID]
	if !ok {
		return discount.ErrNotFound
	}
	r.Status = discount.StatusPublish
	r.CreatedAt = old.CreatedAt
	r.UsageCount = old.UsageCount
	m.rules[r.ID] = r
	return nil
}

func (m *memRules) GetByID(_ context.Context, id string) (*discount.Rule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, discount.ErrNotFound
	}
	return r, nil
}

func (m *memRules) List(_ context.Context) ([]discount.Rule, error) {
	out := make([]discount.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memRules) MatchByTier(_ context.Context, tierID string) (*discount.Rule, error) {
	var best *discount.Rule
	for _, r := range m.rules {
		if r.TierID != tierID || r.Status != discount.StatusPublish {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, discount.ErrNoRule
	}
	return best, nil
}

func (m *memRules) IncrementUsage(_ context.Context, id string) error {
	r, ok := m.rules[id]
	if !ok {
		return discount.ErrNotFound
	}
	r.UsageCount++
	return nil
}

// memPurchases is an in-memory purchase.Repository.
type memPurchases struct {
	purchases map[string]*purchase.Purchase
}

func newMemPurchases() *memPurchases {
	return &memPurchases{purchases: make(map[string]*purchase.Purchase)}
}

func (m *memPurchases) Create(_ context.Context, p *purchase.Purchase) error {
	cp := *p
	m.purchases[p.ID] = &cp
	return nil
}

func (m *memPurchases) GetByID(_ context.Context, id string) (*purchase.Purchase, error) {
	p, ok := m.purchases[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPurchases) SetAppliedDiscount(_ context.Context, purchaseID, discountID string) error {
	p, ok := m.purchases[purchaseID]
	if !ok {
		return purchase.ErrNotFound
	}
	p.AppliedDiscountID = discountID
	return nil
}

func (m *memPurchases) UpdateStatus(_ context.Context, purchaseID string, status purchase.Status) (purchase.Status, error) {
	p, ok := m.purchases[purchaseID]
	if !ok {
		return "", purchase.ErrNotFound
	}
	old := p.Status
	p.Status = status
	return old, nil
}

func (m *memPurchases) MarkDiscountCounted(_ context.Context, purchaseID string) (bool, error) {
	p, ok := m.purchases[purchaseID]
	if !ok {
		return false, purchase.ErrNotFound
	}
	if p.DiscountCounted {
		return false, nil
	}
	p.DiscountCounted = true
	return true, nil
}

type memMembers struct {
	snaps map[string]*membership.Snapshot
}

func (m *memMembers) GetByUserID(_ context.Context, userID string) (*membership.Snapshot, error) {
	snap, ok := m.snaps[userID]
	if !ok {
		return nil, membership.ErrNotFound
	}
	return snap, nil
}

func (m *memMembers) ListTiers(_ context.Context) ([]membership.Tier, error) {
	return []membership.Tier{{ID: "gold", Name: "Gold"}}, nil
}

type memSettings struct {
	values map[string]string
}

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	return m.values[key], nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

type testEnv struct {
	rules     *memRules
	purchases *memPurchases
	members   *memMembers
	sessions  *session.Store
	srv       *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rules := newMemRules()
	purchases := newMemPurchases()
	members := &memMembers{snaps: make(map[string]*membership.Snapshot)}
	sessions := session.NewStore(time.Minute, time.Minute)

	checkoutSvc := checkout.NewService(members, rules, purchases, sessions)
	activator := license.NewActivator(&memSettings{values: map[string]string{}}, "http://127.0.0.1:0", "Member Discounts")

	h := NewHandler(rules, purchases, members, checkoutSvc, activator)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &testEnv{
		rules:     rules,
		purchases: purchases,
		members:   members,
		sessions:  sessions,
		srv:       srv,
	}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) addActiveMember(userID, tierID string) {
	exp := time.Now().Add(30 * 24 * time.Hour)
	e.members.snaps[userID] = &membership.Snapshot{
		UserID:    userID,
		TierID:    tierID,
		Status:    membership.StatusActive,
		ExpiresAt: &exp,
	}
}

func TestCreateDiscountForcesPublish(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/discounts", map[string]any{
		"title":   "Gold member discount",
		"tier_id": "gold",
		"percent": 20,
		"status":  "draft",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decodeBody[discountResponse](t, resp)
	assert.Equal(t, "publish", got.Status)
	assert.Equal(t, "gold", got.TierID)
	assert.EqualValues(t, 20, got.Percent)
	assert.NotEmpty(t, got.ID)
}

func TestCreateDiscountRequiresTier(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/discounts", map[string]any{"title": "x", "percent": 10})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateDiscountUnknownID(t *testing.T) {
	env := newTestEnv(t)

	b, _ := json.Marshal(map[string]any{"title": "x", "tier_id": "gold", "percent": 5})
	req, err := http.NewRequest(http.MethodPut, env.srv.URL+"/discounts/nope", bytes.NewReader(b))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvaluateAppliesFee(t *testing.T) {
	env := newTestEnv(t)
	env.addActiveMember("u1", "gold")
	env.rules.rules["rule-1"] = &discount.Rule{
		ID: "rule-1", Title: "Gold member discount", TierID: "gold",
		Percent: 20, Status: discount.StatusPublish,
	}

	resp := env.postJSON(t, "/checkout/evaluate", map[string]any{
		"session_id": "sess",
		"user_id":    "u1",
		"subtotal":   "100.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[evaluateResponse](t, resp)
	require.NotNil(t, got.Fee)
	assert.Equal(t, checkout.FeeKey, got.Fee.Key)
	assert.Equal(t, "Gold member discount", got.Fee.Label)
	assert.True(t, decimal.RequireFromString("-20").Equal(got.Fee.Amount),
		"expected -20, got %s", got.Fee.Amount)
	assert.Equal(t, "rule-1", got.PendingDiscountID)
}

func TestEvaluateNoMembership(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/checkout/evaluate", map[string]any{
		"session_id": "sess",
		"user_id":    "stranger",
		"subtotal":   "100.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[evaluateResponse](t, resp)
	assert.Nil(t, got.Fee)
	assert.Empty(t, got.PendingDiscountID)
}

func TestPurchaseFlowLinksDiscountAndCountsUse(t *testing.T) {
	env := newTestEnv(t)
	env.addActiveMember("u1", "gold")
	env.rules.rules["rule-1"] = &discount.Rule{
		ID: "rule-1", Title: "Gold member discount", TierID: "gold",
		Percent: 20, Status: discount.StatusPublish,
	}

	// Cart evaluation sets the pending discount.
	resp := env.postJSON(t, "/checkout/evaluate", map[string]any{
		"session_id": "sess", "user_id": "u1", "subtotal": "100.00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Purchase creation consumes it.
	resp = env.postJSON(t, "/purchases", map[string]any{
		"id": "pay-1", "session_id": "sess", "user_id": "u1",
		"subtotal": "100.00", "total": "80.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[purchaseResponse](t, resp)
	assert.Equal(t, "rule-1", created.AppliedDiscountID)

	// A second purchase on the same session gets no discount.
	resp = env.postJSON(t, "/purchases", map[string]any{
		"id": "pay-2", "session_id": "sess",
		"subtotal": "10.00", "total": "10.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decodeBody[purchaseResponse](t, resp)
	assert.Empty(t, second.AppliedDiscountID)

	// Completion increments the usage counter once.
	resp = env.postJSON(t, "/purchases/pay-1/status", map[string]any{"status": "complete"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.EqualValues(t, 1, env.rules.rules["rule-1"].UsageCount)

	// Re-firing the completed transition does not double count.
	resp = env.postJSON(t, "/purchases/pay-1/status", map[string]any{"status": "complete"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.EqualValues(t, 1, env.rules.rules["rule-1"].UsageCount)
}

func TestPurchaseStatusUnknownPurchase(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/purchases/ghost/status", map[string]any{"status": "complete"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// staticKeys implements auth.Repository with a single known hash.
type staticKeys struct {
	hash string
}

func (s *staticKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if hash != s.hash {
		return nil, errors.New("api key not found")
	}
	return &auth.APIKeyInfo{ID: "k1", KeyHash: s.hash, Name: "test"}, nil
}

func TestRequireAPIKey(t *testing.T) {
	pepper := []byte("pepper")
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte("secret-key"))
	knownHash := hex.EncodeToString(mac.Sum(nil))

	mw := RequireAPIKey(&staticKeys{hash: knownHash}, pepper)
	protected := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv := httptest.NewServer(protected)
	defer srv.Close()

	do := func(key string) int {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, do("secret-key"))
	assert.Equal(t, http.StatusUnauthorized, do("wrong-key"))
	assert.Equal(t, http.StatusUnauthorized, do(""))
}
