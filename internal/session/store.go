// Package session keeps per-checkout transient state: the cart's fee ledger
// and the pending discount bridging cart evaluation to purchase creation.
// State lives in an in-memory TTL cache; an abandoned checkout simply ages
// out.
package session

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	gocache "github.com/patrickmn/go-cache"
)

// Fee is a named, signed adjustment on a cart. A negative amount is a
// discount.
type Fee struct {
	Key    string
	Label  string
	Amount decimal.Decimal
}

// state is the mutable per-session record stored in the cache.
type state struct {
	mu                sync.Mutex
	fees              map[string]Fee
	pendingDiscountID string
}

// Store holds checkout session state keyed by session ID.
type Store struct {
	cache *gocache.Cache
}

// NewStore creates a session store whose entries expire after ttl of
// inactivity-free lifetime and are swept every cleanup interval.
func NewStore(ttl, cleanup time.Duration) *Store {
	return &Store{cache: gocache.New(ttl, cleanup)}
}

func (s *Store) get(sessionID string) *state {
	if v, ok := s.cache.Get(sessionID); ok {
		return v.(*state)
	}
	st := &state{fees: make(map[string]Fee)}
	s.cache.SetDefault(sessionID, st)
	return st
}

// SetFee registers a fee under its key, replacing any prior fee with the
// same key. Repeated cart evaluations therefore never stack entries.
func (s *Store) SetFee(sessionID string, fee Fee) {
	st := s.get(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.fees[fee.Key] = fee
}

// RemoveFee deletes the fee under key, if any.
func (s *Store) RemoveFee(sessionID, key string) {
	st := s.get(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.fees, key)
}

// Fee returns the fee under key and whether one is present.
func (s *Store) Fee(sessionID, key string) (Fee, bool) {
	st := s.get(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	fee, ok := st.fees[key]
	return fee, ok
}

// Fees returns a copy of all fees on the session.
func (s *Store) Fees(sessionID string) []Fee {
	st := s.get(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Fee, 0, len(st.fees))
	for _, f := range st.fees {
		out = append(out, f)
	}
	return out
}

// SetPendingDiscount records the matched rule ID for the session. An empty
// id clears it.
func (s *Store) SetPendingDiscount(sessionID, discountID string) {
	st := s.get(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pendingDiscountID = discountID
}

// TakePendingDiscount returns the pending discount ID and clears it
// unconditionally, so the value never leaks into a later checkout on the
// same session.
func (s *Store) TakePendingDiscount(sessionID string) string {
	st := s.get(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	id := st.pendingDiscountID
	st.pendingDiscountID = ""
	return id
}
