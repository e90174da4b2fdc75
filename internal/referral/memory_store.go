package referral

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iprofit-labs/refpay/internal/txn"
)

// MemoryStore is an in-memory referral store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	referrals map[string]*Referral
	claims    map[string]time.Time // referral ID -> claim time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory referral store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		referrals: make(map[string]*Referral),
		claims:    make(map[string]time.Time),
	}
}

func (m *MemoryStore) Create(ctx context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.referrals {
		if existing.ReferrerID == r.ReferrerID && existing.RefereeID == r.RefereeID &&
			existing.Status == StatusPending {
			return ErrDuplicatePending
		}
	}

	cp := clone(r)
	m.referrals[r.ID] = cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.referrals[id]
	if !ok {
		return nil, ErrReferralNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) Update(ctx context.Context, r *Referral, tx txn.Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.referrals[r.ID]; !ok {
		return ErrReferralNotFound
	}
	r.UpdatedAt = time.Now()
	m.referrals[r.ID] = clone(r)
	return nil
}

// ClaimForEvaluation atomically claims a pending referral. It fails when the
// referral is missing, no longer pending, or already claimed within ClaimTTL.
func (m *MemoryStore) ClaimForEvaluation(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.referrals[id]
	if !ok {
		return false, ErrReferralNotFound
	}
	if r.Status != StatusPending {
		return false, nil
	}
	if claimed, ok := m.claims[id]; ok && time.Since(claimed) < ClaimTTL {
		return false, nil
	}
	m.claims[id] = time.Now()
	return true, nil
}

func (m *MemoryStore) ReleaseClaim(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, id)
	return nil
}

func (m *MemoryStore) CountByReferrerSince(ctx context.Context, referrerID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID && r.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountFromIP(ctx context.Context, ip string) (int, error) {
	if ip == "" {
		return 0, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.referrals {
		if r.IPAddress == ip {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) HasPendingPair(ctx context.Context, referrerID, refereeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.referrals {
		if r.ReferrerID == referrerID && r.RefereeID == refereeID && r.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Referral
	for _, r := range m.referrals {
		if r.Status == status {
			result = append(result, clone(r))
		}
	}
	sortNewestFirst(result)
	return capList(result, limit), nil
}

func (m *MemoryStore) ListByReferrer(ctx context.Context, referrerID string, limit int) ([]*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Referral
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID {
			result = append(result, clone(r))
		}
	}
	sortNewestFirst(result)
	return capList(result, limit), nil
}

func (m *MemoryStore) ListQueued(ctx context.Context, limit int) ([]*Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Referral
	for _, r := range m.referrals {
		if r.Status != StatusPending {
			continue
		}
		if queued, ok := r.Metadata[MetaQueuedForReview].(bool); ok && queued {
			result = append(result, clone(r))
		}
	}
	sortNewestFirst(result)
	return capList(result, limit), nil
}

func clone(r *Referral) *Referral {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func sortNewestFirst(rs []*Referral) {
	sort.Slice(rs, func(i, j int) bool {
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}

func capList(rs []*Referral, limit int) []*Referral {
	if limit > 0 && len(rs) > limit {
		return rs[:limit]
	}
	return rs
}
