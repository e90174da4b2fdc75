package ledger

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/iprofit-labs/refpay/internal/idgen"
	"github.com/iprofit-labs/refpay/internal/txn"
)

// MemoryStore is an in-memory ledger for demo/development mode.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*BonusTransaction
	byReferral   map[string]string // referral ID -> transaction ID
	balances     map[string]*Balance
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*BonusTransaction),
		byReferral:   make(map[string]string),
		balances:     make(map[string]*Balance),
	}
}

func (m *MemoryStore) CreateBonusTransaction(ctx context.Context, bt *BonusTransaction, tx txn.Tx) (string, error) {
	if !AmountPositive(bt.Amount) {
		return "", ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if bt.ReferralID != "" {
		if _, ok := m.byReferral[bt.ReferralID]; ok {
			return "", ErrDuplicateReferralPay
		}
	}

	cp := *bt
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("btx_")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.Metadata != nil {
		meta := make(map[string]any, len(bt.Metadata))
		for k, v := range bt.Metadata {
			meta[k] = v
		}
		cp.Metadata = meta
	}

	m.transactions[cp.ID] = &cp
	if cp.ReferralID != "" {
		m.byReferral[cp.ReferralID] = cp.ID
	}
	return cp.ID, nil
}

func (m *MemoryStore) IncrementBalance(ctx context.Context, userID, amount string, tx txn.Tx) error {
	delta, ok := ParseAmount(amount)
	if !ok {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[userID]
	if !ok {
		b = &Balance{UserID: userID, Available: "0.000000", TotalIn: "0.000000"}
		m.balances[userID] = b
	}

	avail, _ := ParseAmount(b.Available)
	total, _ := ParseAmount(b.TotalIn)
	b.Available = FormatAmount(new(big.Int).Add(avail, delta))
	if delta.Sign() > 0 {
		b.TotalIn = FormatAmount(new(big.Int).Add(total, delta))
	}
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[userID]
	if !ok {
		return &Balance{UserID: userID, Available: "0.000000", TotalIn: "0.000000"}, nil
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id string) (*BonusTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bt, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *bt
	return &cp, nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int) ([]*BonusTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*BonusTransaction
	for _, bt := range m.transactions {
		if bt.UserID == userID {
			cp := *bt
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) HasTransactionForReferral(ctx context.Context, referralID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byReferral[referralID]
	return ok, nil
}
