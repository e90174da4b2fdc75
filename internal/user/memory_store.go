package user

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory profile store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	ipLog    map[string][]string // userID -> IPs, newest first
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*Profile),
		ipLog:    make(map[string][]string),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CountAccountsByDevice(ctx context.Context, deviceID string) (int, error) {
	if deviceID == "" {
		return 0, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, p := range m.profiles {
		if p.DeviceID == deviceID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) RecentIPs(ctx context.Context, userID string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ips := m.ipLog[userID]
	if len(ips) == 0 {
		if p, ok := m.profiles[userID]; ok && p.LastIPAddress != "" {
			return []string{p.LastIPAddress}, nil
		}
		return nil, nil
	}
	if n > 0 && len(ips) > n {
		ips = ips[:n]
	}
	out := make([]string, len(ips))
	copy(out, ips)
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.profiles[p.ID] = &cp
	if p.LastIPAddress != "" {
		m.recordIP(p.ID, p.LastIPAddress)
	}
	return nil
}

// recordIP prepends an IP to the user's log, deduplicating and capping at 10.
// Caller holds the lock.
func (m *MemoryStore) recordIP(userID, ip string) {
	log := m.ipLog[userID]
	if len(log) > 0 && log[0] == ip {
		return
	}
	next := make([]string, 0, len(log)+1)
	next = append(next, ip)
	for _, seen := range log {
		if seen != ip {
			next = append(next, seen)
		}
	}
	if len(next) > 10 {
		next = next[:10]
	}
	m.ipLog[userID] = next
}
