package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Accounts + ModelSequences implementation
// used by tests and by deployments that do not want a database file.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	order     []string
	sequences []SequenceEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]Account),
	}
}

func (m *MemoryStore) GetByID(id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acct, ok := m.accounts[id]; ok {
		return &acct, nil
	}

	return nil, nil
}

func (m *MemoryStore) FindByProviderEmail(provider, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		acct := m.accounts[id]
		if strings.EqualFold(acct.Provider, provider) && strings.EqualFold(acct.Email, email) {
			return &acct, nil
		}
	}

	return nil, nil
}

func (m *MemoryStore) ListByProvider(provider string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Account

	for _, id := range m.order {
		if acct := m.accounts[id]; strings.EqualFold(acct.Provider, provider) {
			out = append(out, acct)
		}
	}

	return out, nil
}

func (m *MemoryStore) List() ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Account, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.accounts[id])
	}

	return out, nil
}

func (m *MemoryStore) Upsert(acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}

	if _, exists := m.accounts[acct.ID]; !exists {
		m.order = append(m.order, acct.ID)
	}

	m.accounts[acct.ID] = acct

	return nil
}

// SetSequences replaces the model-preference list.
func (m *MemoryStore) SetSequences(entries []SequenceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequences = append([]SequenceEntry(nil), entries...)
	sort.SliceStable(m.sequences, func(i, j int) bool {
		return m.sequences[i].Sequence < m.sequences[j].Sequence
	})
}

func (m *MemoryStore) BestOverall() (*SequenceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.sequences) == 0 {
		return nil, nil
	}

	entry := m.sequences[0]

	return &entry, nil
}

func (m *MemoryStore) BestForProvider(provider string) (*SequenceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, entry := range m.sequences {
		if strings.EqualFold(entry.Provider, provider) {
			e := entry
			return &e, nil
		}
	}

	return nil, nil
}
