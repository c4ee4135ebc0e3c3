package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Layr-Labs/eigenx-airdrop-go/pkg/persistence"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of IArtifactStore.
// Intended for tests and one-shot runs where nothing needs to outlive the process.
//
// Records are held in serialized form so callers can never mutate stored state.
// Thread-safe using sync.RWMutex for concurrent access.
type MemoryStore struct {
	mu sync.RWMutex

	// id -> serialized TreeRecord
	records map[string][]byte

	// id -> metadata used for sorting and root lookups
	meta map[string]recordMeta

	latest string
	closed bool
}

type recordMeta struct {
	root      string
	createdAt int64
}

// NewMemoryStore creates a new in-memory artifact store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger != nil {
		logger.Sugar().Warnw("Using in-memory artifact store - stored trees are lost when the process exits")
	}

	return &MemoryStore{
		records: make(map[string][]byte),
		meta:    make(map[string]recordMeta),
	}
}

// SaveTree persists a tree record.
func (m *MemoryStore) SaveTree(record *persistence.TreeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	data, err := persistence.MarshalTreeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal TreeRecord: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("artifact store is closed")
	}

	m.records[record.ID] = data
	m.meta[record.ID] = recordMeta{root: persistence.NormalizeRoot(record.Root), createdAt: record.CreatedAt}
	return nil
}

// LoadTree retrieves a tree record by ID.
func (m *MemoryStore) LoadTree(id string) (*persistence.TreeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("artifact store is closed")
	}

	data, exists := m.records[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return persistence.UnmarshalTreeRecord(data)
}

// LoadTreeByRoot retrieves the newest record committing to root.
func (m *MemoryStore) LoadTreeByRoot(root string) (*persistence.TreeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("artifact store is closed")
	}

	root = persistence.NormalizeRoot(root)
	bestID := ""
	var bestTime int64
	for id, meta := range m.meta {
		if meta.root != root {
			continue
		}
		if bestID == "" || meta.createdAt > bestTime || (meta.createdAt == bestTime && id > bestID) {
			bestID, bestTime = id, meta.createdAt
		}
	}
	if bestID == "" {
		return nil, nil
	}
	return persistence.UnmarshalTreeRecord(m.records[bestID])
}

// ListTrees returns all records sorted by creation time.
func (m *MemoryStore) ListTrees() ([]*persistence.TreeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("artifact store is closed")
	}

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.meta[ids[i]], m.meta[ids[j]]
		if a.createdAt != b.createdAt {
			return a.createdAt < b.createdAt
		}
		return ids[i] < ids[j]
	})

	result := make([]*persistence.TreeRecord, 0, len(ids))
	for _, id := range ids {
		record, err := persistence.UnmarshalTreeRecord(m.records[id])
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, nil
}

// DeleteTree removes a tree record.
func (m *MemoryStore) DeleteTree(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("artifact store is closed")
	}

	delete(m.records, id)
	delete(m.meta, id)
	return nil
}

// SetLatestTree stores the current tree ID.
func (m *MemoryStore) SetLatestTree(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("artifact store is closed")
	}

	m.latest = id
	return nil
}

// GetLatestTree returns the current tree ID.
func (m *MemoryStore) GetLatestTree() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", fmt.Errorf("artifact store is closed")
	}

	return m.latest, nil
}

// Close marks the store as closed. Idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck reports whether the store is still open.
func (m *MemoryStore) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("artifact store is closed")
	}
	return nil
}
