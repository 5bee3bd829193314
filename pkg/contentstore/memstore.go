package contentstore

import (
	"bytes"
	"sort"
	"sync"
)

// MemStore is an in-memory KVStore kept in sorted-key order, so that
// prefix scans over (id, h1) enumerate every chunk of an object in
// ascending offset order. It is safe for concurrent single-writer,
// multi-reader access.
type MemStore struct {
	mu     sync.RWMutex
	keys   [][]byte
	values map[string][]byte
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string][]byte)}
}

// Get returns the value stored at key, if any.
func (m *MemStore) Get(key []byte) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[string(key)]
	return v, ok
}

// Put is idempotent with last-writer-wins on equal keys.
func (m *MemStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	if _, exists := m.values[k]; !exists {
		i := sort.Search(len(m.keys), func(i int) bool {
			return bytes.Compare(m.keys[i], key) >= 0
		})
		keyCopy := append([]byte(nil), key...)
		m.keys = append(m.keys, nil)
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = keyCopy
	}
	m.values[k] = append([]byte(nil), value...)
	return nil
}

// Prefix returns every (key, value) pair whose key starts with prefix, in
// ascending key order.
func (m *MemStore) Prefix(prefix []byte) [][2][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := sort.Search(len(m.keys), func(i int) bool {
		return bytes.Compare(m.keys[i], prefix) >= 0
	})
	var out [][2][]byte
	for i := start; i < len(m.keys); i++ {
		k := m.keys[i]
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		out = append(out, [2][]byte{k, m.values[string(k)]})
	}
	return out
}
