// Package contentstore implements the Content Store: a persistent cache
// of response packets keyed by HBFI. Eviction policy is delegated
// entirely to the backing KVStore; the Content Store itself treats it as
// unbounded and read/write only.
package contentstore

// KVStore is the external key-value contract the core consumes: get a
// value by its exact key, and put a value at a key. Persistent storage
// choice is explicitly out of the core's scope; MemStore below is the
// reference implementation used by tests and examples.
type KVStore interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte) error
	// Prefix returns every (key, value) pair whose key starts with
	// prefix, in ascending key order. This is what lets a service
	// enumerate every chunk of one (id, h1) object.
	Prefix(prefix []byte) [][2][]byte
}
