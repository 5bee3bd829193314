package contentstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/hbfi"
	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

var (
	hits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "content_store",
		Name:      "hits_total",
		Help:      "Content Store lookups that found a cached Response.",
	})
	misses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "content_store",
		Name:      "misses_total",
		Help:      "Content Store lookups that found nothing cached.",
	})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "content_store",
		Name:      "store_errors_total",
		Help:      "Backing store I/O failures, treated as cache misses.",
	})
)

func init() {
	prometheus.MustRegister(hits, misses, storeErrors)
}

// ContentStore caches Response packets keyed by (hbfi, offset), backed by
// a pluggable KVStore. Keys are the byte encoding of (id, h1, offset),
// which allows prefix scans by (id, h1) — a capability used by services
// layered on the core and not by the broker itself.
type ContentStore struct {
	store KVStore
	log   *logrus.Entry
}

// New wraps store as a ContentStore.
func New(store KVStore) *ContentStore {
	return &ContentStore{store: store, log: logrus.WithField("component", "content_store")}
}

// Get returns the cached Response for (h, offset), if any. A backing
// store I/O failure is logged and treated as a cache miss, never
// surfaced as an error (per the StoreError policy).
func (cs *ContentStore) Get(h hbfi.HBFI, offset uint64) (wire.Response, bool) {
	h = h.WithOffset(offset)
	raw, ok := cs.store.Get(h.StoreKey())
	if !ok {
		misses.Inc()
		return wire.Response{}, false
	}
	nw, _, err := wire.DecodeNarrowWaist(raw)
	if err != nil {
		storeErrors.Inc()
		cs.log.WithError(err).Warn("content store entry failed to decode; treating as miss")
		return wire.Response{}, false
	}
	resp, ok := nw.(wire.Response)
	if !ok {
		storeErrors.Inc()
		cs.log.Warn("content store entry was not a Response; treating as miss")
		return wire.Response{}, false
	}
	hits.Inc()
	return resp, true
}

// Put caches resp, keyed by its own HBFI and offset. Put is idempotent;
// re-inserting an equal key is last-writer-wins and never distinguished
// from the first write.
func (cs *ContentStore) Put(resp wire.Response) {
	key := resp.HBFI.WithOffset(resp.Offset).StoreKey()
	value := wire.EncodeNarrowWaist(nil, resp)
	if err := cs.store.Put(key, value); err != nil {
		storeErrors.Inc()
		cs.log.WithError(err).Warn("content store put failed")
	}
}

// Chunks enumerates every cached Response belonging to the object
// identified by h (ignoring h's offset), in ascending offset order.
func (cs *ContentStore) Chunks(h hbfi.HBFI) []wire.Response {
	pairs := cs.store.Prefix(h.IDPrefix())
	out := make([]wire.Response, 0, len(pairs))
	for _, kv := range pairs {
		nw, _, err := wire.DecodeNarrowWaist(kv[1])
		if err != nil {
			storeErrors.Inc()
			cs.log.WithError(err).Warn("content store entry failed to decode; skipping")
			continue
		}
		if resp, ok := nw.(wire.Response); ok {
			out = append(out, resp)
		}
	}
	return out
}
