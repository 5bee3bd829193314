// Package pit implements the Pending Interest Table: tracking outstanding
// requests and the set of upstream hops awaiting their response.
package pit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjmackenzie/copernica-go/pkg/hbfi"
	"github.com/sjmackenzie/copernica-go/pkg/link"
)

var (
	entriesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "copernica",
		Subsystem: "pit",
		Name:      "entries_live",
		Help:      "Pending Interest Table entries currently outstanding.",
	})
	expired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "pit",
		Name:      "expired_total",
		Help:      "Pending Interest Table entries removed by TTL expiry.",
	})
)

func init() {
	prometheus.MustRegister(entriesLive, expired)
}

// Outcome is the three-way result of recording a request.
type Outcome int

const (
	// FirstHop means no entry previously existed: the broker must
	// forward this request.
	FirstHop Outcome = iota
	// Duplicate means an entry already existed (whether or not from
	// already belonged to it): the broker must not forward again.
	Duplicate
)

func (o Outcome) String() string {
	if o == FirstHop {
		return "FirstHop"
	}
	return "Duplicate"
}

type key struct {
	hbfi   hbfi.HBFI
	offset uint64
}

type entry struct {
	from      []link.LinkId
	seen      map[link.LinkId]struct{}
	lastTouch time.Time
}

// PIT is the Pending Interest Table. It is intended to be owned and
// mutated solely by the broker's select loop; it performs no internal
// locking of its own (see the concurrency & resource model: CS/PIT are
// shared only within that one loop, never across goroutines).
type PIT struct {
	entries map[key]*entry
}

// New constructs an empty PIT.
func New() *PIT {
	return &PIT{entries: make(map[key]*entry)}
}

// Record registers that from is awaiting a response to (h, offset).
//
//   - If no entry exists, create one containing {from} and return
//     FirstHop: the broker must forward.
//   - If an entry exists and already contains from, return Duplicate:
//     do not forward again, do not rebroadcast.
//   - If an entry exists without from, add from and return Duplicate:
//     the request is still outstanding, await the eventual response.
func (p *PIT) Record(h hbfi.HBFI, offset uint64, from link.LinkId) Outcome {
	k := key{hbfi: h, offset: offset}
	e, ok := p.entries[k]
	if !ok {
		e = &entry{seen: make(map[link.LinkId]struct{})}
		p.entries[k] = e
		entriesLive.Inc()
	}
	e.lastTouch = time.Now()
	if _, already := e.seen[from]; already {
		return Duplicate
	}
	e.seen[from] = struct{}{}
	e.from = append(e.from, from)
	if !ok {
		return FirstHop
	}
	return Duplicate
}

// Resolve removes and returns the set of LinkIds awaiting a response to
// (h, offset), if any entry exists.
func (p *PIT) Resolve(h hbfi.HBFI, offset uint64) ([]link.LinkId, bool) {
	k := key{hbfi: h, offset: offset}
	e, ok := p.entries[k]
	if !ok {
		return nil, false
	}
	delete(p.entries, k)
	entriesLive.Dec()
	return e.from, true
}

// Expire removes every entry older than ttl as of now.
func (p *PIT) Expire(now time.Time, ttl time.Duration) {
	for k, e := range p.entries {
		if now.Sub(e.lastTouch) > ttl {
			delete(p.entries, k)
			entriesLive.Dec()
			expired.Inc()
		}
	}
}

// Len reports the number of outstanding entries, for tests.
func (p *PIT) Len() int {
	return len(p.entries)
}
