// Package broker implements Copernica's forwarding engine: a select loop
// that multiplexes over every attached link's inbound queue, consults the
// Content Store and Pending Interest Table, and forwards requests toward
// producers and responses back along the request path.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/contentstore"
	"github.com/sjmackenzie/copernica-go/pkg/copconfig"
	"github.com/sjmackenzie/copernica-go/pkg/link"
	"github.com/sjmackenzie/copernica-go/pkg/pit"
	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

var (
	requestsForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "broker",
		Name:      "requests_forwarded_total",
		Help:      "Requests forwarded out on neighbor links after a PIT FirstHop.",
	})
	responsesForwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "broker",
		Name:      "responses_forwarded_total",
		Help:      "Responses forwarded along recorded PIT reply-to links.",
	})
	malformedDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "broker",
		Name:      "malformed_responses_dropped_total",
		Help:      "Responses dropped for failing the data.len/offset<total validation.",
	})
	unsolicited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copernica",
		Subsystem: "broker",
		Name:      "unsolicited_responses_total",
		Help:      "Responses with no matching PIT entry: cached for learning, dropped for routing.",
	})
)

func init() {
	prometheus.MustRegister(requestsForwarded, responsesForwarded, malformedDropped, unsolicited)
}

// inboundEvent pairs a decoded LinkPacket with the link it arrived on, so
// the broker's single select loop can fan in over a dynamic set of links
// without reflect.Select.
type inboundEvent struct {
	link link.Link
	pkt  wire.LinkPacket
}

// Broker owns a Content Store and Pending Interest Table and forwards
// packets between every link attached to it. Per the concurrency model,
// the PIT is touched only from within Run's own goroutine; the CS is also
// written by Preload from the caller's goroutine, relying on its KVStore
// for locking (MemStore locks). Neither carries locks of its own.
type Broker struct {
	cs  *contentstore.ContentStore
	pit *pit.PIT
	cfg copconfig.Config
	log *logrus.Entry

	mu       sync.Mutex
	links    []link.Link
	byLinkID map[link.LinkId]link.Link
	incoming chan inboundEvent
	started  bool
}

// New constructs a Broker backed by the given KVStore, using cfg for PIT
// TTL and sweep interval.
func New(store contentstore.KVStore, cfg copconfig.Config) *Broker {
	return &Broker{
		cs:       contentstore.New(store),
		pit:      pit.New(),
		cfg:      cfg,
		log:      logrus.WithField("component", "broker"),
		byLinkID: make(map[link.LinkId]link.Link),
		incoming: make(chan inboundEvent, 1024),
	}
}

// Preload inserts resp directly into the broker's Content Store, the way
// a producer-side service publishes content it generated locally.
func (b *Broker) Preload(resp wire.Response) {
	b.cs.Put(resp)
}

// AddLink attaches l to the broker. It may be called before Run, which
// then starts l's fan-in goroutine, or after Run has started, in which
// case l's fan-in goroutine is spawned immediately.
func (b *Broker) AddLink(l link.Link) {
	b.mu.Lock()
	b.links = append(b.links, l)
	b.byLinkID[l.ID()] = l
	started := b.started
	b.mu.Unlock()

	if started {
		go b.fanIn(context.Background(), l)
	}
}

// Run spawns the broker's select loop and a fan-in goroutine per
// attached link. It blocks until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	b.mu.Lock()
	b.started = true
	links := append([]link.Link(nil), b.links...)
	b.mu.Unlock()

	for _, l := range links {
		go b.fanIn(ctx, l)
	}

	ticker := time.NewTicker(b.cfg.PITSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pit.Expire(time.Now(), b.cfg.PITTTL)
		case ev := <-b.incoming:
			b.handle(ev)
		}
	}
}

func (b *Broker) fanIn(ctx context.Context, l link.Link) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-l.Recv():
			if !ok {
				return
			}
			select {
			case b.incoming <- inboundEvent{link: l, pkt: p}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Broker) handle(ev inboundEvent) {
	switch nw := ev.pkt.NW.(type) {
	case wire.Request:
		b.handleRequest(ev.link, nw)
	case wire.Response:
		b.handleResponse(ev.link, nw)
	default:
		malformedDropped.Inc()
	}
}

func (b *Broker) handleRequest(from link.Link, req wire.Request) {
	h := req.HBFI
	if resp, ok := b.cs.Get(h, h.Offset); ok {
		b.sendOn(from, resp)
		return
	}

	outcome := b.pit.Record(h, h.Offset, from.ID())
	if outcome != pit.FirstHop {
		return
	}

	b.mu.Lock()
	links := append([]link.Link(nil), b.links...)
	b.mu.Unlock()

	for _, l := range links {
		if l.ID().Equal(from.ID()) {
			continue
		}
		b.sendOn(l, wire.Request{HBFI: h})
		requestsForwarded.Inc()
	}
}

func (b *Broker) handleResponse(from link.Link, resp wire.Response) {
	if resp.Data.Len > wire.FragmentSize || resp.Offset >= resp.Total {
		malformedDropped.Inc()
		b.log.WithField("hbfi", resp.HBFI.String()).Trace("dropping malformed response")
		return
	}

	b.cs.Put(resp)

	froms, ok := b.pit.Resolve(resp.HBFI, resp.Offset)
	if !ok || len(froms) == 0 {
		unsolicited.Inc()
		b.log.WithField("hbfi", resp.HBFI.String()).Trace("no PIT entry for response; cached, not forwarded")
		return
	}

	b.mu.Lock()
	byID := b.byLinkID
	b.mu.Unlock()

	for _, id := range froms {
		l, ok := byID[id]
		if !ok {
			continue
		}
		b.sendOn(l, resp)
		responsesForwarded.Inc()
	}
}

// sendOn enqueues nw on l's outbound queue with reply_to rewritten to l's
// own local identity — each hop learns only its immediate upstream, per
// the LinkPacket contract. If l's queue is full the packet is dropped;
// backpressure is delegated entirely to the link's own queue.
func (b *Broker) sendOn(l link.Link, nw wire.NarrowWaist) {
	p := wire.LinkPacket{ReplyTo: l.ID().Local, NW: nw}
	select {
	case l.Send() <- p:
	default:
		b.log.WithField("link", l.ID().String()).Warn("outbound queue full, dropping packet")
	}
}
