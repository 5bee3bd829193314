package link

import (
	"context"
	"sync"

	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

// inboxCapacity bounds each link's inbound queue. Per the shared link
// policy, once this is full the link drops the newest packet and records
// a metric rather than blocking its read loop.
const inboxCapacity = 256

// Link is a bidirectional packet pipe between exactly two endpoints. Its
// sole required capability, per the redesign notes, is: deliver a
// LinkPacket, and yield received LinkPackets. Run must be idempotent and
// non-blocking; it spawns the link's I/O loop(s) and returns immediately.
type Link interface {
	ID() LinkId
	Kind() string
	Run(ctx context.Context)
	// Send is the owner's (broker's or service's) outbound queue: packets
	// placed here are serialized and transmitted.
	Send() chan<- wire.LinkPacket
	// Recv is the owner's inbound queue: packets received and decoded
	// from the transport are deposited here.
	Recv() <-chan wire.LinkPacket
}

// base holds the state common to every link variant: its identity and its
// two owner-facing queues. Link variants embed base and add their own
// transport-specific I/O loops.
type base struct {
	id       LinkId
	kind     string
	outbound chan wire.LinkPacket
	inbound  chan wire.LinkPacket
	runOnce  sync.Once
}

func newBase(id LinkId, kind string) base {
	return base{
		id:       id,
		kind:     kind,
		outbound: make(chan wire.LinkPacket, inboxCapacity),
		inbound:  make(chan wire.LinkPacket, inboxCapacity),
	}
}

func (b *base) ID() LinkId                      { return b.id }
func (b *base) Kind() string                    { return b.kind }
func (b *base) Send() chan<- wire.LinkPacket    { return b.outbound }
func (b *base) Recv() <-chan wire.LinkPacket    { return b.inbound }

// deliver deposits p onto the inbound queue, dropping the newest packet
// and recording a metric if the queue is full.
func (b *base) deliver(p wire.LinkPacket) {
	select {
	case b.inbound <- p:
	default:
		packetsDropped.WithLabelValues(b.kind, "inbound_queue_full").Inc()
	}
}
