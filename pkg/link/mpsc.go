package link

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

// MpscChannel is a same-process link: ordered, and used when the peer
// lives in the same address space. Its queues are Go channels bounded at
// inboxCapacity: the send loop waits while the peer's raw inbox is full,
// and a decoded packet that finds this link's inbound queue full is
// dropped and counted (see deliver), so delivery is not lossless under
// a slow owner.
//
// male()/female() wiring mirrors the original implementation: Male
// returns the sending half of this link's own inbound byte stream, for a
// peer to use as its outbound destination, and Female records the sending
// half of the peer's Male() as this link's outbound destination. Wiring two
// MpscChannels together is symmetric:
//
//	a.Female(b.Male())
//	b.Female(a.Male())
type MpscChannel struct {
	base
	rawIn  chan []byte
	female chan<- []byte
	log    *logrus.Entry
}

// NewMpscChannel constructs an unconnected mpsc link identified by id.
// Female must be called before Run is useful.
func NewMpscChannel(id LinkId) *MpscChannel {
	return &MpscChannel{
		base:  newBase(id, "mpsc"),
		rawIn: make(chan []byte, inboxCapacity),
		log:   logrus.WithFields(logrus.Fields{"link": "mpsc", "id": id.String()}),
	}
}

// Male returns the sending half of this link's raw inbound byte stream,
// for a peer link to use as its Female.
func (m *MpscChannel) Male() chan<- []byte {
	return m.rawIn
}

// Female records to as this link's outbound raw-byte destination.
func (m *MpscChannel) Female(to chan<- []byte) {
	m.female = to
}

// Run spawns the link's encode/transmit and receive/decode loops. It is
// idempotent: calling it more than once has no additional effect.
func (m *MpscChannel) Run(ctx context.Context) {
	m.runOnce.Do(func() {
		go m.sendLoop(ctx)
		go m.recvLoop(ctx)
	})
}

func (m *MpscChannel) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-m.outbound:
			if !ok {
				return
			}
			if m.female == nil {
				packetsDropped.WithLabelValues(m.kind, "no_peer").Inc()
				continue
			}
			encoded := p.Encode()
			select {
			case m.female <- encoded:
				packetsSent.WithLabelValues(m.kind).Inc()
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *MpscChannel) recvLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-m.rawIn:
			if !ok {
				return
			}
			p, err := wire.Decode(raw)
			if err != nil {
				decodeErrors.WithLabelValues(m.kind).Inc()
				m.log.WithError(err).Trace("dropping malformed mpsc packet")
				continue
			}
			m.deliver(p)
		}
	}
}
