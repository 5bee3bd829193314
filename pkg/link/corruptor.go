package link

import (
	"context"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

// CorruptHook transforms an encoded packet's bytes before transmission,
// e.g. to flip a byte or truncate the buffer; the returned slice is what
// is sent. Returning nil signals "drop this packet entirely" (simulating
// a lost datagram).
type CorruptHook func(encoded []byte) []byte

// FlipRandomByteHook returns a CorruptHook that, with probability p,
// flips a single random bit in a random byte of the buffer.
func FlipRandomByteHook(p float64) CorruptHook {
	return func(encoded []byte) []byte {
		if len(encoded) == 0 || rand.Float64() >= p {
			return encoded
		}
		mutated := make([]byte, len(encoded))
		copy(mutated, encoded)
		i := rand.Intn(len(mutated))
		bit := byte(1 << uint(rand.Intn(8)))
		mutated[i] ^= bit
		return mutated
	}
}

// MpscCorruptor has the same semantics as MpscChannel, but applies a
// configurable byte-flip or drop hook to every encoded packet before it
// reaches the peer. The broker must tolerate the resulting arbitrary
// malformed byte streams without crashing; MpscCorruptor exists to test
// exactly that.
type MpscCorruptor struct {
	base
	rawIn  chan []byte
	female chan<- []byte
	hook   CorruptHook
	log    *logrus.Entry
}

// NewMpscCorruptor constructs an unconnected corrupting mpsc link. If
// hook is nil, FlipRandomByteHook(0) is used (i.e. no corruption).
func NewMpscCorruptor(id LinkId, hook CorruptHook) *MpscCorruptor {
	if hook == nil {
		hook = FlipRandomByteHook(0)
	}
	return &MpscCorruptor{
		base:  newBase(id, "mpsc_corruptor"),
		rawIn: make(chan []byte, inboxCapacity),
		hook:  hook,
		log:   logrus.WithFields(logrus.Fields{"link": "mpsc_corruptor", "id": id.String()}),
	}
}

// Male returns the sending half of this link's raw inbound byte stream.
func (m *MpscCorruptor) Male() chan<- []byte {
	return m.rawIn
}

// Female records to as this link's outbound raw-byte destination.
func (m *MpscCorruptor) Female(to chan<- []byte) {
	m.female = to
}

// Run spawns the link's loops; idempotent.
func (m *MpscCorruptor) Run(ctx context.Context) {
	m.runOnce.Do(func() {
		go m.sendLoop(ctx)
		go m.recvLoop(ctx)
	})
}

func (m *MpscCorruptor) sendLoop(ctx context.Context) {
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
			encoded := m.hook(p.Encode())
			if encoded == nil {
				packetsDropped.WithLabelValues(m.kind, "corrupted_drop").Inc()
				continue
			}
			select {
			case m.female <- encoded:
				packetsSent.WithLabelValues(m.kind).Inc()
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *MpscCorruptor) recvLoop(ctx context.Context) {
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
				m.log.WithError(err).Trace("dropping malformed corrupted packet")
				continue
			}
			m.deliver(p)
		}
	}
}
