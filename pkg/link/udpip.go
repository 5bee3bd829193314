package link

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/sjmackenzie/copernica-go/pkg/wire"
)

// UdpIp is a link variant with one socket per LinkId, bound to the local
// address and sending to the remote address. It is unreliable and
// unordered: a datagram that fails to decode is dropped silently (with a
// trace log), and datagram size must stay within MTU.
type UdpIp struct {
	base
	conn *net.UDPConn
	log  *logrus.Entry
}

// NewUdpIp binds a UDP socket at id.Local and targets id.Remote for
// sends. id.Remote must be set (via LinkId.WithRemote) before Run.
func NewUdpIp(id LinkId) (*UdpIp, error) {
	if id.Local.Kind != wire.ReplyToUDP || id.Local.UDP == nil {
		return nil, &DialError{Reason: "UdpIp requires a UDP local ReplyTo"}
	}
	conn, err := net.ListenUDP("udp", id.Local.UDP)
	if err != nil {
		return nil, err
	}
	return &UdpIp{
		base: newBase(id, "udp"),
		conn: conn,
		log:  logrus.WithFields(logrus.Fields{"link": "udp", "id": id.String()}),
	}, nil
}

// DialError reports link construction failures (e.g. a UDP link
// misconfigured with a non-UDP local ReplyTo).
type DialError struct{ Reason string }

func (e *DialError) Error() string { return "link: " + e.Reason }

// Run spawns the send and receive loops; idempotent.
func (u *UdpIp) Run(ctx context.Context) {
	u.runOnce.Do(func() {
		go u.sendLoop(ctx)
		go u.recvLoop(ctx)
		go func() {
			<-ctx.Done()
			u.conn.Close()
		}()
	})
}

func (u *UdpIp) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-u.outbound:
			if !ok {
				return
			}
			if u.id.Remote == nil || u.id.Remote.UDP == nil {
				packetsDropped.WithLabelValues(u.kind, "no_remote").Inc()
				continue
			}
			encoded := p.Encode()
			if len(encoded) > wire.MTU {
				packetsDropped.WithLabelValues(u.kind, "over_mtu").Inc()
				u.log.Warn("dropping outbound packet larger than MTU")
				continue
			}
			if _, err := u.conn.WriteToUDP(encoded, u.id.Remote.UDP); err != nil {
				packetsDropped.WithLabelValues(u.kind, "transmit_error").Inc()
				u.log.WithError(err).Warn("udp transmit failed")
				continue
			}
			packetsSent.WithLabelValues(u.kind).Inc()
		}
	}
}

func (u *UdpIp) recvLoop(ctx context.Context) {
	buf := make([]byte, wire.MTU)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			u.log.WithError(err).Trace("udp read failed")
			continue
		}
		p, err := wire.Decode(buf[:n])
		if err != nil {
			decodeErrors.WithLabelValues(u.kind).Inc()
			u.log.WithError(err).Trace("dropping malformed udp datagram")
			continue
		}
		u.deliver(p)
	}
}
