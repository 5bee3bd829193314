package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ReplyToKind discriminates the variants of ReplyTo on the wire.
type ReplyToKind byte

const (
	// ReplyToMpsc is an opaque in-process handle with no meaningful wire
	// representation outside the mpsc link family; it is encoded as a
	// bare id purely so the codec has a uniform total encoding.
	ReplyToMpsc ReplyToKind = iota
	// ReplyToUDP carries a standard IPv4/IPv6 socket address.
	ReplyToUDP
)

func (k ReplyToKind) String() string {
	switch k {
	case ReplyToMpsc:
		return "Mpsc"
	case ReplyToUDP:
		return "UdpIp"
	default:
		return fmt.Sprintf("ReplyToKind(%d)", byte(k))
	}
}

// replyToAddrLen is the fixed wire width of the UDP variant's address
// field: a 16-byte IPv6/IPv4-mapped address plus a 2-byte port. This is
// the largest ReplyTo variant and therefore the one that governs MTU
// sizing (see NarrowWaist, FragmentSize).
const replyToAddrLen = net.IPv6len + 2

// ReplyTo is the upstream hop that should receive a response: the
// *origin* of a request as rewritten hop-by-hop, never the ultimate
// client, so that each hop knows only its immediate upstream.
type ReplyTo struct {
	Kind ReplyToKind
	// Mpsc is the opaque local handle id, valid when Kind == ReplyToMpsc.
	Mpsc uint64
	// UDP is the remote socket address, valid when Kind == ReplyToUDP.
	UDP *net.UDPAddr
}

// NewMpscReplyTo constructs a ReplyTo addressing an in-process mpsc peer.
func NewMpscReplyTo(handle uint64) ReplyTo {
	return ReplyTo{Kind: ReplyToMpsc, Mpsc: handle}
}

// NewUDPReplyTo constructs a ReplyTo addressing a UDP/IP peer.
func NewUDPReplyTo(addr *net.UDPAddr) ReplyTo {
	return ReplyTo{Kind: ReplyToUDP, UDP: addr}
}

// Equal reports whether r and other address the same endpoint.
func (r ReplyTo) Equal(other ReplyTo) bool {
	if r.Kind != other.Kind {
		return false
	}
	switch r.Kind {
	case ReplyToMpsc:
		return r.Mpsc == other.Mpsc
	case ReplyToUDP:
		if r.UDP == nil || other.UDP == nil {
			return r.UDP == other.UDP
		}
		return r.UDP.IP.Equal(other.UDP.IP) && r.UDP.Port == other.UDP.Port
	default:
		return false
	}
}

func (r ReplyTo) String() string {
	switch r.Kind {
	case ReplyToMpsc:
		return fmt.Sprintf("Mpsc(%d)", r.Mpsc)
	case ReplyToUDP:
		if r.UDP == nil {
			return "UdpIp(<nil>)"
		}
		return fmt.Sprintf("UdpIp(%s)", r.UDP.String())
	default:
		return "ReplyTo(invalid)"
	}
}

func encodeReplyTo(buf []byte, r ReplyTo) []byte {
	buf = append(buf, byte(r.Kind))
	switch r.Kind {
	case ReplyToMpsc:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], r.Mpsc)
		buf = append(buf, tmp[:]...)
	case ReplyToUDP:
		var tmp [replyToAddrLen]byte
		ip := net.IPv6zero
		port := 0
		if r.UDP != nil {
			if v4 := r.UDP.IP.To4(); v4 != nil {
				ip = v4.To16()
			} else {
				ip = r.UDP.IP.To16()
			}
			port = r.UDP.Port
		}
		copy(tmp[:net.IPv6len], ip)
		binary.LittleEndian.PutUint16(tmp[net.IPv6len:], uint16(port))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func decodeReplyTo(data []byte) (ReplyTo, []byte, error) {
	if len(data) < 1 {
		return ReplyTo{}, nil, &DecodeError{Reason: "truncated ReplyTo discriminant"}
	}
	kind := ReplyToKind(data[0])
	data = data[1:]
	switch kind {
	case ReplyToMpsc:
		if len(data) < 8 {
			return ReplyTo{}, nil, &DecodeError{Reason: "truncated Mpsc ReplyTo"}
		}
		handle := binary.LittleEndian.Uint64(data[:8])
		return ReplyTo{Kind: ReplyToMpsc, Mpsc: handle}, data[8:], nil
	case ReplyToUDP:
		if len(data) < replyToAddrLen {
			return ReplyTo{}, nil, &DecodeError{Reason: "truncated UdpIp ReplyTo"}
		}
		ip := make(net.IP, net.IPv6len)
		copy(ip, data[:net.IPv6len])
		port := binary.LittleEndian.Uint16(data[net.IPv6len:replyToAddrLen])
		addr := &net.UDPAddr{IP: ip, Port: int(port)}
		if v4 := ip.To4(); v4 != nil {
			addr.IP = v4
		}
		return ReplyTo{Kind: ReplyToUDP, UDP: addr}, data[replyToAddrLen:], nil
	default:
		return ReplyTo{}, nil, &DecodeError{Reason: fmt.Sprintf("unknown ReplyTo discriminant %d", kind)}
	}
}
