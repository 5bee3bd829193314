// Package wire implements Copernica's narrow-waist packet codec: a
// byte-exact, little-endian, length-prefixed encoding of the tagged-union
// packet types every participant in the network understands.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sjmackenzie/copernica-go/pkg/hbfi"
)

// FragmentSize is the fixed payload capacity of a Response chunk, in
// bytes. It is sized so that a maximum-valued LinkPacket{UdpIp, Response}
// serializes within the 1472-byte MTU budget: a UdpIp ReplyTo takes 19
// bytes (kind, 16-byte address, 2-byte port) and a Response takes 1443
// (kind, 24-byte HBFI, 2-byte length, FragmentSize data bytes, 8-byte
// offset, 8-byte total), 1462 bytes in all.
const FragmentSize = 1400

// MTU is the largest permitted wire packet, the IPv4-over-Ethernet
// non-fragmenting payload limit.
const MTU = 1472

// narrowWaistKind discriminates the two variants of the narrow waist.
type narrowWaistKind byte

const (
	kindRequest narrowWaistKind = iota
	kindResponse
)

// NarrowWaist is the one packet type every node understands: a Request or
// a Response. It is implemented as a small interface over two structs
// rather than an exported discriminated struct, so that Request and
// Response each carry only the fields relevant to them.
type NarrowWaist interface {
	// Kind reports which variant this value is.
	Kind() narrowWaistKind
	encodeBody(buf []byte) []byte
}

// Request is a query for a chunk of named content; the chunk offset
// travels inside the HBFI itself.
type Request struct {
	HBFI hbfi.HBFI
}

// Kind implements NarrowWaist.
func (Request) Kind() narrowWaistKind { return kindRequest }

func (r Request) encodeBody(buf []byte) []byte {
	return encodeHBFI(buf, r.HBFI)
}

// Data is a fixed-capacity chunk buffer: only the first Len bytes are
// meaningful, but all FragmentSize bytes travel on the wire, which keeps
// packet sizes uniform and simplifies buffer management.
type Data struct {
	Len   uint16
	Bytes [FragmentSize]byte
}

// Response is a fixed-capacity chunk of a named object, plus the chunk
// index and total chunk count of the logical object.
type Response struct {
	HBFI   hbfi.HBFI
	Data   Data
	Offset uint64
	Total  uint64
}

// Kind implements NarrowWaist.
func (Response) Kind() narrowWaistKind { return kindResponse }

func (r Response) encodeBody(buf []byte) []byte {
	buf = encodeHBFI(buf, r.HBFI)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], r.Data.Len)
	buf = append(buf, tmp[:]...)
	buf = append(buf, r.Data.Bytes[:]...)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], r.Offset)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], r.Total)
	buf = append(buf, tmp8[:]...)
	return buf
}

// NewResponse builds a Response whose Data buffer holds payload, which
// must fit within FragmentSize.
func NewResponse(h hbfi.HBFI, payload []byte, offset, total uint64) (Response, error) {
	if len(payload) > FragmentSize {
		return Response{}, fmt.Errorf("wire: payload of %d bytes exceeds FragmentSize %d", len(payload), FragmentSize)
	}
	var d Data
	d.Len = uint16(len(payload))
	copy(d.Bytes[:], payload)
	return Response{HBFI: h, Data: d, Offset: offset, Total: total}, nil
}

// Payload returns the meaningful prefix of the Response's data buffer.
func (r Response) Payload() []byte {
	return r.Data.Bytes[:r.Data.Len]
}

func encodeHBFI(buf []byte, h hbfi.HBFI) []byte {
	var tmp [2]byte
	for _, v := range h.H1 {
		binary.LittleEndian.PutUint16(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	for _, v := range h.ID {
		binary.LittleEndian.PutUint16(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], h.Offset)
	buf = append(buf, tmp8[:]...)
	return buf
}

const hbfiWireSize = 4*2 + 4*2 + 8

func decodeHBFI(data []byte) (hbfi.HBFI, []byte, error) {
	if len(data) < hbfiWireSize {
		return hbfi.HBFI{}, nil, &DecodeError{Reason: "truncated HBFI"}
	}
	var h hbfi.HBFI
	off := 0
	for i := range h.H1 {
		h.H1[i] = binary.LittleEndian.Uint16(data[off:])
		off += 2
	}
	for i := range h.ID {
		h.ID[i] = binary.LittleEndian.Uint16(data[off:])
		off += 2
	}
	h.Offset = binary.LittleEndian.Uint64(data[off:])
	off += 8
	return h, data[off:], nil
}

// EncodeNarrowWaist appends the discriminant-prefixed encoding of nw to buf.
func EncodeNarrowWaist(buf []byte, nw NarrowWaist) []byte {
	buf = append(buf, byte(nw.Kind()))
	return nw.encodeBody(buf)
}

// DecodeNarrowWaist decodes a NarrowWaist from the front of data, returning
// the decoded value and the remaining bytes.
func DecodeNarrowWaist(data []byte) (NarrowWaist, []byte, error) {
	if len(data) < 1 {
		return nil, nil, &DecodeError{Reason: "truncated NarrowWaist discriminant"}
	}
	kind := narrowWaistKind(data[0])
	data = data[1:]
	switch kind {
	case kindRequest:
		h, rest, err := decodeHBFI(data)
		if err != nil {
			return nil, nil, err
		}
		return Request{HBFI: h}, rest, nil
	case kindResponse:
		h, rest, err := decodeHBFI(data)
		if err != nil {
			return nil, nil, err
		}
		if len(rest) < 2 {
			return nil, nil, &DecodeError{Reason: "truncated Response data length"}
		}
		dataLen := binary.LittleEndian.Uint16(rest[:2])
		rest = rest[2:]
		if dataLen > FragmentSize {
			return nil, nil, &DecodeError{Reason: fmt.Sprintf("Response data.len %d exceeds FragmentSize %d", dataLen, FragmentSize)}
		}
		if len(rest) < FragmentSize {
			return nil, nil, &DecodeError{Reason: "truncated Response data buffer"}
		}
		var d Data
		d.Len = dataLen
		copy(d.Bytes[:], rest[:FragmentSize])
		rest = rest[FragmentSize:]
		if len(rest) < 16 {
			return nil, nil, &DecodeError{Reason: "truncated Response offset/total"}
		}
		offset := binary.LittleEndian.Uint64(rest[:8])
		total := binary.LittleEndian.Uint64(rest[8:16])
		rest = rest[16:]
		return Response{HBFI: h, Data: d, Offset: offset, Total: total}, rest, nil
	default:
		return nil, nil, &DecodeError{Reason: fmt.Sprintf("unknown NarrowWaist discriminant %d", kind)}
	}
}
