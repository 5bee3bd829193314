// Package hbfi implements the Hierarchical Bloom Filter Index: Copernica's
// content identifier, which doubles as a lookup key and a partial routing
// key.
package hbfi

import (
	"encoding/binary"
	"fmt"

	"github.com/sjmackenzie/copernica-go/pkg/bfi"
)

// HBFI identifies a chunk of a named object published under a publisher
// identity. H1 is the BFI of the object's name, ID is the BFI of the
// publisher's identity, and Offset is the chunk index into the object.
//
// HBFI is a plain comparable value: two HBFIs are equal iff all three
// fields are equal, which is exactly what Go's == operator and map-key
// semantics already give a struct of comparable fields, so no custom
// Equal/Hash method is needed.
type HBFI struct {
	H1     bfi.BFI
	ID     bfi.BFI
	Offset uint64
}

// New derives an HBFI for object name h1 published under identity id, at
// offset 0 (the convention for the first chunk of an object).
func New(h1, id string) HBFI {
	return HBFI{
		H1: bfi.Of(h1),
		ID: bfi.Of(id),
	}
}

// WithOffset returns a copy of h addressing the given chunk offset.
func (h HBFI) WithOffset(offset uint64) HBFI {
	h.Offset = offset
	return h
}

// Equal reports whether h and other identify the same object chunk.
func (h HBFI) Equal(other HBFI) bool {
	return h == other
}

// ToSlice exposes [ID, H1] for use as a persistent-store key prefix,
// matching the original implementation's to_vec.
func (h HBFI) ToSlice() []bfi.BFI {
	return []bfi.BFI{h.ID, h.H1}
}

// String renders an HBFI as "h1::id::offset", matching the Debug/Display
// form of the original implementation.
func (h HBFI) String() string {
	return fmt.Sprintf("%v::%v::%d", h.H1, h.ID, h.Offset)
}

// StoreKeySize is the length in bytes of the encoded store key: ID (4
// uint16) ‖ H1 (4 uint16) ‖ Offset (uint64), big-endian.
const StoreKeySize = bfi.Length*2 + bfi.Length*2 + 8

// StoreKey encodes h as the big-endian "id ‖ h1 ‖ offset" byte string
// used to key the Content Store, per the persisted-state layout: sorting
// on this key groups all chunks of one (id, h1) object together so a
// prefix scan over IDPrefix(h) enumerates every chunk.
func (h HBFI) StoreKey() []byte {
	buf := make([]byte, StoreKeySize)
	off := 0
	for _, v := range h.ID {
		binary.BigEndian.PutUint16(buf[off:], v)
		off += 2
	}
	for _, v := range h.H1 {
		binary.BigEndian.PutUint16(buf[off:], v)
		off += 2
	}
	binary.BigEndian.PutUint64(buf[off:], h.Offset)
	return buf
}

// IDPrefix encodes the "id ‖ h1" prefix shared by every chunk of one
// object, for use in Content Store prefix scans.
func (h HBFI) IDPrefix() []byte {
	key := h.StoreKey()
	return key[:StoreKeySize-8]
}
