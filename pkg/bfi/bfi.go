// Package bfi computes the Bloom Filter Index: a deterministic, fixed-width
// fingerprint of a string used throughout Copernica as the basis of the
// hierarchical content identifier (HBFI).
package bfi

import (
	"fmt"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// Length is the number of uint16 slots in a BFI, and the number of
// independent hash evaluations performed per string.
const Length = 4

// BloomFilterLength is the modulus applied to each slot's accumulated hash
// sum. It must be a power of two wider than 16 bits so that a cast to
// uint16 loses no information that the modulus hasn't already discarded.
const BloomFilterLength = 65536

// BFI is a fixed-width pseudo-random fingerprint of a string. Two distinct
// strings collide on a given BFI with probability roughly Length/BloomFilterLength.
type BFI [Length]uint16

// Of derives the BFI of s. It is pure and total over all UTF-8 strings.
//
// For each of the Length slots: hash s with SHA3-512, then hash the hex
// encoding of that digest concatenated with the slot index, split the
// resulting hex string into 16-character chunks, parse each chunk as a
// base-16 uint64, and sum them modulo BloomFilterLength.
func Of(s string) BFI {
	base := sha3.Sum512([]byte(s))
	baseHex := fmt.Sprintf("%x", base)

	var out BFI
	for slot := 0; slot < Length; slot++ {
		slotHash := sha3.Sum512([]byte(fmt.Sprintf("%s%d", baseHex, slot)))
		slotHex := fmt.Sprintf("%x", slotHash)

		var index uint64
		for i := 0; i < len(slotHex); i += 16 {
			end := i + 16
			if end > len(slotHex) {
				end = len(slotHex)
			}
			chunk, err := strconv.ParseUint(slotHex[i:end], 16, 64)
			if err != nil {
				// unreachable: slotHex is always a hex digest of fixed width.
				panic(fmt.Sprintf("bfi: malformed hex chunk %q: %v", slotHex[i:end], err))
			}
			index += chunk
		}
		out[slot] = uint16(index % BloomFilterLength)
	}
	return out
}

// String renders a BFI in the same bracketed-array form as its Debug form
// would read in the original implementation, useful for log lines.
func (b BFI) String() string {
	return fmt.Sprintf("%v", [Length]uint16(b))
}
