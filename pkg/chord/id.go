package chord

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
)

// IDBits is the width of the ring identifier space.
const IDBits = 160

// IDBytes is the number of bytes in a ring identifier.
const IDBytes = IDBits / 8

// ID is a position on the ring, stored as a big-endian 160 bit unsigned
// integer.
//
// IDs are derived by hashing a node's advertised address so are immutable
// once assigned.
type ID [IDBytes]byte

// IDFromAddr derives the ring identifier for the node with the given
// advertised address.
func IDFromAddr(addr string) ID {
	return ID(sha1.Sum([]byte(addr)))
}

// IDFromKey derives the ring identifier a key maps to.
func IDFromKey(key string) ID {
	return ID(sha1.Sum([]byte(key)))
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Less returns whether id orders strictly before o.
func (id ID) Less(o ID) bool {
	return bytes.Compare(id[:], o[:]) < 0
}

// Add2Exp returns the identifier id + 2^i (mod 2^160), used to compute
// finger table interval starts.
func (id ID) Add2Exp(i int) ID {
	var out ID
	copy(out[:], id[:])

	idx := IDBytes - 1 - i/8
	carry := uint16(1) << (i % 8)
	for b := idx; b >= 0 && carry > 0; b-- {
		sum := uint16(out[b]) + carry
		out[b] = byte(sum)
		carry = sum >> 8
	}
	return out
}

// Between returns whether id lies strictly inside the clockwise arc from lo
// to hi, handling wraparound past zero.
//
// Returns false if lo and hi are equal.
func Between(id, lo, hi ID) bool {
	switch bytes.Compare(lo[:], hi[:]) {
	case -1:
		return bytes.Compare(id[:], lo[:]) > 0 && bytes.Compare(id[:], hi[:]) < 0
	case 1:
		// The arc wraps past zero.
		return bytes.Compare(id[:], lo[:]) > 0 || bytes.Compare(id[:], hi[:]) < 0
	default:
		return false
	}
}

// BetweenRightIncl returns whether id lies inside the clockwise arc from lo
// to hi, excluding lo and including hi.
//
// If lo and hi are equal the arc covers the whole ring, so any id is inside.
func BetweenRightIncl(id, lo, hi ID) bool {
	if lo == hi {
		return true
	}
	if id == hi {
		return true
	}
	return Between(id, lo, hi)
}
