package document

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// ID layout (64 bits):
// - Bits 63-20: milliseconds since Epoch (44 bits, ~557 years)
// - Bits 19-0: sequence (20 bits); starts at a random value below 2^19 each
//   millisecond and increments for IDs generated within the same millisecond.

const (
	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch int64 = 1704067200000

	seqBits = 20
	seqMask = 1<<seqBits - 1

	// idLen is the fixed length of encoded IDs: ceil(64 / 6).
	idLen = 11
)

// sortableAlphabet is a base64 alphabet in ASCII order so encoded IDs sort
// lexicographically in the same order as their numeric value.
const sortableAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var decodeMap = func() (m [128]byte) {
	for i := range m {
		m[i] = 0xFF
	}
	for i, c := range sortableAlphabet {
		m[c] = byte(i)
	}
	return m
}()

// ID is a time-ordered 64-bit identifier.
type ID uint64

var (
	idMu   sync.Mutex
	idLast ID
)

// NewID returns a new identifier.
//
// IDs are strictly increasing within a process, even when the wall clock
// steps backwards or more than 2^19 IDs are requested in one millisecond.
func NewID() ID {
	ms := max(time.Now().UnixMilli()-Epoch, 0)

	idMu.Lock()
	defer idMu.Unlock()
	lastMs := int64(idLast >> seqBits)
	var id ID
	if ms > lastMs {
		var b [4]byte
		_, _ = rand.Read(b[:])
		id = ID(ms)<<seqBits | ID(binary.BigEndian.Uint32(b[:])&(seqMask>>1))
	} else {
		// Same (or earlier) millisecond: continue the sequence. Overflowing the
		// sequence carries into the timestamp, borrowing from the future.
		id = idLast + 1
	}
	idLast = id
	return id
}

// String returns the fixed-width 11-character sortable encoding.
func (id ID) String() string {
	var buf [idLen]byte
	v := uint64(id)
	for i := idLen - 1; i >= 0; i-- {
		buf[i] = sortableAlphabet[v&0x3F]
		v >>= 6
	}
	return string(buf[:])
}

// Time returns the creation time encoded in the identifier.
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(id>>seqBits) + Epoch).UTC()
}

// ParseID decodes the encoding produced by [ID.String].
func ParseID(s string) (ID, error) {
	if len(s) != idLen {
		return 0, fmt.Errorf("invalid ID length: got %d, want %d", len(s), idLen)
	}
	// The first character only carries 4 bits.
	if c := s[0]; c >= 128 || decodeMap[c] > 0xF {
		return 0, fmt.Errorf("invalid ID character at position 0: %q", c)
	}
	var v uint64
	for i := range idLen {
		c := s[i]
		if c >= 128 || decodeMap[c] == 0xFF {
			return 0, fmt.Errorf("invalid ID character at position %d: %q", i, c)
		}
		v = v<<6 | uint64(decodeMap[c])
	}
	return ID(v), nil
}
