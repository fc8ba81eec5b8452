package transport

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Wire layout (spec.md §3, all multi-byte fields big-endian):
//
//	ver(1) flags(1) conn_id(4) seq(4) ack(4) win(2) len(2) checksum(16) payload(len)
const (
	Version = 1

	verOffset      = 0
	flagsOffset    = 1
	connIDOffset   = 2
	seqOffset      = 6
	ackOffset      = 10
	winOffset      = 14
	lenOffset      = 16
	checksumOffset = 18
	checksumLen    = 16

	// HeaderLength is the fixed size of a segment header, in bytes.
	HeaderLength = checksumOffset + checksumLen

	// MaxPayload bounds a whole application message to a single segment.
	MaxPayload = 1200
)

// Flags is the bitset carried in the segment header's flags byte.
type Flags byte

const (
	FlagSYN  Flags = 1 << 0
	FlagACK  Flags = 1 << 1
	FlagFIN  Flags = 1 << 2
	FlagDATA Flags = 1 << 3
)

func (f Flags) Has(bit Flags) bool { return f&bit == bit }

// Segment is a decoded protocol unit.
type Segment struct {
	Flags   Flags
	ConnID  uint32
	Seq     uint32
	Ack     uint32
	Win     uint16
	Payload []byte
}

// Encode produces the wire bytes for a segment, checksum included.
// It is side-effect-free: it never mutates connection state.
func Encode(seg Segment) ([]byte, error) {
	if len(seg.Payload) > MaxPayload {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds MaxPayload=%d", len(seg.Payload), MaxPayload)
	}

	buf := make([]byte, HeaderLength+len(seg.Payload))
	buf[verOffset] = Version
	buf[flagsOffset] = byte(seg.Flags)
	binary.BigEndian.PutUint32(buf[connIDOffset:], seg.ConnID)
	binary.BigEndian.PutUint32(buf[seqOffset:], seg.Seq)
	binary.BigEndian.PutUint32(buf[ackOffset:], seg.Ack)
	binary.BigEndian.PutUint16(buf[winOffset:], seg.Win)
	binary.BigEndian.PutUint16(buf[lenOffset:], uint16(len(seg.Payload)))
	copy(buf[HeaderLength:], seg.Payload)

	sum := checksum(buf)
	copy(buf[checksumOffset:checksumOffset+checksumLen], sum[:])
	return buf, nil
}

// Decode validates and parses wire bytes into a Segment. It rejects
// short buffers, length mismatches, unsupported versions, and any
// buffer whose checksum does not verify.
func Decode(buf []byte) (*Segment, error) {
	if len(buf) < HeaderLength {
		return nil, errors.Wrapf(ErrCorrupt, "short header: %d bytes", len(buf))
	}
	if buf[verOffset] != Version {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported version %d", buf[verOffset])
	}
	length := binary.BigEndian.Uint16(buf[lenOffset:])
	if int(length) != len(buf)-HeaderLength {
		return nil, errors.Wrapf(ErrCorrupt, "length field %d disagrees with %d trailing bytes", length, len(buf)-HeaderLength)
	}
	if !verifyChecksum(buf) {
		return nil, errors.Wrap(ErrCorrupt, "checksum mismatch")
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderLength:])

	return &Segment{
		Flags:   Flags(buf[flagsOffset]),
		ConnID:  binary.BigEndian.Uint32(buf[connIDOffset:]),
		Seq:     binary.BigEndian.Uint32(buf[seqOffset:]),
		Ack:     binary.BigEndian.Uint32(buf[ackOffset:]),
		Win:     binary.BigEndian.Uint16(buf[winOffset:]),
		Payload: payload,
	}, nil
}

// checksum computes MD5 over buf with the checksum field zeroed. The
// caller's buffer is left as it was: the field is zeroed in place for
// the hash and then restored, instead of copying the whole buffer.
func checksum(buf []byte) [16]byte {
	var saved [checksumLen]byte
	copy(saved[:], buf[checksumOffset:checksumOffset+checksumLen])
	for i := range buf[checksumOffset : checksumOffset+checksumLen] {
		buf[checksumOffset+i] = 0
	}
	sum := md5.Sum(buf)
	copy(buf[checksumOffset:checksumOffset+checksumLen], saved[:])
	return sum
}

func verifyChecksum(buf []byte) bool {
	var received [checksumLen]byte
	copy(received[:], buf[checksumOffset:checksumOffset+checksumLen])
	sum := checksum(buf)
	return sum == received
}

// seqGreater reports whether a is ahead of b in the modular 32-bit
// sequence space, using signed-difference comparison (spec.md §3
// invariant 6, §9 "Sequence wrap").
func seqGreater(a, b uint32) bool {
	return int32(a-b) > 0
}

func seqGreaterOrEqual(a, b uint32) bool {
	return a == b || seqGreater(a, b)
}

// peekConnID reads the conn_id field without validating the checksum,
// so a corrupted segment can still be attributed to the connection it
// claims to belong to (spec.md §8 S5: checksum-failure counter is
// per-connection, not global).
func peekConnID(buf []byte) (uint32, bool) {
	if len(buf) < connIDOffset+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[connIDOffset:]), true
}
