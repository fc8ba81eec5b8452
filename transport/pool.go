package transport

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// segmentBuffer is the pooled element type, mirroring
// Clouded-Sabre-Pseudo-TCP's lib/pool.go Payload exactly: a reusable
// byte slice sized for one segment, reset between uses instead of
// reallocated.
type segmentBuffer struct {
	bytes []byte
	n     int
}

var emptySegmentBytes []byte

func newSegmentBuffer(params ...interface{}) rp.DataInterface {
	size := HeaderLength + MaxPayload
	if len(emptySegmentBytes) < size {
		emptySegmentBytes = make([]byte, size)
	}
	return &segmentBuffer{bytes: make([]byte, size)}
}

func (b *segmentBuffer) Reset() {
	copy(b.bytes, emptySegmentBytes)
	b.n = 0
}

func (b *segmentBuffer) Copy(src []byte) error {
	copy(b.bytes, src)
	b.n = len(src)
	return nil
}

func (b *segmentBuffer) GetSlice() []byte {
	return b.bytes[:b.n]
}

// PrintContent satisfies ringpool's lib.DataInterface.
func (b *segmentBuffer) PrintContent() {
	fmt.Printf("%x\n", b.GetSlice())
}

// segmentPool scopes a ringpool.RingPool to a single Endpoint value
// instead of the teacher's package-level `var Pool`, per spec.md §9's
// "no hidden process-wide state" design note.
type segmentPool struct {
	ring *rp.RingPool
}

func newSegmentPool(cfg *Config) *segmentPool {
	ring := rp.NewRingPool("rtp: ", cfg.PayloadPool, newSegmentBuffer, HeaderLength+MaxPayload)
	ring.Debug = cfg.PoolDebug
	return &segmentPool{ring: ring}
}

// get returns a scratch buffer sized to hold one whole segment,
// pre-filled with the contents of src.
func (p *segmentPool) get(src []byte) *rp.Element {
	el := p.ring.GetElement()
	_ = el.Data.(*segmentBuffer).Copy(src)
	return el
}

func (p *segmentPool) put(el *rp.Element) {
	p.ring.ReturnElement(el)
}
