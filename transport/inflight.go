package transport

import (
	"time"

	"github.com/google/btree"
)

// inflightEntry is one unacknowledged segment (spec.md §3 "in-flight
// buffer holding (payload, first-send time, last-send time,
// retransmit count)").
type inflightEntry struct {
	seq        uint32
	flags      Flags
	payload    []byte
	firstSend  time.Time
	lastSend   time.Time
	retransmit int
}

func (e *inflightEntry) Less(than btree.Item) bool {
	return e.seq < than.(*inflightEntry).seq
}

// inflightBuffer is the sender's ordered-by-sequence-number store.
// Grounded on ringBufferSnd.go's fixed ring, generalized to a btree
// since the endpoint multiplexes many connections and each window is
// tiny (spec.md [DOMAIN STACK]).
type inflightBuffer struct {
	tree *btree.BTree
}

func newInflightBuffer() *inflightBuffer {
	return &inflightBuffer{tree: btree.New(8)}
}

func (b *inflightBuffer) len() int {
	return b.tree.Len()
}

func (b *inflightBuffer) insert(e *inflightEntry) {
	b.tree.ReplaceOrInsert(e)
}

func (b *inflightBuffer) get(seq uint32) *inflightEntry {
	item := b.tree.Get(&inflightEntry{seq: seq})
	if item == nil {
		return nil
	}
	return item.(*inflightEntry)
}

func (b *inflightBuffer) remove(seq uint32) *inflightEntry {
	item := b.tree.Delete(&inflightEntry{seq: seq})
	if item == nil {
		return nil
	}
	return item.(*inflightEntry)
}

// removeBelow deletes and returns every entry with seq < ack, in
// ascending seq order.
func (b *inflightBuffer) removeBelow(ack uint32) []*inflightEntry {
	var removed []*inflightEntry
	var toDelete []uint32
	b.tree.Ascend(func(item btree.Item) bool {
		e := item.(*inflightEntry)
		if seqGreater(ack, e.seq) {
			toDelete = append(toDelete, e.seq)
			return true
		}
		return false
	})
	for _, seq := range toDelete {
		if e := b.remove(seq); e != nil {
			removed = append(removed, e)
		}
	}
	return removed
}

// ascend visits every in-flight entry in ascending sequence order,
// the order Go-Back-N must retransmit in (spec.md §4.2 on_timeout).
func (b *inflightBuffer) ascend(fn func(*inflightEntry)) {
	b.tree.Ascend(func(item btree.Item) bool {
		fn(item.(*inflightEntry))
		return true
	})
}
