package transport

import "github.com/google/btree"

// segmentEnvelope is what the receiver buffers and drains: an
// application payload, or an empty FIN marker that consumes a
// sequence number the same way a DATA segment does (spec.md §4.3
// "FIN ... is treated exactly like a DATA segment").
type segmentEnvelope struct {
	payload []byte
	fin     bool
}

type reorderEntry struct {
	seq   uint32
	entry segmentEnvelope
}

func (e *reorderEntry) Less(than btree.Item) bool {
	return e.seq < than.(*reorderEntry).seq
}

// reorderBuffer holds out-of-order segments in
// [rcv_nxt+1, rcv_nxt+RCV_WND) (spec.md §3 invariant 4). Grounded on
// selectiveArq.go's ackedBitmap, generalized from a fixed bitmap to a
// btree so the window bound is a config value, not a compile-time
// array size.
type reorderBuffer struct {
	tree *btree.BTree
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{tree: btree.New(8)}
}

func (b *reorderBuffer) len() int {
	return b.tree.Len()
}

func (b *reorderBuffer) has(seq uint32) bool {
	return b.tree.Get(&reorderEntry{seq: seq}) != nil
}

func (b *reorderBuffer) insert(seq uint32, entry segmentEnvelope) {
	b.tree.ReplaceOrInsert(&reorderEntry{seq: seq, entry: entry})
}

// takeNext pops the entry for seq if present, for draining a
// contiguous run starting at rcv_nxt+1.
func (b *reorderBuffer) takeNext(seq uint32) (segmentEnvelope, bool) {
	item := b.tree.Delete(&reorderEntry{seq: seq})
	if item == nil {
		return segmentEnvelope{}, false
	}
	return item.(*reorderEntry).entry, true
}
