package transport

// receiver is the per-connection receiver (spec.md §3 receiver state,
// §4.4). Grounded on selectiveArq.go's ackedBitmap draining loop,
// generalized to cumulative-only acks (no SACK) per spec.md §4.4.
type receiver struct {
	cfg *Config

	rcvNxt  uint32 // next seq expected to be delivered
	reorder *reorderBuffer
}

func newReceiver(cfg *Config, initialSeq uint32) *receiver {
	return &receiver{
		cfg:     cfg,
		rcvNxt:  initialSeq,
		reorder: newReorderBuffer(),
	}
}

func (r *receiver) rcvWnd() uint16 {
	return uint16(int(r.cfg.RcvWndCap) - r.reorder.len())
}

// deliverable is the outcome of feeding one segment to the receiver.
type deliverable struct {
	inOrder     []segmentEnvelope // entries now ready for delivery, in order
	duplicate   bool
	outOfOrder  bool
	outOfWindow bool
}

// accept implements spec.md §4.4's four-way split on the incoming
// sequence number relative to rcvNxt.
func (r *receiver) accept(seq uint32, entry segmentEnvelope) deliverable {
	var out deliverable

	switch {
	case seq == r.rcvNxt:
		out.inOrder = append(out.inOrder, entry)
		r.rcvNxt++
		for {
			next, ok := r.reorder.takeNext(r.rcvNxt)
			if !ok {
				break
			}
			out.inOrder = append(out.inOrder, next)
			r.rcvNxt++
		}

	case seqGreater(seq, r.rcvNxt) && seqGreater(r.rcvNxt+r.cfg.RcvWndCap, seq):
		if r.reorder.has(seq) {
			out.duplicate = true
		} else {
			r.reorder.insert(seq, entry)
			out.outOfOrder = true
		}

	case seqGreater(r.rcvNxt, seq):
		out.duplicate = true

	default:
		out.outOfWindow = true
	}

	return out
}
