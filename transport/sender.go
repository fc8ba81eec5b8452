package transport

import (
	"time"
)

// sender is the per-connection Go-Back-N sender (spec.md §3 sender
// state, §4.2). Grounded on goBackNArq.go's writeQueuedSegments /
// queueTimedOutSegmentsForWrite, generalized to carry an RTT
// estimator and a config-driven window instead of a hardcoded 20.
type sender struct {
	cfg *Config
	rtt *rttEstimator

	sndUna uint32 // oldest unacknowledged seq
	sndNxt uint32 // next seq to assign
	sndWnd uint32 // effective window = min(cfg.MaxWindow, peer advertised win)

	inflight *inflightBuffer

	transmit func(seg Segment) error
	onSample func(time.Duration)
}

func newSender(cfg *Config, initialSeq uint32, transmit func(seg Segment) error) *sender {
	return &sender{
		cfg:      cfg,
		rtt:      newRTTEstimator(cfg),
		sndUna:   initialSeq,
		sndNxt:   initialSeq,
		sndWnd:   cfg.MaxWindow,
		inflight: newInflightBuffer(),
		transmit: transmit,
	}
}

func (s *sender) inFlightCount() uint32 {
	return s.sndNxt - s.sndUna
}

// sendMsg appends a new segment and transmits it immediately. It
// returns ErrWouldBlock if the send window is full (spec.md §4.2).
func (s *sender) sendMsg(flags Flags, connID uint32, payload []byte) (uint32, error) {
	if s.inFlightCount() >= s.sndWnd {
		return 0, ErrWouldBlock
	}

	seq := s.sndNxt
	s.sndNxt++

	segFlags := flags | FlagDATA
	now := time.Now()
	s.inflight.insert(&inflightEntry{
		seq:       seq,
		flags:     segFlags,
		payload:   payload,
		firstSend: now,
		lastSend:  now,
	})

	seg := Segment{Flags: segFlags, ConnID: connID, Seq: seq, Win: uint16(s.cfg.RcvWndCap)}
	seg.Payload = payload
	if err := s.transmit(seg); err != nil {
		return seq, err
	}
	return seq, nil
}

// onAck applies a cumulative ACK: every in-flight entry with
// seq < ack is acknowledged and removed; per Karn's rule, only
// entries that were never retransmitted contribute an RTT sample
// (spec.md §4.2 on_ack).
func (s *sender) onAck(ack uint32, peerWin uint16) (acked bool) {
	if uint32(peerWin) < s.cfg.MaxWindow {
		s.sndWnd = uint32(peerWin)
	} else {
		s.sndWnd = s.cfg.MaxWindow
	}

	if !seqGreater(ack, s.sndUna) {
		return false
	}

	now := time.Now()
	for _, e := range s.inflight.removeBelow(ack) {
		if e.retransmit == 0 {
			sample := now.Sub(e.firstSend)
			s.rtt.sample(sample)
			if s.onSample != nil {
				s.onSample(sample)
			}
		}
	}
	s.sndUna = ack
	return true
}

// onTimeout retransmits every in-flight segment in seq order
// (Go-Back-N), doubles the RTO, and reports whether any entry has now
// exceeded MaxRetries and must abort the connection (spec.md §4.2
// on_timeout).
func (s *sender) onTimeout(connID uint32) (aborted bool) {
	now := time.Now()
	s.inflight.ascend(func(e *inflightEntry) {
		e.lastSend = now
		e.retransmit++
		if e.retransmit > s.cfg.MaxRetries {
			aborted = true
			return
		}
		seg := Segment{Flags: e.flags, ConnID: connID, Seq: e.seq, Win: uint16(s.cfg.RcvWndCap), Payload: e.payload}
		_ = s.transmit(seg)
	})
	s.rtt.backoff()
	return aborted
}

func (s *sender) hasInFlight() bool {
	return s.inflight.len() > 0
}

func (s *sender) rto() time.Duration {
	return s.rtt.currentRTO()
}
