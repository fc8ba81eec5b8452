package transport

import (
	"sort"
	"sync"
	"time"
)

// Stats holds the counters spec.md §6 requires exposing per
// connection. The latency histogram is a plain sorted-sample slice,
// grounded on original_source/collect_metrics.py / report_metrics.py
// which compute p95 the same way (sort, index at 95%) — no
// metrics/histogram library appears anywhere in the retrieval pack.
type Stats struct {
	mu sync.Mutex

	SegmentsSent     uint64
	SegmentsReceived uint64
	Retransmissions  uint64
	OutOfOrder       uint64
	DuplicatesDropped uint64
	ChecksumErrors   uint64
	BytesSent        uint64
	BytesReceived    uint64

	SRTT time.Duration
	RTO  time.Duration

	latencies []time.Duration
}

func newStats() *Stats {
	return &Stats{}
}

func (s *Stats) recordSend(n int) {
	s.mu.Lock()
	s.SegmentsSent++
	s.BytesSent += uint64(n)
	s.mu.Unlock()
}

func (s *Stats) recordReceive(n int) {
	s.mu.Lock()
	s.SegmentsReceived++
	s.BytesReceived += uint64(n)
	s.mu.Unlock()
}

func (s *Stats) recordRetransmission() {
	s.mu.Lock()
	s.Retransmissions++
	s.mu.Unlock()
}

func (s *Stats) recordOutOfOrder() {
	s.mu.Lock()
	s.OutOfOrder++
	s.mu.Unlock()
}

func (s *Stats) recordDuplicate() {
	s.mu.Lock()
	s.DuplicatesDropped++
	s.mu.Unlock()
}

func (s *Stats) recordChecksumError() {
	s.mu.Lock()
	s.ChecksumErrors++
	s.mu.Unlock()
}

func (s *Stats) recordLatency(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *Stats) updateRTT(srtt, rto time.Duration) {
	s.mu.Lock()
	s.SRTT = srtt
	s.RTO = rto
	s.mu.Unlock()
}

// Snapshot is an immutable copy of Stats plus derived percentiles,
// safe to read after the connection has moved on.
type Snapshot struct {
	Stats
	AvgLatency time.Duration
	P95Latency time.Duration
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Stats: Stats{
		SegmentsSent:      s.SegmentsSent,
		SegmentsReceived:  s.SegmentsReceived,
		Retransmissions:   s.Retransmissions,
		OutOfOrder:        s.OutOfOrder,
		DuplicatesDropped: s.DuplicatesDropped,
		ChecksumErrors:    s.ChecksumErrors,
		BytesSent:         s.BytesSent,
		BytesReceived:     s.BytesReceived,
		SRTT:              s.SRTT,
		RTO:               s.RTO,
	}}

	if len(s.latencies) == 0 {
		return snap
	}

	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	snap.AvgLatency = sum / time.Duration(len(sorted))

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	snap.P95Latency = sorted[idx]

	return snap
}
