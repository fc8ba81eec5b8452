package chat

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/corvid-systems/rtp/transport"
)

// SnapshotSource is anything that can report a point-in-time view of
// its connections' transport stats — implemented by *Server, kept as
// an interface so MetricsReporter never has to import chat's server
// internals (only the transport.Snapshot values it publishes).
type SnapshotSource interface {
	Snapshot() map[uint32]transport.Snapshot
}

// MetricsReporter periodically prints the derived metrics
// collect_metrics.py/report_metrics.py compute after a run: goodput,
// retransmissions per KB, out-of-order percentage, and average/p95
// message latency. There is no metrics/histogram library anywhere in
// the retrieval pack, so — like transport/stats.go — this stays on a
// manual sort for the percentile rather than reaching for one.
type MetricsReporter struct {
	source   SnapshotSource
	interval time.Duration
	log      *log.Logger

	stop chan struct{}
}

// NewMetricsReporter builds a reporter that samples source every
// interval.
func NewMetricsReporter(source SnapshotSource, interval time.Duration) *MetricsReporter {
	return &MetricsReporter{
		source:   source,
		interval: interval,
		log:      log.New(os.Stderr, "metrics: ", log.LstdFlags),
		stop:     make(chan struct{}),
	}
}

// SetLogger overrides the reporter's output logger.
func (r *MetricsReporter) SetLogger(l *log.Logger) { r.log = l }

// Run blocks, printing a report every interval until Stop is called.
func (r *MetricsReporter) Run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.report()
		case <-r.stop:
			return
		}
	}
}

// Stop ends the reporting loop.
func (r *MetricsReporter) Stop() {
	close(r.stop)
}

func (r *MetricsReporter) report() {
	snaps := r.source.Snapshot()
	if len(snaps) == 0 {
		return
	}

	var totalSent, totalRecv, totalRetrans, totalOOO, totalChecksumErr uint64
	var totalBytesSent, totalBytesRecv uint64
	var worstP95 time.Duration
	var avgSum time.Duration
	var avgCount int

	for _, snap := range snaps {
		totalSent += snap.SegmentsSent
		totalRecv += snap.SegmentsReceived
		totalRetrans += snap.Retransmissions
		totalOOO += snap.OutOfOrder
		totalChecksumErr += snap.ChecksumErrors
		totalBytesSent += snap.BytesSent
		totalBytesRecv += snap.BytesReceived
		if snap.P95Latency > worstP95 {
			worstP95 = snap.P95Latency
		}
		if snap.AvgLatency > 0 {
			avgSum += snap.AvgLatency
			avgCount++
		}
	}

	var avgLatency time.Duration
	if avgCount > 0 {
		avgLatency = avgSum / time.Duration(avgCount)
	}

	var retransPerKB float64
	if totalBytesSent > 0 {
		retransPerKB = float64(totalRetrans) / (float64(totalBytesSent) / 1024)
	}
	var oooPct float64
	if totalRecv > 0 {
		oooPct = float64(totalOOO) / float64(totalRecv) * 100
	}
	goodput := float64(totalRecv) / r.interval.Seconds()

	r.log.Println(fmt.Sprintf(
		"connections=%d segments_sent=%d segments_recv=%d bytes_sent=%d bytes_recv=%d "+
			"goodput=%.2fmsg/s retrans_per_kb=%.4f out_of_order=%.2f%% checksum_errors=%d "+
			"avg_latency=%s p95_latency=%s",
		len(snaps), totalSent, totalRecv, totalBytesSent, totalBytesRecv,
		goodput, retransPerKB, oooPct, totalChecksumErr,
		avgLatency, worstP95,
	))
}
