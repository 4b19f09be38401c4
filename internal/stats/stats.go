// Package stats holds the coordinator's aggregate delivery statistics and the
// point-in-time snapshots derived from them.
package stats

import (
	"math"
	"time"

	"github.com/dreamware/smsalert/internal/protocol"
)

// Stats accumulates completion reports. The zero value is ready to use.
// Counters only ever grow; Fold is the only mutator.
type Stats struct {
	TotalLatency time.Duration // Sum of latencies of successful sends
	Sent         int           // Successful sends
	Failed       int           // Failed sends
}

// MaxTotalLatency is where TotalLatency saturates. It is the largest whole
// millisecond count a Duration can hold, so it always reports as a valid
// total_time.
const MaxTotalLatency = time.Duration(math.MaxInt64/int64(time.Millisecond)) * time.Millisecond

// Fold adds one completion report.
// Latency is only accumulated for successful sends, and the total
// saturates at MaxTotalLatency instead of wrapping.
func (s *Stats) Fold(success bool, latency time.Duration) {
	if !success {
		s.Failed++
		return
	}
	s.Sent++
	if latency <= 0 {
		return
	}
	if latency > MaxTotalLatency-s.TotalLatency {
		s.TotalLatency = MaxTotalLatency
		return
	}
	s.TotalLatency += latency
}

// Folded returns the number of completion reports folded so far.
func (s Stats) Folded() int {
	return s.Sent + s.Failed
}

// Snapshot copies the counters and derives the average latency.
func (s Stats) Snapshot() Snapshot {
	return Snapshot{
		Sent:           s.Sent,
		Failed:         s.Failed,
		TotalLatency:   s.TotalLatency,
		AverageLatency: Average(s.TotalLatency, s.Sent),
	}
}

// Snapshot is a point-in-time copy of Stats plus the derived average.
type Snapshot struct {
	TotalLatency   time.Duration
	AverageLatency time.Duration
	Sent           int
	Failed         int
}

// Report converts the snapshot into the coordinator's status document.
func (s Snapshot) Report() protocol.StatusReport {
	return protocol.StatusReport{
		NumSent:   s.Sent,
		NumFail:   s.Failed,
		TotalTime: s.TotalLatency.Milliseconds(),
	}
}

// FromReport rebuilds a snapshot on the receiving side of a status document.
func FromReport(r protocol.StatusReport) Snapshot {
	total := r.Total()
	return Snapshot{
		Sent:           r.NumSent,
		Failed:         r.NumFail,
		TotalLatency:   total,
		AverageLatency: Average(total, r.NumSent),
	}
}

// Average divides total by sent in whole milliseconds, truncating.
// It is zero when nothing was sent.
//
//	Average(100*time.Millisecond, 3) == 33*time.Millisecond
func Average(total time.Duration, sent int) time.Duration {
	if sent <= 0 {
		return 0
	}
	return time.Duration(total.Milliseconds()/int64(sent)) * time.Millisecond
}
