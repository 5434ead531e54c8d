package relay

import "sync/atomic"

// Stats aggregates transfer counters across all relays sharing it. All methods
// are safe for arbitrary concurrent callers.
type Stats struct {
	bytesUp   atomic.Int64
	bytesDown atomic.Int64
	active    atomic.Int64
	total     atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BytesUp   int64
	BytesDown int64
	Active    int
	Total     int
}

func NewStats() *Stats {
	return &Stats{}
}

// RecordUp adds n client-to-remote bytes.
func (s *Stats) RecordUp(n int64) {
	s.bytesUp.Add(n)
}

// RecordDown adds n remote-to-client bytes.
func (s *Stats) RecordDown(n int64) {
	s.bytesDown.Add(n)
}

func (s *Stats) relayStarted() {
	s.active.Add(1)
	s.total.Add(1)
}

func (s *Stats) relayEnded() {
	s.active.Add(-1)
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BytesUp:   s.bytesUp.Load(),
		BytesDown: s.bytesDown.Load(),
		Active:    int(s.active.Load()),
		Total:     int(s.total.Load()),
	}
}

// Reset zeroes the cumulative counters. The active count reflects live relays
// rather than history and is left untouched.
func (s *Stats) Reset() {
	s.bytesUp.Store(0)
	s.bytesDown.Store(0)
	s.total.Store(0)
}
