package worker

import (
	"sync/atomic"
	"time"
)

// Stats counts what happened to every delivered entry. The health
// checker reads it to detect a stalled consumer.
type Stats struct {
	received        atomic.Uint64
	processed       atomic.Uint64
	ignored         atomic.Uint64
	failed          atomic.Uint64
	lastProcessedAt atomic.Int64 // unix nanos, 0 until the first success
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) IncReceived()  { s.received.Add(1) }
func (s *Stats) IncIgnored()   { s.ignored.Add(1) }
func (s *Stats) IncFailed()    { s.failed.Add(1) }

func (s *Stats) IncProcessed() {
	s.processed.Add(1)
	s.lastProcessedAt.Store(time.Now().UnixNano())
}

func (s *Stats) Received() uint64  { return s.received.Load() }
func (s *Stats) Processed() uint64 { return s.processed.Load() }
func (s *Stats) Ignored() uint64   { return s.ignored.Load() }
func (s *Stats) Failed() uint64    { return s.failed.Load() }

func (s *Stats) LastProcessedAt() time.Time {
	nanos := s.lastProcessedAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
