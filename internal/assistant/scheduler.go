package assistant

import "sync"

// Scheduler places inbound audio chunks on the playback clock. Each chunk
// starts at max(now, cursor) and moves the cursor to its end, so chunks
// never overlap and never start in the past.
type Scheduler struct {
	mu     sync.Mutex
	cursor float64
}

// Schedule returns the start time of a chunk of the given duration
// arriving at now. Times are seconds on the playback clock.
func (s *Scheduler) Schedule(now, duration float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(now, s.cursor)
	s.cursor = start + duration
	return start
}

// Cursor returns the end of the last scheduled chunk.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Reset moves the cursor back to zero.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cursor = 0
	s.mu.Unlock()
}
