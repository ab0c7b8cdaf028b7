package transport

import "sync"

// Sequencer hands out per-target sequence numbers. The first number for a
// target is 1 and the counter wraps from 255 to 0.
type Sequencer struct {
	mu   sync.Mutex
	next map[string]uint8
}

// NewSequencer returns an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{next: make(map[string]uint8)}
}

// Next returns the next sequence number for serial.
func (s *Sequencer) Next(serial string) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[serial]++
	return s.next[serial]
}

// Forget drops the counter for serial.
func (s *Sequencer) Forget(serial string) {
	s.mu.Lock()
	delete(s.next, serial)
	s.mu.Unlock()
}
