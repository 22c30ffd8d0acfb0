package server

import (
	"sort"
	"sync"
	"time"
)

// sequencer releases room messages in sequence order. A message that arrives
// ahead of a gap is held until the gap fills or the reorder window expires,
// whichever comes first. Messages older than the release point go out
// immediately.
type sequencer struct {
	window time.Duration

	mu      sync.Mutex
	next    int64 // 0 until seeded or the first message arrives
	pending map[int64]func()
	timer   *time.Timer
	stopped bool
}

func newSequencer(window time.Duration) *sequencer {
	return &sequencer{window: window, pending: map[int64]func(){}}
}

// seed sets the expected next sequence number if none is known yet.
func (s *sequencer) seed(next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == 0 {
		s.next = next
	}
}

// submit delivers seq's frames through deliver, in order. deliver runs under
// the sequencer lock and must not block.
func (s *sequencer) submit(seq int64, deliver func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.next == 0 {
		s.next = seq
	}
	switch {
	case seq < s.next:
		deliver()
	case seq == s.next:
		deliver()
		s.next++
		s.drainLocked()
	default:
		s.pending[seq] = deliver
		if s.timer == nil && s.window > 0 {
			s.timer = time.AfterFunc(s.window, s.flush)
		}
		if s.window <= 0 {
			s.flushLocked()
		}
	}
}

func (s *sequencer) drainLocked() {
	for {
		deliver, ok := s.pending[s.next]
		if !ok {
			break
		}
		delete(s.pending, s.next)
		deliver()
		s.next++
	}
	if len(s.pending) == 0 && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// flush gives up on the gap and releases everything held.
func (s *sequencer) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	if !s.stopped {
		s.flushLocked()
	}
}

func (s *sequencer) flushLocked() {
	if len(s.pending) == 0 {
		return
	}
	seqs := make([]int64, 0, len(s.pending))
	for seq := range s.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		s.pending[seq]()
		delete(s.pending, seq)
	}
	s.next = seqs[len(seqs)-1] + 1
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *sequencer) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = map[int64]func(){}
}
