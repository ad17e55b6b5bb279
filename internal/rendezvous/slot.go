package rendezvous

import "sync"

// slot is a single-capacity mailbox. A store unconditionally replaces whatever
// is in the slot, read or not, so consumers only ever see the latest value.
type slot struct {
	mu   sync.Mutex
	data []byte
	// ready is signalled (without blocking) on every store.
	ready chan struct{}
}

func newSlot() *slot {
	return &slot{ready: make(chan struct{}, 1)}
}

// store copies b into the slot, overwriting any previous value.
func (s *slot) store(b []byte) {
	s.mu.Lock()
	s.data = append(s.data[:0], b...)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// take returns a copy of the slot's contents and empties it. The second return
// value is false when the slot held nothing.
func (s *slot) take() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) == 0 {
		return nil, false
	}
	b := make([]byte, len(s.data))
	copy(b, s.data)
	s.data = s.data[:0]
	return b, true
}

// clear drops any unread value and any outstanding ready signal.
func (s *slot) clear() {
	s.mu.Lock()
	s.data = s.data[:0]
	s.mu.Unlock()

	select {
	case <-s.ready:
	default:
	}
}
