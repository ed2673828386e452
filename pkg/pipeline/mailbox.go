package pipeline

import "sync"

// mailbox holds the most recent jump target. A newer target replaces the
// pending one.
type mailbox struct {
	mu      sync.Mutex
	pending *int
	signal  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) put(target int) {
	m.mu.Lock()
	m.pending = &target
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return 0, false
	}
	target := *m.pending
	m.pending = nil
	return target, true
}

func (m *mailbox) waiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}
