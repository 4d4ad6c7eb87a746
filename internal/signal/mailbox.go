package signal

import (
	"sync"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Mailbox is a single-slot, latest-wins hand-off between the ingest
// goroutine and the snipe dispatcher. A newer signal overwrites one that
// has not been taken yet.
type Mailbox struct {
	mu      sync.Mutex
	slot    domain.Signal
	full    bool
	dropped uint64
	ready   chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put stores s, replacing any untaken signal.
func (m *Mailbox) Put(s domain.Signal) {
	m.mu.Lock()
	if m.full {
		m.dropped++
	}
	m.slot = s
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready fires after Put; follow it with Take.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Take removes and returns the latest signal.
func (m *Mailbox) Take() (domain.Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return domain.Signal{}, false
	}
	m.full = false
	return m.slot, true
}

// Dropped counts signals overwritten before they were taken.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
