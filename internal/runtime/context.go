// Package runtime holds process-wide state that outlives market sessions:
// the active market, session counters and aggregate P&L.
package runtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polysnipe/internal/domain"
)

// Snapshot is a copy of the process state for status reporting.
type Snapshot struct {
	SessionID     string
	StartedAt     time.Time
	DryRun        bool
	Active        *domain.Market
	Sessions      int
	Skipped       int
	Failed        int
	CumulativePnL float64
	LastResult    *domain.MarketResult
}

// Context is created once per process and closed on shutdown.
type Context struct {
	id        string
	startedAt time.Time
	dryRun    bool

	mu         sync.RWMutex
	active     *domain.Market
	sessions   int
	skipped    int
	failed     int
	pnl        float64
	lastResult *domain.MarketResult
	closed     bool
}

// New creates a process context with a fresh session id.
func New(dryRun bool, now time.Time) *Context {
	return &Context{
		id:        uuid.NewString(),
		startedAt: now,
		dryRun:    dryRun,
	}
}

// ID identifies this process run in logs and records.
func (c *Context) ID() string { return c.id }

// DryRun reports whether venue submissions are suppressed.
func (c *Context) DryRun() bool { return c.dryRun }

// Begin marks m as the active market.
func (c *Context) Begin(m domain.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = &m
	c.sessions++
}

// End clears the active market if it is m.
func (c *Context) End(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.ID == marketID {
		c.active = nil
	}
}

// Skip counts a market that was never traded.
func (c *Context) Skip() {
	c.mu.Lock()
	c.skipped++
	c.mu.Unlock()
}

// Fail counts a session that ended in error.
func (c *Context) Fail() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

// Book adds a resolved market's realized P&L to the running total and
// returns the new total.
func (c *Context) Book(r domain.MarketResult) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pnl += r.RealizedPnL
	c.lastResult = &r
	return c.pnl
}

// Restore seeds the running total, e.g. from the result store at startup.
func (c *Context) Restore(pnl float64) {
	c.mu.Lock()
	c.pnl = pnl
	c.mu.Unlock()
}

// CumulativePnL is the realized P&L of every resolved market.
func (c *Context) CumulativePnL() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pnl
}

// Snapshot copies the current state.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		SessionID:     c.id,
		StartedAt:     c.startedAt,
		DryRun:        c.dryRun,
		Sessions:      c.sessions,
		Skipped:       c.skipped,
		Failed:        c.failed,
		CumulativePnL: c.pnl,
	}
	if c.active != nil {
		m := *c.active
		s.Active = &m
	}
	if c.lastResult != nil {
		r := *c.lastResult
		s.LastResult = &r
	}
	return s
}

// Close marks the context finished; later calls report false.
func (c *Context) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.active = nil
	return true
}
