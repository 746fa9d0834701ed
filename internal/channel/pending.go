package channel

import (
	"time"

	"github.com/GriffinCanCode/podfs/internal/protocol"
)

// call is the continuation of one outstanding command.
type call struct {
	verb    protocol.Verb
	started time.Time
	done    chan outcome
}

type outcome struct {
	res *protocol.Result
	err error
}

// register adds a pending call. Callers hold writeMu so the entry exists
// before its request line can reach the remote side.
func (c *Channel) register(ticket uint64, pc *call) {
	c.pendingMu.Lock()
	c.pending[ticket] = pc
	c.pendingMu.Unlock()
	c.metrics.AddPending(1)
}

// take removes and returns the pending call for ticket, or nil.
func (c *Channel) take(ticket uint64) *call {
	c.pendingMu.Lock()
	pc, ok := c.pending[ticket]
	if ok {
		delete(c.pending, ticket)
	}
	c.pendingMu.Unlock()
	if ok {
		c.metrics.AddPending(-1)
	}
	return pc
}

// failAll resolves every pending call with err.
func (c *Channel) failAll(err error) int {
	c.pendingMu.Lock()
	calls := c.pending
	c.pending = make(map[uint64]*call)
	c.pendingMu.Unlock()

	for _, pc := range calls {
		pc.done <- outcome{err: err}
	}
	c.metrics.AddPending(-len(calls))
	return len(calls)
}

// Pending returns the number of calls awaiting a result.
func (c *Channel) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Reap fails pending calls older than maxAge with ErrAbandoned and returns
// how many were removed. It clears entries whose callers passed no deadline
// and whose request was lost with a dropped transport.
func (c *Channel) Reap(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	c.pendingMu.Lock()
	var stale []*call
	for ticket, pc := range c.pending {
		if pc.started.Before(cutoff) {
			stale = append(stale, pc)
			delete(c.pending, ticket)
		}
	}
	c.pendingMu.Unlock()

	for _, pc := range stale {
		pc.done <- outcome{err: ErrAbandoned}
	}
	c.metrics.AddPending(-len(stale))
	return len(stale)
}
