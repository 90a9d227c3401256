package job

import "sync/atomic"

// Counters holds per-dispatcher aggregate gauges. Workers update them with
// atomics on every transition; observers read them without taking any lock
// the workers hold.
type Counters struct {
	pending   atomic.Int64
	running   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	aborted   atomic.Int64
}

// CounterSnapshot is a point-in-time read of the gauges.
type CounterSnapshot struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Aborted   int64 `json:"aborted"`
}

func (c *Counters) gauge(s Status) *atomic.Int64 {
	switch s {
	case StatusPending:
		return &c.pending
	case StatusRunning:
		return &c.running
	case StatusSucceeded:
		return &c.succeeded
	case StatusFailed:
		return &c.failed
	case StatusAborted:
		return &c.aborted
	}
	return nil
}

// Add records a job entering a status without leaving another (job creation).
func (c *Counters) Add(s Status) {
	if g := c.gauge(s); g != nil {
		g.Add(1)
	}
}

// Apply records a from -> to transition.
func (c *Counters) Apply(from, to Status) {
	if g := c.gauge(from); g != nil {
		g.Add(-1)
	}
	if g := c.gauge(to); g != nil {
		g.Add(1)
	}
}

// Snapshot reads all gauges. The values are individually atomic, not a
// consistent cut, which is fine for progress reporting.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Pending:   c.pending.Load(),
		Running:   c.running.Load(),
		Succeeded: c.succeeded.Load(),
		Failed:    c.failed.Load(),
		Aborted:   c.aborted.Load(),
	}
}
