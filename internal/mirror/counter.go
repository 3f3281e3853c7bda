package mirror

import "sync/atomic"

// Counter counts mirrors that answered a probe.  It is shared by the
// workers of the concurrent strategy and its cutoff watcher.
type Counter struct {
	n atomic.Int64
}

// Increment adds one and returns the new value.
func (c *Counter) Increment() int64 {
	return c.n.Add(1)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
