package cache

import "sync/atomic"

// atomicCounter is a tiny wrapper so Stage doesn't need to name atomic.Uint64
// fields directly at every call site.
type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) add(n uint64) { c.v.Add(n) }
func (c *atomicCounter) load() uint64 { return c.v.Load() }
