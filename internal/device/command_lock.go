package device

import (
	"slices"
	"sync"
)

// commandLocks serialises commands per device id. A command holds the lock
// of every device it addresses from frame building until its state is
// applied, so two commands for one device never interleave.
type commandLocks struct {
	mu    sync.Mutex
	locks map[string]*commandLock
}

type commandLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the lock of every id, in sorted order so overlapping
// batches cannot deadlock, and returns the matching unlock.
func (c *commandLocks) lock(ids ...string) func() {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*commandLock, len(ids))
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*commandLock)
	}
	for i, id := range ids {
		l := c.locks[id]
		if l == nil {
			l = &commandLock{}
			c.locks[id] = l
		}
		l.refs++
		held[i] = l
	}
	c.mu.Unlock()

	for _, l := range held {
		l.mu.Lock()
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		c.mu.Lock()
		for i, id := range ids {
			if held[i].refs--; held[i].refs == 0 {
				delete(c.locks, id)
			}
		}
		c.mu.Unlock()
	}
}
