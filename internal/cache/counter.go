package cache

import "sync"

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}

// Dec decrements the counter, never going below zero.
func (c *SafeCounter) Dec() {
	c.mu.Lock()
	if c.v > 0 {
		c.v--
	}
	c.mu.Unlock()
}
