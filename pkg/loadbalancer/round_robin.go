package loadbalancer

import "sync/atomic"

// roundRobinCounter is an atomic counter scoped to one service.
type roundRobinCounter struct {
	counter uint64
}

func (c *roundRobinCounter) next(n int) int {
	if n == 0 {
		return 0
	}
	return int(atomic.AddUint64(&c.counter, 1)-1) % n
}
