package cookie

import "sync"

// Allocator hands out transfer cookies. Cookie 0 is reserved and is skipped
// when the counter wraps.
type Allocator struct {
	next uint64
	last uint64
	mu   sync.Mutex
}

// NewAllocator creates an allocator whose first cookie is start (1 when start is 0).
func NewAllocator(start uint64) *Allocator {
	if start == 0 {
		start = 1
	}
	return &Allocator{next: start}
}

// Next returns a new cookie.
func (a *Allocator) Next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next == 0 {
		a.next = 1
	}
	c := a.next
	a.next++
	a.last = c
	return c
}

// Last returns the most recently allocated cookie, or 0 before the first one.
func (a *Allocator) Last() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
